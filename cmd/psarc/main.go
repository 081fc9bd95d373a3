package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/archivekit/psarc/pkg/logging"
	"github.com/archivekit/psarc/pkg/psarc/archive"
	"github.com/archivekit/psarc/pkg/psarc/enumerate"
	"github.com/archivekit/psarc/pkg/psarcerr"
	"github.com/archivekit/psarc/pkg/report"
)

const appName = "psarc"

// exitCodeError carries a specific process exit code up to main. Extract
// uses it to signal partial success (code 2) distinctly from fatal errors.
type exitCodeError struct {
	code int
	msg  string
}

func (e *exitCodeError) Error() string { return e.msg }

// Flag storage. The declared values double as the defaults for the
// subcommands that do not register the flag at all.
var (
	logLevel     string
	outputFormat string

	codecName     = "store"
	blockSize     = uint32(archive.DefaultBlockSize)
	level         = archive.LevelDefault
	extreme       bool
	ignoreCase    bool
	absolutePaths bool
	sourceDir     string
	targetDir     string
	recursive     bool
	trimPaths     bool
	overwrite     bool
	skipExisting  bool
	numThreads    int
)

func version() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

func newSink(format string) (report.Sink, error) {
	switch format {
	case "", "standard":
		return report.NewStandardSink(os.Stdout), nil
	case "json":
		return report.NewJSONSink(os.Stdout), nil
	case "csv":
		return report.NewCSVSink(os.Stdout), nil
	case "xml":
		return report.NewXMLSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown output format %q (standard, json, csv, xml)", format)
	}
}

func buildOptions() (archive.Options, error) {
	opts := archive.DefaultOptions()

	codec, err := archive.ParseCodec(codecName)
	if err != nil {
		return opts, err
	}
	if blockSize == 0 {
		return opts, fmt.Errorf("block size must be greater than 0")
	}
	if level != archive.LevelDefault {
		if codec == archive.CodecStore {
			return opts, fmt.Errorf("compression level is not valid with the store codec")
		}
		if level < 0 || level > 9 {
			return opts, fmt.Errorf("compression level must be between 0 and 9")
		}
		if level == 0 && codec != archive.CodecLzma2 {
			return opts, fmt.Errorf("compression level 0 is only valid with the lzma codec")
		}
	}
	if extreme && codec != archive.CodecLzma2 {
		return opts, fmt.Errorf("--extreme is only valid with the lzma codec")
	}

	opts.Codec = codec
	opts.BlockSize = blockSize
	opts.Level = level
	opts.Extreme = extreme
	opts.IgnoreCase = ignoreCase
	opts.AbsolutePaths = absolutePaths
	opts.SourceDir = sourceDir
	opts.TargetDir = targetDir
	opts.Recursive = recursive
	opts.TrimPaths = trimPaths
	opts.Overwrite = overwrite
	opts.SkipExisting = skipExisting
	opts.NumThreads = numThreads
	opts.Logger = logging.NewLogger(appName, logLevel, os.Stderr)
	return opts, nil
}

func runCreate(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	sink, err := newSink(outputFormat)
	if err != nil {
		return err
	}

	e := enumerate.New(opts.SourceDir)
	for _, pattern := range args[1:] {
		if err := e.AddPattern(pattern, enumerate.Flags{
			Recursive:       opts.Recursive,
			CaseInsensitive: opts.IgnoreCase,
		}); err != nil {
			return err
		}
	}
	if len(e.Files()) == 0 {
		return fmt.Errorf("no matching files found to create an archive: %w", psarcerr.ErrNoInputs)
	}

	return archive.Create(args[0], e.Files(), opts, sink)
}

func runExtract(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	sink, err := newSink(outputFormat)
	if err != nil {
		return err
	}

	r, err := archive.Open(args[0], opts.Logger)
	if err != nil {
		return err
	}
	defer r.Close()

	failed, err := r.Extract(args[1:], opts, sink)
	if err != nil {
		return err
	}
	if failed > 0 {
		return &exitCodeError{code: 2, msg: fmt.Sprintf("%d entries failed to extract", failed)}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	sink, err := newSink(outputFormat)
	if err != nil {
		return err
	}

	r, err := archive.Open(args[0], opts.Logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.List(sink)
}

func runInfo(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions()
	if err != nil {
		return err
	}
	sink, err := newSink(outputFormat)
	if err != nil {
		return err
	}

	r, err := archive.Open(args[0], opts.Logger)
	if err != nil {
		return err
	}
	defer r.Close()
	return r.Info(sink)
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Pack, list, inspect, and extract PSARC archives",
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&outputFormat, "output-format", "o", "standard", "Report format (standard, json, csv, xml)")

	createCmd := &cobra.Command{
		Use:   "create <archive> <pattern>...",
		Short: "Create an archive from files matching the given patterns",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCreate,
	}
	createCmd.Flags().StringVar(&codecName, "codec", "store", "Compression codec (store, zlib, lzma)")
	createCmd.Flags().Uint32Var(&blockSize, "block-size", archive.DefaultBlockSize, "Block size in bytes")
	createCmd.Flags().IntVar(&level, "level", archive.LevelDefault, "Compression level (0-9; 0 only valid for lzma)")
	createCmd.Flags().BoolVar(&extreme, "extreme", false, "Use the extreme preset variant (lzma only)")
	createCmd.Flags().BoolVar(&ignoreCase, "ignore-case", false, "Case-insensitive pattern matching and path flag")
	createCmd.Flags().BoolVar(&absolutePaths, "absolute-paths", false, "Store absolute paths in the archive")
	createCmd.Flags().StringVar(&sourceDir, "source-dir", "", "Base directory for input patterns")
	createCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Recurse into matched directories")
	createCmd.Flags().BoolVar(&trimPaths, "trim-path", false, "Store basenames only")
	createCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing archive")
	createCmd.Flags().IntVar(&numThreads, "threads", archive.DefaultOptions().NumThreads, "Worker threads (0 compresses synchronously)")

	extractCmd := &cobra.Command{
		Use:   "extract <archive> [name]...",
		Short: "Extract entries (all entries when no names are given)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExtract,
	}
	extractCmd.Flags().StringVar(&targetDir, "target-dir", "", "Directory to extract into")
	extractCmd.Flags().BoolVar(&trimPaths, "trim-path", false, "Extract to basenames only")
	extractCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing files")
	extractCmd.Flags().BoolVar(&skipExisting, "skip-existing-files", false, "Skip entries whose output file exists")

	listCmd := &cobra.Command{
		Use:   "list <archive>",
		Short: "List the entries of an archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runList,
	}
	infoCmd := &cobra.Command{
		Use:   "info <archive>",
		Short: "Summarise an archive: totals, physical size, codec",
		Args:  cobra.ExactArgs(1),
		RunE:  runInfo,
	}

	root.AddCommand(createCmd, extractCmd, listCmd, infoCmd)
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		if ec, ok := err.(*exitCodeError); ok {
			os.Exit(ec.code)
		}
		os.Exit(1)
	}
}
