package archive

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/archivekit/psarc/pkg/psarc/container"
)

func writeTree(t *testing.T, dir string, files map[string][]byte) []string {
	t.Helper()
	names := make([]string, 0, len(files))
	for name, data := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, data, 0o644); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	return names
}

func testFiles() map[string][]byte {
	rng := rand.New(rand.NewSource(42))
	random := make([]byte, 150000)
	rng.Read(random)

	return map[string][]byte{
		"hello.txt":      []byte("hello\n"),
		"empty.bin":      {},
		"zeros.bin":      bytes.Repeat([]byte{0}, 200000),
		"random.bin":     random,
		"sub/nested.txt": bytes.Repeat([]byte("nested data "), 5000),
	}
}

func TestRoundTrip(t *testing.T) {
	files := testFiles()

	for _, codec := range []Codec{CodecStore, CodecZlib, CodecLzma2} {
		for _, blockSize := range []uint32{1024, 65536} {
			t.Run(fmt.Sprintf("%s-%d", codec, blockSize), func(t *testing.T) {
				src := t.TempDir()
				names := writeTree(t, src, files)
				archivePath := filepath.Join(t.TempDir(), "test.psarc")

				opts := DefaultOptions()
				opts.Codec = codec
				opts.BlockSize = blockSize
				opts.SourceDir = src
				if err := Create(archivePath, names, opts, nil); err != nil {
					t.Fatalf("Create: %v", err)
				}

				r, err := Open(archivePath, nil)
				if err != nil {
					t.Fatalf("Open: %v", err)
				}
				defer r.Close()

				if len(r.Names) != len(files) {
					t.Fatalf("got %d names, want %d: %v", len(r.Names), len(files), r.Names)
				}

				out := t.TempDir()
				extractOpts := DefaultOptions()
				extractOpts.TargetDir = out
				failed, err := r.Extract(nil, extractOpts, nil)
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
				if failed != 0 {
					t.Fatalf("%d entries failed to extract", failed)
				}

				for name, want := range files {
					got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
					if err != nil {
						t.Fatalf("reading extracted %s: %v", name, err)
					}
					if !bytes.Equal(got, want) {
						t.Errorf("%s: extracted %d bytes differ from original %d bytes", name, len(got), len(want))
					}
				}
			})
		}
	}
}

func TestSingleSmallStoredEntry(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"hello.txt": []byte("hello\n")})
	archivePath := filepath.Join(t.TempDir(), "s.psarc")

	opts := DefaultOptions()
	opts.SourceDir = src
	if err := Create(archivePath, []string{"hello.txt"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	e := r.Entries[1]
	if e.UncompressedSize != 6 {
		t.Errorf("uncompressed size = %d, want 6", e.UncompressedSize)
	}
	if e.BlockCount(r.Header.BlockSize) != 1 {
		t.Errorf("block count = %d, want 1", e.BlockCount(r.Header.BlockSize))
	}
	if got := r.Table.Items[e.FirstBlockIndex]; got != 6 {
		t.Errorf("block-table slot = %d, want 6", got)
	}
}

func TestZlibZerosShrink(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"zeros.bin": bytes.Repeat([]byte{0}, 200000)})
	archivePath := filepath.Join(t.TempDir(), "z.psarc")

	opts := DefaultOptions()
	opts.Codec = CodecZlib
	opts.Level = 9
	opts.SourceDir = src
	if err := Create(archivePath, []string{"zeros.bin"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	e := r.Entries[1]
	if got := e.BlockCount(r.Header.BlockSize); got != 4 {
		t.Fatalf("block count = %d, want 4", got)
	}
	for k := 0; k < 3; k++ {
		if got := r.Table.Resolved(int(e.FirstBlockIndex)+k, r.Header.BlockSize); got >= 65536 {
			t.Errorf("full zero block %d did not shrink: %d bytes", k, got)
		}
	}
	if cs := r.CompressedSize(1); cs >= e.UncompressedSize {
		t.Errorf("compressed size %d not below uncompressed %d", cs, e.UncompressedSize)
	}
}

func TestFallbackStoresIncompressibleBlock(t *testing.T) {
	src := t.TempDir()
	raw := []byte("xxxxxxxxxx")
	writeTree(t, src, map[string][]byte{"a": raw})
	archivePath := filepath.Join(t.TempDir(), "f.psarc")

	opts := DefaultOptions()
	opts.Codec = CodecZlib
	opts.SourceDir = src
	if err := Create(archivePath, []string{"a"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	e := r.Entries[1]
	if got := r.Table.Items[e.FirstBlockIndex]; got != 10 {
		t.Errorf("block-table slot = %d, want raw length 10", got)
	}

	stored := make([]byte, 10)
	if _, err := r.f.ReadAt(stored, int64(e.FileOffset)); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(stored, raw) {
		t.Errorf("stored bytes %q, want the raw input %q", stored, raw)
	}
}

func TestOffsetsContiguous(t *testing.T) {
	src := t.TempDir()
	names := writeTree(t, src, testFiles())
	archivePath := filepath.Join(t.TempDir(), "c.psarc")

	opts := DefaultOptions()
	opts.Codec = CodecZlib
	opts.SourceDir = src
	if err := Create(archivePath, names, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Open itself rejects non-contiguous layouts; assert the invariants
	// directly as well.
	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Entries[0].FileOffset != uint64(r.Header.TOCLength) {
		t.Errorf("entry 0 offset %d, want toc_length %d", r.Entries[0].FileOffset, r.Header.TOCLength)
	}
	for i := 0; i < len(r.Entries)-1; i++ {
		end := r.Entries[i].FileOffset + r.CompressedSize(i)
		if r.Entries[i+1].FileOffset != end {
			t.Errorf("entry %d offset %d, want %d", i+1, r.Entries[i+1].FileOffset, end)
		}
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	last := len(r.Entries) - 1
	if end := r.Entries[last].FileOffset + r.CompressedSize(last); end != uint64(info.Size()) {
		t.Errorf("archive ends at %d, file is %d bytes", end, info.Size())
	}
}

func TestHeaderCodecTag(t *testing.T) {
	cases := []struct {
		codec Codec
		want  container.Codec
	}{
		{CodecStore, container.CodecZlib},
		{CodecZlib, container.CodecZlib},
		{CodecLzma2, container.CodecLzma2},
	}
	for _, tc := range cases {
		t.Run(tc.codec.String(), func(t *testing.T) {
			src := t.TempDir()
			writeTree(t, src, map[string][]byte{"a.txt": []byte("data")})
			archivePath := filepath.Join(t.TempDir(), "t.psarc")

			opts := DefaultOptions()
			opts.Codec = tc.codec
			opts.SourceDir = src
			if err := Create(archivePath, []string{"a.txt"}, opts, nil); err != nil {
				t.Fatalf("Create: %v", err)
			}
			r, err := Open(archivePath, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()
			if r.Header.Codec != tc.want {
				t.Errorf("header codec = %s, want %s", r.Header.Codec, tc.want)
			}
		})
	}
}

func TestThreadedOutputMatchesSynchronous(t *testing.T) {
	src := t.TempDir()
	files := make(map[string][]byte, 40)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 40; i++ {
		data := make([]byte, 100+rng.Intn(5000))
		rng.Read(data)
		files[fmt.Sprintf("f%02d.bin", i)] = data
	}
	names := writeTree(t, src, files)

	build := func(threads int) []byte {
		archivePath := filepath.Join(t.TempDir(), "d.psarc")
		opts := DefaultOptions()
		opts.Codec = CodecZlib
		opts.SourceDir = src
		opts.NumThreads = threads
		if err := Create(archivePath, names, opts, nil); err != nil {
			t.Fatalf("Create(threads=%d): %v", threads, err)
		}
		data, err := os.ReadFile(archivePath)
		if err != nil {
			t.Fatal(err)
		}
		return data
	}

	sync := build(0)
	parallel := build(4)
	if !bytes.Equal(sync, parallel) {
		t.Error("archives from threads=0 and threads=4 differ")
	}
}

func TestAbsolutePaths(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"foo/bar": []byte("payload")})
	archivePath := filepath.Join(t.TempDir(), "a.psarc")

	opts := DefaultOptions()
	opts.AbsolutePaths = true
	opts.SourceDir = src
	if err := Create(archivePath, []string{"foo/bar"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Names[0] != "/foo/bar" {
		t.Errorf("stored name = %q, want %q", r.Names[0], "/foo/bar")
	}
	if r.Header.Flags&container.FlagAbsolutePaths == 0 {
		t.Error("absolute-paths flag not set in header")
	}

	out := t.TempDir()
	extractOpts := DefaultOptions()
	extractOpts.TargetDir = out
	if failed, err := r.Extract(nil, extractOpts, nil); err != nil || failed != 0 {
		t.Fatalf("Extract: failed=%d err=%v", failed, err)
	}
	if _, err := os.Stat(filepath.Join(out, "foo", "bar")); err != nil {
		t.Errorf("extracted file not at target_dir/foo/bar: %v", err)
	}
}

func TestExtractExistingFilePolicies(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a.txt": []byte("new contents")})
	archivePath := filepath.Join(t.TempDir(), "p.psarc")

	opts := DefaultOptions()
	opts.SourceDir = src
	if err := Create(archivePath, []string{"a.txt"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	setup := func(t *testing.T) string {
		out := t.TempDir()
		if err := os.WriteFile(filepath.Join(out, "a.txt"), []byte("old"), 0o644); err != nil {
			t.Fatal(err)
		}
		return out
	}

	t.Run("default fails", func(t *testing.T) {
		out := setup(t)
		extractOpts := DefaultOptions()
		extractOpts.TargetDir = out
		failed, err := r.Extract(nil, extractOpts, nil)
		if err != nil {
			t.Fatal(err)
		}
		if failed != 1 {
			t.Errorf("failed = %d, want 1", failed)
		}
		got, _ := os.ReadFile(filepath.Join(out, "a.txt"))
		if string(got) != "old" {
			t.Error("existing file was clobbered without overwrite")
		}
	})

	t.Run("skip existing", func(t *testing.T) {
		out := setup(t)
		extractOpts := DefaultOptions()
		extractOpts.TargetDir = out
		extractOpts.SkipExisting = true
		failed, err := r.Extract(nil, extractOpts, nil)
		if err != nil {
			t.Fatal(err)
		}
		if failed != 0 {
			t.Errorf("failed = %d, want 0", failed)
		}
		got, _ := os.ReadFile(filepath.Join(out, "a.txt"))
		if string(got) != "old" {
			t.Error("skip-existing still rewrote the file")
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		out := setup(t)
		extractOpts := DefaultOptions()
		extractOpts.TargetDir = out
		extractOpts.Overwrite = true
		failed, err := r.Extract(nil, extractOpts, nil)
		if err != nil {
			t.Fatal(err)
		}
		if failed != 0 {
			t.Errorf("failed = %d, want 0", failed)
		}
		got, _ := os.ReadFile(filepath.Join(out, "a.txt"))
		if string(got) != "new contents" {
			t.Errorf("overwrite left %q", got)
		}
	})
}

func TestExtractPatternCaseInsensitive(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{
		"Dir/File.txt": []byte("one"),
		"other.txt":    []byte("two"),
	})
	archivePath := filepath.Join(t.TempDir(), "ci.psarc")

	opts := DefaultOptions()
	opts.IgnoreCase = true
	opts.SourceDir = src
	if err := Create(archivePath, []string{"Dir/File.txt", "other.txt"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	out := t.TempDir()
	extractOpts := DefaultOptions()
	extractOpts.TargetDir = out
	failed, err := r.Extract([]string{"dir/file.txt"}, extractOpts, nil)
	if err != nil || failed != 0 {
		t.Fatalf("Extract: failed=%d err=%v", failed, err)
	}
	if _, err := os.Stat(filepath.Join(out, "Dir", "File.txt")); err != nil {
		t.Error("case-insensitive pattern did not match stored name")
	}
	if _, err := os.Stat(filepath.Join(out, "other.txt")); err == nil {
		t.Error("unmatched entry was extracted")
	}
}

func TestCreateConflict(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"a.txt": []byte("x")})
	archivePath := filepath.Join(t.TempDir(), "e.psarc")
	if err := os.WriteFile(archivePath, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	opts := DefaultOptions()
	opts.SourceDir = src
	err := Create(archivePath, []string{"a.txt"}, opts, nil)
	if err == nil {
		t.Fatal("expected conflict error")
	}

	got, _ := os.ReadFile(archivePath)
	if string(got) != "existing" {
		t.Error("conflicting output was modified")
	}

	opts.Overwrite = true
	if err := Create(archivePath, []string{"a.txt"}, opts, nil); err != nil {
		t.Fatalf("Create with overwrite: %v", err)
	}
}

func TestCreateNoInputs(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "n.psarc")
	if err := Create(archivePath, nil, DefaultOptions(), nil); err == nil {
		t.Fatal("expected no-inputs error")
	}
	if _, err := os.Stat(archivePath); err == nil {
		t.Error("archive file created despite no inputs")
	}
}

func TestCreateUnreadableInputUnlinksOutput(t *testing.T) {
	archivePath := filepath.Join(t.TempDir(), "u.psarc")
	opts := DefaultOptions()
	if err := Create(archivePath, []string{"does/not/exist"}, opts, nil); err == nil {
		t.Fatal("expected stat error")
	}
	if _, err := os.Stat(archivePath); err == nil {
		t.Error("partial archive left behind after fatal error")
	}
}

func TestTrimPaths(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string][]byte{"deep/tree/name.txt": []byte("x")})
	archivePath := filepath.Join(t.TempDir(), "tp.psarc")

	opts := DefaultOptions()
	opts.SourceDir = src
	opts.TrimPaths = true
	if err := Create(archivePath, []string{"deep/tree/name.txt"}, opts, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	r, err := Open(archivePath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.Names[0] != "name.txt" {
		t.Errorf("stored name = %q, want basename only", r.Names[0])
	}
}
