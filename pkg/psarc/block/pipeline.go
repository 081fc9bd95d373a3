// Package block drives a single entry's bytes through fixed-size blocks,
// compressing (or falling back to storing) on write and auto-detecting the
// per-block codec on read.
package block

import (
	"fmt"

	"github.com/archivekit/psarc/pkg/psarc/operations"
	"github.com/archivekit/psarc/pkg/psarc/operations/lzma2"
	_ "github.com/archivekit/psarc/pkg/psarc/operations/store"
	"github.com/archivekit/psarc/pkg/psarc/operations/zlibcodec"
	"github.com/archivekit/psarc/pkg/psarcerr"
)

// Plan describes the blocks covering an entry of the given uncompressed
// size: block k covers [k*blockSize, min((k+1)*blockSize, size)).
type Plan struct {
	BlockSize uint32
	Size      uint64
	Count     int
}

// NewPlan computes the block plan for an entry.
func NewPlan(size uint64, blockSize uint32) Plan {
	count := 0
	if size > 0 {
		count = int((size + uint64(blockSize) - 1) / uint64(blockSize))
	}
	return Plan{BlockSize: blockSize, Size: size, Count: count}
}

// NaturalLength returns L_k, the natural (uncompressed) length of block k:
// blockSize for every block but the last, whose length is the remainder.
func (p Plan) NaturalLength(k int) int {
	start := uint64(k) * uint64(p.BlockSize)
	end := start + uint64(p.BlockSize)
	if end > p.Size {
		end = p.Size
	}
	return int(end - start)
}

// Result is the outcome of encoding one block.
type Result struct {
	// Emitted is the bytes to append to the archive stream: either the
	// codec's output, or the raw input when the fallback rule engaged.
	Emitted []byte
	// Stored reports whether the fallback rule discarded the encoded form.
	Stored bool
}

// EncodeBlock applies op to raw and enforces the fallback rule: if the
// encoded length is >= the raw length, the raw bytes are emitted instead.
// A codec that fails to encode the block falls back to storing it verbatim
// rather than aborting; only commit-phase I/O failures are fatal to the
// pool, not individual encode failures.
func EncodeBlock(op operations.Operation, raw []byte) (Result, error) {
	encoded, err := op.Encode(raw)
	if err != nil || len(encoded) >= len(raw) {
		return Result{Emitted: raw, Stored: true}, nil
	}
	return Result{Emitted: encoded, Stored: false}, nil
}

// DetectCodec inspects the leading bytes of a block payload and returns the
// codec implementation that produced it.
// A payload matching no known signature is treated as stored verbatim.
func DetectCodec(payload []byte) (operations.Operation, error) {
	switch {
	case zlibcodec.HasSignature(payload):
		return operations.Get(operations.IDZlib)
	case lzma2.HasSignature(payload):
		return operations.Get(operations.IDLzma2)
	default:
		return operations.Get(operations.IDStore)
	}
}

// DecodeBlock detects the block's codec by signature and decompresses it
// into a buffer of exactly naturalSize bytes.
func DecodeBlock(payload []byte, naturalSize int) ([]byte, error) {
	op, err := DetectCodec(payload)
	if err != nil {
		return nil, err
	}
	out, err := op.Decode(payload, naturalSize)
	if err != nil {
		return nil, fmt.Errorf("block: decoding with %s: %w", op.Name(), err)
	}
	if len(out) != naturalSize {
		return nil, fmt.Errorf("block: decoded %d bytes, want %d: %w", len(out), naturalSize, psarcerr.ErrSizeMismatch)
	}
	return out, nil
}
