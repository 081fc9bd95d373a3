package container

import (
	"fmt"

	"github.com/archivekit/psarc/internal/bitio"
	"github.com/archivekit/psarc/pkg/psarcerr"
)

// BlockTable is the dense sequence of per-block compressed-size items
// of the archive; Items holds the raw item values (sentinel 0 not yet
// substituted) and Width is the on-disk item width in bytes.
type BlockTable struct {
	Items []uint32
	Width int
}

// NewBlockTable allocates a table of the given length for the item width
// implied by blockSize.
func NewBlockTable(totalBlocks int, blockSize uint32) (*BlockTable, error) {
	width, err := bitio.ItemWidth(uint64(blockSize))
	if err != nil {
		return nil, err
	}
	return &BlockTable{Items: make([]uint32, totalBlocks), Width: width}, nil
}

// Set records emitted bytes for block index i, writing the sentinel 0 when
// emitted equals blockSize.
func (bt *BlockTable) Set(i int, emitted uint32, blockSize uint32) {
	if emitted == blockSize {
		bt.Items[i] = 0
	} else {
		bt.Items[i] = emitted
	}
}

// Resolved returns the effective compressed size at index i, mapping the
// sentinel 0 to blockSize.
func (bt *BlockTable) Resolved(i int, blockSize uint32) uint32 {
	return bitio.ResolveBlockSize(bt.Items[i], blockSize)
}

// Pack serializes the table as Width-byte big-endian items, in index order.
func (bt *BlockTable) Pack() ([]byte, error) {
	buf := make([]byte, len(bt.Items)*bt.Width)
	for i, v := range bt.Items {
		if err := bitio.PutBlockItem(buf[i*bt.Width:(i+1)*bt.Width], bt.Width, v); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnpackBlockTable parses totalBlocks items of the given width from data.
func UnpackBlockTable(data []byte, totalBlocks int, width int) (*BlockTable, error) {
	need := totalBlocks * width
	if len(data) < need {
		return nil, fmt.Errorf("container: need %d bytes for %d block-table items of width %d, got %d: %w", need, totalBlocks, width, len(data), psarcerr.ErrTruncated)
	}
	items := make([]uint32, totalBlocks)
	for i := range items {
		v, err := bitio.BlockItem(data[i*width:(i+1)*width], width)
		if err != nil {
			return nil, err
		}
		items[i] = v
	}
	return &BlockTable{Items: items, Width: width}, nil
}

// TOCLength computes 32 + entry_count*30 + total_blocks*W per invariant 4.
func TOCLength(entryCount int, totalBlocks int, width int) uint32 {
	return uint32(HeaderSize + entryCount*TOCEntrySize + totalBlocks*width)
}
