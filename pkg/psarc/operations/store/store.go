// Package store implements the identity codec: blocks that are not
// compressed, or whose compression did not pay off under the fallback rule.
package store

import "github.com/archivekit/psarc/pkg/psarc/operations"

func init() {
	operations.Register(New())
}

// Operation is the store (no-op) codec.
type Operation struct {
	operations.BaseOperation
}

// New creates the store codec.
func New() *Operation {
	return &Operation{
		BaseOperation: operations.BaseOperation{OpID: operations.IDStore, OpName: "store"},
	}
}

func (o *Operation) Encode(input []byte) ([]byte, error) {
	out := make([]byte, len(input))
	copy(out, input)
	return out, nil
}

func (o *Operation) Decode(input []byte, naturalSize int) ([]byte, error) {
	out := make([]byte, naturalSize)
	copy(out, input)
	return out, nil
}
