package ledger

import (
	"errors"
	"fmt"

	"ctrace/internal/security"
)

var ErrTampered = errors.New("ledger tampered")

// VerifyChain checks every block of the ledger.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyBlocks(l.blocks)
}

// VerifyBlocks recomputes each hash, checks the links and indexes, and checks
// each signature against the key stored in the block.
func VerifyBlocks(blocks []*Block) error {
	for i, b := range blocks {
		h, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("compute hash for index %d: %w", b.Index, err)
		}
		if h != b.Hash {
			return fmt.Errorf("%w: hash mismatch at index %d", ErrTampered, b.Index)
		}
		if b.Index != i {
			return fmt.Errorf("%w: index mismatch: expected %d got %d", ErrTampered, i, b.Index)
		}
		prev := ""
		if i > 0 {
			prev = blocks[i-1].Hash
		}
		if b.PrevHash != prev {
			return fmt.Errorf("%w: prev hash mismatch at index %d", ErrTampered, b.Index)
		}
		ok, err := security.VerifySignatureFromHex(b.PubKey, []byte(b.Hash), b.Signature)
		if err != nil {
			return fmt.Errorf("%w: bad signature encoding at index %d: %v", ErrTampered, b.Index, err)
		}
		if !ok {
			return fmt.Errorf("%w: signature mismatch at index %d", ErrTampered, b.Index)
		}
	}
	return nil
}
