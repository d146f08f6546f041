// Package ledger keeps an append-only, hash-chained and signed record of job
// outcomes in a JSON lines file.
package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ctrace/internal/security"
)

var ErrNoSigningKey = errors.New("ledger has no signing key")

type Options struct {
	// Keys signs appended blocks. A ledger opened without keys is read-only.
	Keys     *security.KeyPair
	WorkerID string
}

type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
	opts   Options
	now    func() time.Time
}

// Open loads the ledger at path, creating an empty file when it is missing.
func Open(path string, opts Options) (*Ledger, error) {
	l := &Ledger{
		blocks: make([]*Block, 0),
		path:   path,
		opts:   opts,
		now:    time.Now,
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_ = f.Close()
		return l, nil
	}
	blocks, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.blocks = blocks
	return l, nil
}

// Load decodes every block of a ledger file without opening it for writing.
func Load(path string) ([]*Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blocks := make([]*Block, 0)
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(blocks), err)
		}
		blocks = append(blocks, &blk)
	}
	return blocks, nil
}

// Append chains, signs and persists a block for e.
func (l *Ledger) Append(e Entry) (*Block, error) {
	if l.opts.Keys == nil || len(l.opts.Keys.Private) == 0 {
		return nil, ErrNoSigningKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Hash
	}
	b, err := newBlock(len(l.blocks), l.now(), e, prev, l.opts.WorkerID)
	if err != nil {
		return nil, err
	}
	b.Signature = security.SignData(l.opts.Keys.Private, []byte(b.Hash))
	b.PubKey = hex.EncodeToString(l.opts.Keys.Public)

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return nil, fmt.Errorf("write ledger file: %w", err)
	}

	l.blocks = append(l.blocks, b)
	return b, nil
}

// Blocks returns a copy of the chain.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Block, len(l.blocks))
	for i, b := range l.blocks {
		out[i] = *b
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.blocks)
}

// LastHash returns the last block hash, or "" for an empty ledger.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
