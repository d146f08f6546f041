package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctrace/internal/security"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "ledger", "ledger.jsonl")
	l, err := Open(path, Options{Keys: &kp, WorkerID: "worker-1"})
	require.NoError(t, err)
	return l, path
}

func entry(id string) Entry {
	return Entry{JobID: id, Status: "success", SourceHash: "src-" + id, TranscriptHash: "tr-" + id}
}

func TestAppendChainsAndPersists(t *testing.T) {
	l, path := openTestLedger(t)

	first, err := l.Append(entry("a"))
	require.NoError(t, err)
	second, err := l.Append(entry("b"))
	require.NoError(t, err)

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, "", first.PrevHash)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, "worker-1", second.WorkerID)
	assert.Equal(t, second.Hash, l.LastHash())
	require.NoError(t, l.VerifyChain())

	reopened, err := Open(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	assert.Equal(t, l.Blocks(), reopened.Blocks())
	assert.NoError(t, reopened.VerifyChain())
}

func TestAppendWithoutKeys(t *testing.T) {
	l, err := Open(filepath.Join(t.TempDir(), "ledger.jsonl"), Options{})
	require.NoError(t, err)
	_, err = l.Append(entry("a"))
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestConcurrentAppendKeepsChain(t *testing.T) {
	l, _ := openTestLedger(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(entry(string(rune('a' + i))))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 16, l.Len())
	assert.NoError(t, l.VerifyChain())
}

func rewrite(t *testing.T, path string, edit func(blocks []*Block)) {
	t.Helper()
	blocks, err := Load(path)
	require.NoError(t, err)
	edit(blocks)
	var sb strings.Builder
	for _, b := range blocks {
		data, err := json.Marshal(b)
		require.NoError(t, err)
		sb.Write(data)
		sb.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
}

func TestVerifyDetectsTampering(t *testing.T) {
	tests := []struct {
		name string
		edit func(blocks []*Block)
	}{
		{"field edit", func(b []*Block) { b[1].Status = "failure" }},
		{"rehashed edit", func(b []*Block) {
			b[1].Status = "failure"
			b[1].Hash, _ = b[1].ComputeHash()
		}},
		{"dropped block", func(b []*Block) { copy(b[1:], b[2:]); b[2] = b[1] }},
		{"forged signature", func(b []*Block) { b[0].Signature = strings.Repeat("00", 64) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, path := openTestLedger(t)
			for _, id := range []string{"a", "b", "c"} {
				_, err := l.Append(entry(id))
				require.NoError(t, err)
			}
			rewrite(t, path, tt.edit)

			blocks, err := Load(path)
			require.NoError(t, err)
			assert.ErrorIs(t, VerifyBlocks(blocks), ErrTampered)
		})
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{not json\n"), 0o644))
	_, err := Open(path, Options{})
	assert.Error(t, err)
}
