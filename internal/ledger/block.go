package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Block is a tamper-evident record of one finished job.
type Block struct {
	Index          int    `json:"index"`
	Timestamp      string `json:"timestamp"`
	JobID          string `json:"jobId"`
	Status         string `json:"status"`
	SourceHash     string `json:"sourceHash"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	TranscriptHash string `json:"transcriptHash,omitempty"`
	PrevHash       string `json:"prevHash"`
	Hash           string `json:"hash"`
	WorkerID       string `json:"workerId"`
	Signature      string `json:"signature"`
	PubKey         string `json:"pubKey"`
}

// Entry is the caller-supplied part of a block.
type Entry struct {
	JobID          string
	Status         string
	SourceHash     string
	TranscriptPath string
	TranscriptHash string
}

// canonicalData returns the JSON bytes the hash covers. Hash, Signature and
// PubKey are excluded.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index          int    `json:"index"`
		Timestamp      string `json:"timestamp"`
		JobID          string `json:"jobId"`
		Status         string `json:"status"`
		SourceHash     string `json:"sourceHash"`
		TranscriptPath string `json:"transcriptPath"`
		TranscriptHash string `json:"transcriptHash"`
		PrevHash       string `json:"prevHash"`
		WorkerID       string `json:"workerId"`
	}{
		Index:          b.Index,
		Timestamp:      b.Timestamp,
		JobID:          b.JobID,
		Status:         b.Status,
		SourceHash:     b.SourceHash,
		TranscriptPath: b.TranscriptPath,
		TranscriptHash: b.TranscriptHash,
		PrevHash:       b.PrevHash,
		WorkerID:       b.WorkerID,
	}
	return json.Marshal(view)
}

// ComputeHash calculates SHA256 over canonicalData.
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func newBlock(index int, at time.Time, e Entry, prevHash, workerID string) (*Block, error) {
	blk := &Block{
		Index:          index,
		Timestamp:      at.UTC().Format(time.RFC3339Nano),
		JobID:          e.JobID,
		Status:         e.Status,
		SourceHash:     e.SourceHash,
		TranscriptPath: e.TranscriptPath,
		TranscriptHash: e.TranscriptHash,
		PrevHash:       prevHash,
		WorkerID:       workerID,
	}
	h, err := blk.ComputeHash()
	if err != nil {
		return nil, fmt.Errorf("compute block hash: %w", err)
	}
	blk.Hash = h
	return blk, nil
}
