// Package storage archives debugger transcripts on disk, one file per job.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const transcriptExt = ".log"

// TranscriptStorage writes transcripts under BaseDir.
type TranscriptStorage struct {
	BaseDir string
	now     func() time.Time
}

func NewTranscriptStorage(baseDir string) *TranscriptStorage {
	return &TranscriptStorage{BaseDir: baseDir, now: time.Now}
}

// Save writes the transcript of a job and returns the file path.
func (ts *TranscriptStorage) Save(jobID, transcript string) (string, error) {
	if err := os.MkdirAll(ts.BaseDir, 0o775); err != nil {
		return "", err
	}

	// job ids are unique; the timestamp keeps reruns of the same id apart
	timestamp := ts.now().UTC().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s%s", sanitize(jobID), timestamp, transcriptExt)
	path := filepath.Join(ts.BaseDir, filename)

	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Find returns the newest transcript saved for a job.
func (ts *TranscriptStorage) Find(jobID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(ts.BaseDir, sanitize(jobID)+"_*"+transcriptExt))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	// names end in a sortable timestamp
	newest := matches[0]
	for _, m := range matches[1:] {
		if m > newest {
			newest = m
		}
	}
	return newest, nil
}

// Prune removes transcripts last modified before the cutoff.
func (ts *TranscriptStorage) Prune(before time.Time) (int, error) {
	entries, err := os.ReadDir(ts.BaseDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), transcriptExt) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(before) {
			continue
		}
		if err := os.Remove(filepath.Join(ts.BaseDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// sanitize keeps the characters that are safe in file names.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}
