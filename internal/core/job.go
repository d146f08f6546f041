package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEmptySubmission rejects code that is empty or only whitespace.
	ErrEmptySubmission = errors.New("no code provided")
	ErrJobNotFound     = errors.New("job not found")
)

// Submission is one piece of C source accepted for tracing. It is never
// modified after creation.
type Submission struct {
	ID        string
	Code      string
	CreatedAt time.Time
}

func NewSubmission(code string) (Submission, error) {
	if strings.TrimSpace(code) == "" {
		return Submission{}, ErrEmptySubmission
	}
	return Submission{
		ID:        uuid.NewString(),
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// LineCount is the number of source lines that get a breakpoint.
func (s Submission) LineCount() int {
	return LineCount(s.Code)
}

// LineCount counts lines ended by "\n", "\r\n" or "\r". A final line without
// a terminator still counts; a trailing terminator does not start a new one.
func LineCount(code string) int {
	n := 0
	for i := 0; i < len(code); i++ {
		switch code[i] {
		case '\n':
			n++
		case '\r':
			n++
			if i+1 < len(code) && code[i+1] == '\n' {
				i++
			}
		}
	}
	if last := len(code) - 1; last >= 0 && code[last] != '\n' && code[last] != '\r' {
		n++
	}
	return n
}
