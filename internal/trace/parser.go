package trace

import (
	"bufio"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
)

type state int

const (
	stateIdle state = iota
	stateCollecting
)

var (
	// "Breakpoint 3, main () at main.c:11"
	breakpointHit = regexp.MustCompile(`Breakpoint \d+,.*at .*:(\d+)`)
	// "$1 = {data = 6, next = 0x602010}". A function pointer prints as
	// "$1 = {int (int, int)} 0x1149 <add>" and must not match.
	derefResult = regexp.MustCompile(`^\$\d+\s*=\s*(\{.*\})$`)
	// "head = 0x5555555592a0"
	assignment = regexp.MustCompile(`^(\w+)\s*=\s*(.*)`)
)

// Parser is a line-at-a-time state machine. It is Idle until the first
// breakpoint hit and Collecting afterwards. Lines it does not recognise are
// dropped; it never fails on content.
type Parser struct {
	state   state
	current RawStep
	steps   []RawStep
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed consumes one transcript line.
func (p *Parser) Feed(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if n, ok := matchBreakpoint(line); ok {
		p.flush()
		p.current = RawStep{Line: n}
		p.state = stateCollecting
		return
	}
	if p.state != stateCollecting {
		return
	}
	if m := derefResult.FindStringSubmatch(line); m != nil {
		p.current.Dereferenced = append(p.current.Dereferenced, m[1])
		return
	}
	if m := assignment.FindStringSubmatch(line); m != nil {
		p.current.Variables.Set(m[1], strings.TrimSpace(m[2]))
	}
}

// Finish closes any open step and returns every step seen so far.
func (p *Parser) Finish() []RawStep {
	p.flush()
	out := p.steps
	if out == nil {
		out = []RawStep{}
	}
	return out
}

func (p *Parser) flush() {
	if p.state != stateCollecting {
		return
	}
	p.steps = append(p.steps, p.current)
	p.current = RawStep{}
	p.state = stateIdle
}

func matchBreakpoint(line string) (int, bool) {
	m := breakpointHit.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Parse reads a whole transcript. Only errors from r are returned.
func Parse(r io.Reader) ([]RawStep, error) {
	p := NewParser()
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadString('\n')
		for _, line := range strings.Split(chunk, "\r") {
			p.Feed(line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return p.Finish(), err
		}
	}
	return p.Finish(), nil
}

// ParseString parses an in-memory transcript.
func ParseString(transcript string) []RawStep {
	steps, _ := Parse(strings.NewReader(transcript))
	return steps
}
