package sandbox

import (
	"regexp"
	"strings"
)

var (
	// "#8 0.215 " (buildkit step output) or "0.215 " (buildkit error summary)
	buildLogPrefix = regexp.MustCompile(`^(#\d+ )?\d+\.\d+ `)
	// gcc caret context: "    3 |     x = 1;" and "      |     ^"
	caretLine = regexp.MustCompile(`^\s*\d*\s*\|`)
)

var diagnosticPrefixes = []string{
	SourceFile + ":",
	"In file included from",
	"                 from",
	"collect2:",
	"/usr/bin/ld:",
	"cc1:",
	"compilation terminated.",
}

// compilerDiagnostics picks the compiler's own lines out of a build log.
// Buildkit prints the failing step twice; only the first copy is kept. When
// nothing looks like compiler output the trimmed log is returned instead.
func compilerDiagnostics(buildLog string) string {
	var kept []string
	for _, raw := range strings.Split(buildLog, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "------" && len(kept) > 0 {
			break
		}
		line := buildLogPrefix.ReplaceAllString(raw, "")
		line = strings.ReplaceAll(line, WorkDir+"/", "")
		if isDiagnostic(line) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(buildLog)
	}
	return strings.Join(kept, "\n")
}

func isDiagnostic(line string) bool {
	for _, prefix := range diagnosticPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return caretLine.MatchString(line)
}
