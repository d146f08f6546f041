// Package trace turns a gdb transcript into the ordered, deduplicated list of
// execution steps the visualizer animates.
package trace

// NotAvailable is the previous value reported for a name that did not exist
// in the prior step.
const NotAvailable = "N/A"

// RawStep is everything printed between one breakpoint hit and the next.
// Dereferenced holds struct literals printed for pointer-valued locals; they
// are not tied to the variable that produced them.
type RawStep struct {
	Line         int      `json:"line"`
	Variables    Vars     `json:"variables"`
	Dereferenced []string `json:"dereferenced,omitempty"`
}

// Change records a variable whose value differs from the previous step.
type Change struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Previous string `json:"previous"`
}

type Dereferenced struct {
	Structures []string `json:"structures,omitempty"`
}

// Step is one entry of the trace shown to the user. Variables is the full
// snapshot at that point, not a merge with earlier steps.
type Step struct {
	Line         int          `json:"line"`
	Variables    Vars         `json:"variables"`
	Dereferenced Dereferenced `json:"dereferenced"`
	ChangedVars  []Change     `json:"changed_vars"`
}

// Trace is the terminal artifact of one job.
type Trace []Step
