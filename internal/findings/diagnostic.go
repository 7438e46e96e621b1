package findings

import "fmt"

// Diagnostic records an analyzer or rule that failed during a run. Its
// findings are absent from the run; the others are unaffected.
type Diagnostic struct {
	Analyzer string `json:"analyzer"`
	Rule     string `json:"rule,omitempty"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Rule != "" {
		return fmt.Sprintf("%s/%s: %s", d.Analyzer, d.Rule, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Analyzer, d.Message)
}

// Guard runs fn and converts a panic into an error.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
