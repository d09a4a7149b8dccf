package compatibility

import "fmt"

// Result is the outcome of a compatibility check.
type Result struct {
	IsCompatible bool     `json:"is_compatible"`
	Messages     []string `json:"messages,omitempty"`
}

// Compatible returns a passing result.
func Compatible() *Result {
	return &Result{IsCompatible: true}
}

// Incompatible returns a failing result with the given messages.
func Incompatible(messages ...string) *Result {
	return &Result{IsCompatible: false, Messages: messages}
}

// Fail records an incompatibility.
func (r *Result) Fail(format string, args ...interface{}) {
	r.Messages = append(r.Messages, fmt.Sprintf(format, args...))
	r.IsCompatible = false
}

// Merge folds another result into this one.
func (r *Result) Merge(other *Result) {
	if !other.IsCompatible {
		r.IsCompatible = false
		r.Messages = append(r.Messages, other.Messages...)
	}
}
