// Package status implements the process exit envelope every Lambda
// entrypoint returns (§6 "Each process invocation returns a short JSON
// status {ok: bool, errors: [...]}; non-zero errors propagate to the
// orchestrator's dead-letter topic").
package status

import "fmt"

// Result is the JSON body every cmd/* handler returns to its invoker.
type Result struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors,omitempty"`
}

// OK builds a successful Result.
func OK() Result { return Result{OK: true} }

// FromErrors builds a Result from zero or more collected errors. A nil
// slice, or one with no non-nil errors, yields an OK result.
func FromErrors(errs ...error) Result {
	var messages []string
	for _, err := range errs {
		if err != nil {
			messages = append(messages, err.Error())
		}
	}
	if len(messages) == 0 {
		return OK()
	}
	return Result{OK: false, Errors: messages}
}

// Collector accumulates errors across a batch of independent operations
// (e.g. one per sweep iteration) without aborting the batch, then builds
// the final Result.
type Collector struct {
	errors []string
}

// Add records err if non-nil.
func (c *Collector) Add(err error) {
	if err != nil {
		c.errors = append(c.errors, err.Error())
	}
}

// Addf records a formatted error message directly.
func (c *Collector) Addf(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

// Result builds the final Result from everything collected so far.
func (c *Collector) Result() Result {
	if len(c.errors) == 0 {
		return OK()
	}
	return Result{OK: false, Errors: c.errors}
}
