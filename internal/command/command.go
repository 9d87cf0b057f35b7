// Package command holds the Command model: a shell command string, its
// optional per-command timeout, and the set of exit codes treated as
// success.
package command

import "time"

// Command is one shell command in a run's sequence. Equality is by Text
// only, per §3 of the spec this engine implements.
type Command struct {
	Text    string
	Timeout time.Duration // zero means "no per-command timeout"
	OkCodes map[int]struct{}
}

// New builds a Command defaulting OkCodes to {0}. Pass an explicit empty
// okCodes slice (non-nil, zero length) to build the "any exit code is
// success" ignore-exit-codes mode.
func New(text string, timeout time.Duration, okCodes []int) Command {
	c := Command{Text: text, Timeout: timeout}
	if okCodes == nil {
		c.OkCodes = map[int]struct{}{0: {}}
		return c
	}
	c.OkCodes = make(map[int]struct{}, len(okCodes))
	for _, code := range okCodes {
		c.OkCodes[code] = struct{}{}
	}
	return c
}

// IgnoreExitCodes builds a Command whose OkCodes is the empty set, meaning
// every exit code is treated as success (the "-x" flag's mode).
func IgnoreExitCodes(text string, timeout time.Duration) Command {
	return Command{Text: text, Timeout: timeout, OkCodes: map[int]struct{}{}}
}

// Equal compares two commands by Text only, matching the spec's equality
// rule.
func (c Command) Equal(other Command) bool {
	return c.Text == other.Text
}

// IsOK reports whether rc is an accepted exit code for c. An empty OkCodes
// set means every exit code is accepted (ignore-exit-codes mode).
func (c Command) IsOK(rc int) bool {
	if len(c.OkCodes) == 0 {
		return true
	}
	_, ok := c.OkCodes[rc]
	return ok
}

// IgnoresExitCodes reports whether c was built in ignore-exit-codes mode
// (OkCodes explicitly empty, as opposed to the nil zero value).
func (c Command) IgnoresExitCodes() bool {
	return c.OkCodes != nil && len(c.OkCodes) == 0
}
