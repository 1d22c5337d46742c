// Package command implements the outbound write queue: a FIFO of characteristic writes with
// a single write in flight and per-command retry policies.
package command

import "fmt"

// DefaultMaxRetries is the number of retries a command gets after its first failed attempt.
const DefaultMaxRetries = 3

// RetryPolicy bounds how many failed attempts a Command may absorb before it is dropped.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy returns the policy applied to commands created with New.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: DefaultMaxRetries}
}

// Command is a queued characteristic write.
type Command struct {
	Service        string
	Characteristic string
	Payload        []byte

	// Attempts counts failed attempts so far.
	Attempts int
	Policy   RetryPolicy
}

// New creates a command with the default retry policy.
func New(service, characteristic string, payload []byte) *Command {
	return &Command{
		Service:        service,
		Characteristic: characteristic,
		Payload:        payload,
		Policy:         DefaultRetryPolicy(),
	}
}

// WithPolicy replaces the retry policy and returns the command for chaining.
func (c *Command) WithPolicy(p RetryPolicy) *Command {
	c.Policy = p
	return c
}

// ShouldRetry records a failed attempt and reports whether the policy allows another one.
func (c *Command) ShouldRetry() bool {
	c.Attempts++
	return c.Attempts <= c.Policy.MaxRetries
}

func (c *Command) String() string {
	return fmt.Sprintf("%s/%s (%d bytes, attempts %d)", c.Service, c.Characteristic, len(c.Payload), c.Attempts)
}
