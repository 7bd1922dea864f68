// Package mock provides a scripted turn.Classifier for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxflow/voxflow/pkg/turn"
)

// Classifier is a configurable test double for [turn.Classifier]. It records
// every call so tests can assert on segment contents and call counts.
type Classifier struct {
	mu sync.Mutex

	// Result is returned by every Predict call when Results is empty.
	Result turn.Result

	// Results, when non-empty, is consumed one entry per call; after the
	// last entry Predict keeps returning Result.
	Results []turn.Result

	// Err, when non-nil, is returned by every Predict call.
	Err error

	// Calls records the sample slices passed to Predict, in order.
	Calls [][]float32
}

var _ turn.Classifier = (*Classifier)(nil)

// Predict implements [turn.Classifier].
func (c *Classifier) Predict(_ context.Context, samples []float32) (turn.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recorded := make([]float32, len(samples))
	copy(recorded, samples)
	c.Calls = append(c.Calls, recorded)

	if c.Err != nil {
		return turn.Result{}, c.Err
	}
	if len(c.Results) > 0 {
		r := c.Results[0]
		c.Results = c.Results[1:]
		return r, nil
	}
	return c.Result, nil
}

// CallCount returns how many times Predict has been invoked.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}
