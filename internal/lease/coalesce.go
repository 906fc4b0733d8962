package lease

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/flowctl/workflowrouter/internal/submission"
)

// Coalescer collapses concurrent in-process refresh calls for the same
// submission id into one underlying call, layered in front of the
// distributed Redis lease so that within a single process N goroutines
// racing on the same stale submission only ever make one lease-acquire
// attempt, not N.
type Coalescer struct {
	group singleflight.Group
}

func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Do runs fn at most once per key among concurrent callers; all callers
// receive the same result.
func (c *Coalescer) Do(ctx context.Context, key string, fn func() (*submission.Submission, error)) (*submission.Submission, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*submission.Submission), nil
}
