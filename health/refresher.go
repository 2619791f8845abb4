package health

import (
	"context"

	"github.com/billenewman4/itemcache/refresh"
)

// RefresherChecker reports the refresh loop's current state. A failed last
// cycle degrades the check rather than failing it: the cache keeps serving
// the previous snapshot until a later cycle succeeds.
type RefresherChecker struct {
	refresher *refresh.Refresher
}

var _ Checker = (*RefresherChecker)(nil)

// NewRefresherChecker wraps a Refresher as a health probe.
func NewRefresherChecker(r *refresh.Refresher) *RefresherChecker {
	return &RefresherChecker{refresher: r}
}

// Name implements Checker.
func (c *RefresherChecker) Name() string { return "refresher" }

// Check implements Checker.
func (c *RefresherChecker) Check(ctx context.Context) Result {
	state := c.refresher.State()
	details := map[string]any{"state": state.String()}
	if state == refresh.StateFailed {
		return Degraded("last refresh cycle failed").WithDetails(details)
	}
	return Healthy("refresher is " + state.String()).WithDetails(details)
}
