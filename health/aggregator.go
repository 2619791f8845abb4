package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds a whole CheckAll pass. Checks still running when it
	// expires are reported as timed out. Default: 10 seconds.
	Timeout time.Duration

	// Parallel runs the registered checks concurrently when true.
	// Default: true.
	Parallel bool
}

// Aggregator fans a health probe out over the registered checkers, the
// cache and refresher checks among them, and folds the results into one
// verdict.
type Aggregator struct {
	config   AggregatorConfig
	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string // registration order, for stable reporting
}

// NewAggregator creates a health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{
		Timeout:  10 * time.Second,
		Parallel: true,
	}
	if len(config) > 0 {
		cfg = config[0]
		if cfg.Timeout <= 0 {
			cfg.Timeout = 10 * time.Second
		}
	}

	return &Aggregator{
		config:   cfg,
		checkers: make(map[string]Checker),
		order:    make([]string, 0),
	}
}

// Register adds a checker under name. Registering an existing name
// replaces the checker but keeps its position.
func (a *Aggregator) Register(name string, checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// Unregister removes the named checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)

	for i, n := range a.order {
		if n == name {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, len(a.order))
	copy(names, a.order)
	return names
}

// Check runs the single named check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()

	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrCheckerNotFound, name)
	}

	return a.runCheck(ctx, checker), nil
}

// CheckAll runs every registered check and returns the results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make(map[string]Checker, len(a.checkers))
	for name, checker := range a.checkers {
		checkers[name] = checker
	}
	a.mu.RUnlock()

	if len(checkers) == 0 {
		return make(map[string]Result)
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	results := make(map[string]Result, len(checkers))

	if a.config.Parallel {
		var wg sync.WaitGroup
		var mu sync.Mutex

		for name, checker := range checkers {
			wg.Add(1)
			go func(name string, checker Checker) {
				defer wg.Done()
				result := a.runCheck(ctx, checker)
				mu.Lock()
				results[name] = result
				mu.Unlock()
			}(name, checker)
		}

		wg.Wait()
	} else {
		for name, checker := range checkers {
			results[name] = a.runCheck(ctx, checker)
		}
	}

	return results
}

// OverallStatus folds a result set into one status: unhealthy if any check
// is unhealthy, degraded if any check is degraded but none are unhealthy,
// healthy otherwise.
func (a *Aggregator) OverallStatus(results map[string]Result) Status {
	if len(results) == 0 {
		return StatusHealthy
	}

	hasUnhealthy := false
	hasDegraded := false

	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			hasUnhealthy = true
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return StatusUnhealthy
	}
	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (a *Aggregator) runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()

	resultCh := make(chan Result, 1)

	go func() {
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		return result
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}

// Checker adapts the aggregator itself to the Checker interface so a
// composite verdict can be registered inside another aggregator.
func (a *Aggregator) Checker() Checker {
	return &aggregatorChecker{agg: a}
}

type aggregatorChecker struct {
	agg *Aggregator
}

func (c *aggregatorChecker) Name() string {
	return "aggregate"
}

func (c *aggregatorChecker) Check(ctx context.Context) Result {
	results := c.agg.CheckAll(ctx)
	status := c.agg.OverallStatus(results)

	details := make(map[string]any, len(results))
	for name, result := range results {
		details[name] = map[string]any{
			"status":   result.Status.String(),
			"message":  result.Message,
			"duration": result.Duration.String(),
		}
	}

	var message string
	switch status {
	case StatusHealthy:
		message = "all checks passed"
	case StatusDegraded:
		message = "some checks degraded"
	case StatusUnhealthy:
		message = "some checks failed"
	}

	return Result{
		Status:    status,
		Message:   message,
		Details:   details,
		Timestamp: time.Now(),
	}
}
