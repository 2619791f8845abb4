// Package health reports whether the cache and its refresh loop are fit to
// serve.
//
// A Checker is one probe: CacheChecker inspects the persisted snapshot
// (readable, non-empty, fresh enough), RefresherChecker reports the refresh
// loop's state, and CheckerFunc adapts ad hoc probes. An Aggregator fans a
// set of checkers out, applies a shared timeout, and folds their results
// into one Status with the usual ladder: any unhealthy check makes the
// whole unhealthy, otherwise any degraded check makes it degraded.
//
// The HTTP handlers expose the standard probe surface:
//
//	mux := http.NewServeMux()
//	agg := health.NewAggregator()
//	agg.Register("cache", health.NewCacheChecker(st))
//	agg.Register("refresher", health.NewRefresherChecker(r))
//	health.RegisterHandlers(mux, agg)
//
// /healthz answers liveness, /readyz folds the checks into a readiness
// verdict, and /health returns the full JSON detail, including the cache
// statistics a CacheChecker gathers.
package health
