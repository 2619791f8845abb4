// Package observe provides telemetry for cache refresh cycles.
//
// It is a pure instrumentation library: no fetching, no filtering, no
// cache I/O beyond exporter setup. The refresh package wires an Observer
// into its cycle loop; every primitive degrades to a no-op when the
// corresponding subsystem is disabled.
package observe
