/*
Package metrics exposes Prometheus instrumentation for the kernel.

Collectors register in init(): missions by state, task dispatch/failure/
retry counters, approval outcomes, worker utilization, commit queue depth,
the capability stage gauge, and a ledger append-latency histogram. The
Collector polls a Source (the kernel) for the gauge families on an
interval; counters are incremented at the call sites. Handler() serves
the registry for the serve command's /metrics endpoint, and Timer mirrors
the observe-duration helper pattern used at append sites.
*/
package metrics
