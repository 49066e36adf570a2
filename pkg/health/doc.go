/*
Package health monitors kernel subsystems and serves the /healthz verdict.

Each subsystem registers a probe; the monitor runs them on an interval
with a per-probe timeout. A subsystem starts healthy, flips unhealthy only
after the configured number of consecutive failures, and recovers on a
single success. The HTTP handler reports the aggregate as JSON with a 503
when any subsystem is degraded.
*/
package health
