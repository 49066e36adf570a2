/*
Package worker defines the plugin contract and the registry of worker
families, plus the built-in scout, builder, and verify plugins.

A plugin describes itself once (kind, capabilities, risk level, default
timeout) and executes tasks under a context deadline. The registry is the
lookup the governance gate and dispatcher share; limits.go enforces global
and per-kind concurrency from the runtime config.
*/
package worker
