/*
Package swarm dispatches tasks to worker plugins under concurrency limits
and merges multi-step results.

The Dispatcher asks the limiter for a slot per step; saturation surfaces
through the OnSaturation hook and admission through OnAdmitted, so the
engine records TaskDispatched only for work that actually started. Steps
run sequentially for one task; their results merge component-wise (costs
sum, artifacts concatenate, the status folds success > partial > failure
with any failure dominating).

Workers receive a context and return a WorkerResult; they never reach back
into the engine or the ledger.
*/
package swarm
