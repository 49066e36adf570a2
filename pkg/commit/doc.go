/*
Package commit manages the countdown windows behind NEEDS_CONFIRM verdicts.

Register opens a window with a wall-clock deadline derived from the
verdict's countdown; registering a task that is already pending is a no-op
so a restart never shortens a window. Approve counts distinct approvers
until the required quorum is met, Reject resolves immediately, and an
expired timer resolves the window as expired. Resolution is delivered
through callbacks; the engine records the ledger entry and either
dispatches or fails the task.

Restore re-arms a window with its original deadline; a deadline already in
the past expires on the next timer tick rather than silently approving.
*/
package commit
