/*
Package projector folds ledger entries into the in-memory read models the
kernel serves: mission views, per-mission timelines, artifact indexes, the
open commit queue, swarm utilization, and the capability stage.

Apply is idempotent over sequence numbers, so replaying a ledger from zero
and then feeding the same entries live produces the same state. A
MissionSnapshot entry replaces a mission view wholesale, which lets
long-history missions fast-forward without replaying every transition.
*/
package projector
