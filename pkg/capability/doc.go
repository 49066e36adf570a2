/*
Package capability tracks the evolution stage the runtime has earned and the
capabilities each stage grants.

Stages unlock on cumulative mission successes and never regress:

	DORMANT     0 successes   no capabilities
	AWAKENING   1             RECALL, WORKER_SPAWN
	FORGING     10            + AUTO_APPROVE
	SOVEREIGN   50            + AUTONOMOUS_CHAIN
	APEX        200           + EXTERNAL_ACTION

The Registry is the in-memory authority: RecordSuccess advances the count
and reports a stage unlock, Restore folds in persisted state without ever
lowering the stage, and Permitted answers the governance gate's capability
checks. The kernel persists a snapshot to bolt on shutdown and restores
from the stricter of the ledger fold and the snapshot on boot.
*/
package capability
