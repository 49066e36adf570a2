/*
Package storage is the bbolt-backed derived index: artifacts by id and
mission, idempotency keys, projector checkpoints, and the capability
snapshot.

Everything here is rebuildable from the ledger; deleting index.db loses
no authoritative state. Lookups that miss return ErrNotFound so callers
can distinguish absence from storage failure.
*/
package storage
