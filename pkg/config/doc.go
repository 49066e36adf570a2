/*
Package config loads and validates the two configuration layers: the
doctrine (config/doctrine.json, the safety constitution) and the runtime
settings (config/runtime.yaml).

The doctrine is load-only: a violation of its hard rules (append-only
ledger, commit gating, capability monotonicity) refuses boot with
ErrDoctrineViolation. Runtime settings are hot-swappable through the
Store, which hands out immutable snapshots; every accepted change is
recorded in the ledger before the swap.
*/
package config
