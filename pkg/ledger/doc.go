/*
Package ledger implements the append-only event ledger that is the single
source of truth for Aegis.

Every state change in the system is recorded as one JSONL entry before the
in-memory state reflects it. All other state (mission views, capability
stage, commit queues) is a replayable projection of this ledger.

# Architecture

	┌─────────────────── LEDGER LAYOUT ────────────────────┐
	│                                                      │
	│  ledger/                                             │
	│    core-20260821-000.jsonl      (sealed)             │
	│    core-20260822-000.jsonl      (sealed)             │
	│    core-20260822-001.jsonl      (sealed, size roll)  │
	│    core-20260823-000.jsonl      (active)             │
	│    core-20260823-000.jsonl.active  (marker)          │
	│                                                      │
	│  One JSON object per line:                           │
	│  {"seq":17,"ts":"...","kind":"TaskDispatched",       │
	│   "payload":{...},"digest":"sha256:..."}             │
	└──────────────────────────────────────────────────────┘

Segments rotate when the active file would exceed 64 MiB or the UTC day
changes. Sealed segments are never rewritten; the marker file names the
active segment so recovery never scans sealed files for a torn tail.

# Core Components

Entry:
  - Seq: Monotonic sequence number, never reused
  - Kind: One of the closed set of Kind* constants (KnownKind checks)
  - Payload: Raw JSON, decoded by consumers that know the kind
  - Digest: SHA-256 chained over the previous entry's digest

Ledger:
  - Open: Recovers the active segment, truncating a torn tail
  - Append: Marshals, chains the digest, writes, fsyncs
  - Read/Tail: Ordered scans with optional kind/mission filters
  - SetOnAppend: Hook invoked under the writer lock in seq order
  - VerifyChain: Recomputes the digest chain over every segment

# Durability

Append fsyncs before returning; a crash can lose at most the entry being
written, and Open discards any half-written tail line. ErrStorageFull and
ErrCorruptTail are sentinel errors so callers can map them to exit codes.

# Usage

	led, err := ledger.Open(dataDir, "aegis")
	if err != nil { ... }
	defer led.Close()

	entry, err := led.Append(ledger.KindMissionCreated, ledger.MissionCreatedPayload{
		MissionID: m.ID,
		Goal:      m.Goal,
	})

	entries, err := led.Tail(0) // full history, seq order

	res, err := led.VerifyChain()
	if !res.Pass {
		// res.FirstBrokenSeq, res.Message
	}

# Integration Points

  - pkg/kernel: Opens the ledger, wires SetOnAppend to the projector
  - pkg/projector: Folds entries into read models
  - pkg/mission: Appends every mission and task transition
  - pkg/events: Broadcasts live entries to subscribers
  - cmd/aegis: ledger tail / ledger verify commands

# See Also

  - pkg/projector: The read side of this write-ahead record
*/
package ledger
