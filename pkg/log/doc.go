/*
Package log provides structured logging for Aegis using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                   │          │
	│  │  - Zerolog instance                        │          │
	│  │  - Initialized via log.Init()              │          │
	│  │  - Thread-safe for concurrent use          │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                    │          │
	│  │  - Level: debug/info/warn/error            │          │
	│  │  - Format: JSON or console (human)         │          │
	│  │  - Output: stdout, file, or custom writer  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                  │          │
	│  │  - WithComponent("engine")                 │          │
	│  │  - WithMissionID("mission-abc123")         │          │
	│  │  - WithTaskID("task-def456")               │          │
	│  └────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────┘

# Usage

Initializing the logger:

	import "github.com/aegiskernel/aegis/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("Kernel initialized")
	log.Warn("Commit window expiring soon")
	log.Errorf("ledger append failed", err)

Structured logging:

	log.Logger.Info().
		Str("mission_id", m.ID).
		Str("state", string(m.State)).
		Msg("Mission state changed")

Component loggers:

	engineLog := log.WithComponent("engine")
	engineLog.Info().Msg("Starting mission loop")

	taskLog := log.WithTaskID("task-123")
	taskLog.Error().Err(err).Msg("Dispatch failed")

# Integration Points

This package integrates with:

  - pkg/kernel: Logs boot, replay, and shutdown
  - pkg/mission: Logs mission and task transitions
  - pkg/swarm: Logs dispatch, retries, and saturation
  - pkg/commit: Logs approval windows and expiry
  - pkg/ledger: Logs segment rotation and verification

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() rather than formatting them into messages

Don't:
  - Log artifact contents or operator-provided secrets
  - Use Debug level in production
  - Log in tight loops

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
