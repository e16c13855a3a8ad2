/*
Package log provides structured logging for corestore using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init(), bound from config.Options.LogLevel
  - Thread-safe concurrent writes

Context Loggers:
  - WithComponent: tag logs with a subsystem ("session", "refgraph", "index", "vlr", "scan")
  - WithSession: tag logs with a session handle
  - WithTxn: tag logs with a transaction id
  - WithTable: tag logs with a type/table id
  - WithIndex: tag logs with an index id

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	sessionLog := log.WithSession(sessionID)
	sessionLog.Info().Msg("session opened")

	txnLog := log.WithComponent("session").With().Uint64("txn_id", uint64(beginTS)).Logger()
	txnLog.Warn().Err(err).Msg("commit validation failed")

Hooks registered via the transaction API (spec §6) must never panic; any
recovered panic from a hook is logged at Error level and swallowed, per the
error-handling policy in spec §7.

# Integration Points

This package is used by pkg/session (lifecycle transitions), pkg/refgraph and
pkg/vlr (reference maintenance), pkg/indexmaint (delta merge failures at
commit), pkg/catalog, and pkg/engine.
*/
package log
