/*
Package log provides structured logging for BrainBox using zerolog.

A single global zerolog logger is configured once at startup with Init and
shared by every component. Components derive child loggers that carry a fixed
field, so that log lines can be filtered by the thing they describe:

	logger := log.WithComponent("runner")
	logger.Info().Str("task_id", id).Msg("job received")

	jobLog := log.WithJobID(id)
	jobLog.Warn().Err(err).Msg("decider call failed")

Available child loggers: WithComponent, WithDecider, WithJobID,
WithInstanceID and WithSession.

# Output

JSONOutput selects newline-delimited JSON (for log shippers); otherwise a
human-readable console writer with RFC3339 timestamps is used. Output defaults
to os.Stdout.

# Levels

debug, info, warn and error. ParseLevel maps configuration strings onto a
Level and falls back to info for anything it does not recognise.

Before Init is called the global Logger is the zerolog zero value, which
discards all output. Tests that do not care about logs can therefore skip
initialisation entirely.
*/
package log
