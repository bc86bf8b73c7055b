// Package logging configures the process-wide slog logger.
//
// Logs are JSON lines written to a size-rotated file under ~/.docindex/logs
// and, unless disabled, mirrored to stderr. The MCP server disables stderr
// because stdout and stderr belong to the protocol client.
package logging
