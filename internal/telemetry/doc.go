// Package telemetry records how search is used: queries per mode and
// division, latency buckets, frequent terms and queries that found
// nothing. Aggregates are kept in memory and flushed as deltas to a local
// SQLite file; nothing leaves the machine.
package telemetry
