/*
Package logging provides structured logging for the storage backend using
zerolog.

A single global Logger is initialized once via Init and component loggers
are derived from it with WithComponent. RPC call sites attach CallFields
(method, attempt, cas_retries, latency, queue_depth, id) before logging so
that a log aggregator can filter and alert on any one of them independent
of the others.
*/
package logging
