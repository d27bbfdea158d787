// Package redis provides a Redis-backed core.SessionStore for deployments
// where session context must survive process restarts or be shared between
// server instances.
//
// Idle eviction works through key TTLs: every session mutation refreshes the
// TTL, so Redis expires abandoned sessions without a background sweeper. The
// in-process janitor is therefore optional with this backend.
package redis
