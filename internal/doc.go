// Package internal documents the clipdeck server internals.
//
// The internal tree is organized by responsibility:
// - api: HTTP handlers, middleware, and routing
// - domain: clipboard items and users
// - storage: the persistence contract plus memory, postgres, bolt, and redis backends
// - ratelimit, audit, realtime, retention: request governance, access logging, live sessions, purging
// - jobs: cron and River scheduling of background work
// - auth, config, metrics, telemetry, files: shared infrastructure
//
// Code in internal/ is not meant for external import.
package internal
