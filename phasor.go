// Package phasor is the root of the ECS scheduling and actor-runtime core.
// The functional packages live under runtime/: channel, signal, broadcast
// (part of channel), graph, actor, schedule, app, subapp, txn, config, and
// telemetry. This package exists only to hold version metadata for callers
// that want to log or report it.
package phasor

// Version is the module's semantic version, bumped on release.
const Version = "0.1.0"
