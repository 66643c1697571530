package raft

// DebugAssertions toggles whether assertf (engine.go) panics (debug build)
// or merely returns an internal error (release build). Design Notes §9
// notes the source uses process-aborting assertions for invariant checks;
// this flag keeps that loud in development while staying non-fatal, but
// still surfaced, in production. Off by default; set to true in test
// binaries that want to catch invariant violations immediately rather
// than via a returned error.
var DebugAssertions = false
