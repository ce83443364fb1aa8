// Package service implements the streaming message pipeline: the session
// router owning the 1-worker-to-(0|1)-client mapping, the persistence
// gateway deciding durability per event, and the delta accumulator
// reconstructing content blocks from streamed frames.
package service

// ModuleName tags this subsystem's log lines.
const ModuleName = "stream"
