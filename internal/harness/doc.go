// Package harness runs conversation scenarios and checks their outcome.
//
// A scenario is a YAML file naming a conversation mode, a list of steps
// (inserts, patches, removals, clears, loads and so on) and a list of
// assertions over the final state. Steps are applied directly to a
// history.Conversation built with deterministic options: a fixed wall
// clock for placeholders and a fixed sequence of load token ids.
//
// After the steps run, the harness captures a Snapshot: the linear
// history, roots, orphans, every change, fault and load token observed,
// and the insert outcomes. Assertions are evaluated against it, and
// golden tests compare its canonical JSON with testdata/golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
package harness
