// Package sim provides the experiment simulation engine for checkout-sim.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - assignment.go: hash-based, salt-scoped variant assignment
//   - funnel.go: funnel states and the variant-dependent transition table
//   - simulator.go: per-user session walk and parallel population generation
//
// # Architecture
//
// The sim package owns configuration, the error taxonomy and session types;
// analysis lives in sub-packages:
//   - sim/metrics/: pure reduction of event records into per-variant samples
//   - sim/stats/: proportion and mean tests, guardrails, ship decision
//   - sim/sensitivity/: Monte-Carlo power grid over sample size and uplift
//   - sim/sink/: JSON-lines and SQLite sinks for records
//   - sim/telemetry/: Prometheus counters for generation and grid progress
//   - sim/trace/: data-quality skip and check recording
//
// # Randomness
//
// No generator is shared across users. Each session draws from a stream
// seeded by the run seed XOR fnv1a64("user/" + userID) (see rng.go), so
// adding users or days never changes sessions already generated.
package sim
