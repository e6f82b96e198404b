// Package harness runs conformance scenarios against the weft engine.
//
// A scenario is a YAML file naming a CUE program, a set of agents and a
// sequence of steps. Each run loads the program into a fresh graph, builds
// a real lock manager and engine around a manual clock and an in-memory
// store, and executes the steps in order:
//
//	name: write_contention
//	description: a second writer is denied and queued
//	program: ../../compiler/testdata/chain
//	agents: [alice, bob]
//	steps:
//	  - action: acquire_write
//	    agent: alice
//	    functions: [fn_c]
//	  - action: acquire_write
//	    agent: bob
//	    functions: [fn_c]
//	    expect: {error: LOCK_DENIED, holder: alice, position: 1}
//
// Steps without an expect clause must succeed. Commit steps name nodes as
// "function.node" and the harness resolves them to ids; nodes introduced by
// insert_node are allocated fresh ids and can be referenced by later steps.
//
// Every step appends a TraceEvent whose function lists are sorted names.
// Traces serialize to canonical JSON, so golden files compared with
// RunWithGolden stay byte-stable across runs.
//
// Because the clock only moves on advance steps, expiry, sweeps and
// heartbeat reclamation are deterministic.
package harness
