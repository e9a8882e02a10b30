// Package harness runs replication scenarios.
//
// A scenario seeds a remote collection, drives a replicator and its
// optimistic layer through steps, records every broadcast and checks the
// result with assertions and golden traces.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: remote_patch_leaves_publication
//	description: "A patched record that no longer matches is dropped"
//	options:
//	  sort: [order]
//	  publication: { order: { $lte: 3.5 } }
//	  uuid: false
//	seed:
//	  - { id: 0, uuid: 1000, order: 0 }
//	steps:
//	  - do: connect
//	  - do: remote.patch
//	    id: 0
//	    data: { order: 99 }
//	assertions:
//	  - type: trace_actions
//	    actions: [snapshot, add-listeners, left-pub]
//	  - type: final_state
//	    where: { id: 0 }
//
// # Steps
//
//   - connect, disconnect, change_sort: replicator lifecycle
//   - remote.create, remote.update, remote.patch, remote.remove: writes by
//     another client, delivered through the remote event feed
//   - create, update, patch, remove, patch_many, remove_many, find, get:
//     optimistic operations (options.uuid required)
//   - fail: make the next (or every) remote op fail; mode heal clears rules
//
// Each step may carry expect: { error, result, count }.
//
// # Assertion Types
//
//   - trace_actions: the full broadcast action sequence
//   - trace_contains: some broadcast has the action, source and record subset
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_order: the replica's values of one field, in order
//   - final_state: one record of the replica (or remote) carries values
//
// # Deterministic Testing
//
// uuids come from testutil.SequenceGenerator, remote ids from the memory
// collection and change sequence numbers from the store clock. Optimistic
// steps wait for their remote calls before the next step runs. The same
// scenario therefore always produces the same trace.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/literal_patch.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
