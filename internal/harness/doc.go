// Package harness runs feature override scenarios against a real engine.
//
// A scenario declares base tables, describes the features it uses and
// drives them through a list of steps. Every step is drained to
// completion before the next one starts, so traces are deterministic and
// can be compared against golden files.
//
// # Scenario Format
//
//	name: loot_dlc_layering
//	description: "Two DLCs override the same loot row"
//	tables: tables.yaml          # base tables, relative to the scenario
//	lazy_tables: true            # optional, default true
//	features:
//	  DLC1: {ref: dlc1.yaml}     # descriptor file, relative to the scenario
//	  DLC2:
//	    descriptor:              # inline descriptor
//	      tables:
//	        - table: Loot
//	          priority: 10
//	          ops: [{op: replace, key: 1, row: {id: 1, dropRate: 0.9}}]
//	  Broken: {fail: "asset corrupted"}
//	steps:
//	  - activate: DLC1
//	  - batch:                   # enqueued together, drained once
//	      - activate: DLC2
//	      - cancel: DLC2
//	  - reset: Broken
//	    error: INVALID_TRANSITION
//	  - expect:
//	      - {type: feature_state, feature: DLC1, state: Active}
//	assertions:
//	  - type: table_rows
//	    table: Loot
//	    rows: {"1": {id: 1, dropRate: 0.5}}
//
// # Assertion Types
//
//   - feature_state: the feature is in state
//   - feature_error: the feature failed with error code
//   - transitions: the feature's target states, in order
//   - table_rows: the table's effective rows are exactly rows
//   - row: the row exists and its fields include fields
//   - row_absent: the row does not exist
//   - table_absent: the table does not exist
//   - winner: feature decides the row (empty feature means no contribution does)
//
// # Deterministic Testing
//
// Activation IDs come from testutil.SequenceIDs ("act-0001", ...), and the
// trace records transitions and commits in the order the engine produced
// them, interleaved with step markers.
package harness
