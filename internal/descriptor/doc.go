// Package descriptor defines the Override Descriptor: the immutable, loaded
// definition of what one feature contributes to each table.
//
// Descriptors are decoded from CUE, YAML or JSON (chosen by file extension)
// and resolved by a Loader, which also expands source row sets into Replace
// ops. The engine core depends only on the Loader interface and the
// Descriptor type; the file formats are outer collaborators.
//
// A descriptor document looks like:
//
//	feature: "DLC1"
//	tables: [{
//		table:    "Loot"
//		schema:   "LootRow"
//		priority: 10
//		sources: ["dlc1/loot_rows.yaml"]
//		ops: [{op: "replace", key: 1, row: {id: 1, dropRate: 0.5}}]
//	}]
package descriptor
