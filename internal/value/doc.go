// Package value provides the typed value union used for table row data.
//
// This package contains leaf types only. Every other internal package may
// import value; value imports nothing internal.
//
// Key design constraints:
//   - Value is sealed: only Null, String, Int, Float, Bool, Array and Object
//     implement it, so row data can be checked against a schema without
//     reflection
//   - Object keys are iterated in SortedKeys order wherever output must be
//     deterministic (JSON, canonical hashing, diffs)
//   - Int and Float stay distinct through every decoder; 1 and 1.0 are
//     different kinds
package value
