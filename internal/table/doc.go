// Package table defines the data model shared by the override engine:
// row keys, rows, schemas, row operations, contributions and the error
// taxonomy.
//
// This package contains type definitions and validation only. The registry,
// merge, ledger and action packages all import table; table imports only
// internal/value.
package table
