package store

import (
	"fmt"

	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

// marshalRow serializes a row to canonical JSON.
func marshalRow(row table.Row) (string, error) {
	if row == nil {
		row = value.Object{}
	}
	data, err := value.MarshalCanonical(row)
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	return string(data), nil
}

// unmarshalRow deserializes a stored row.
func unmarshalRow(data string) (table.Row, error) {
	v, err := value.Unmarshal([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal row: %w", err)
	}
	obj, ok := v.(value.Object)
	if !ok {
		return nil, fmt.Errorf("unmarshal row: expected object, got %s", v.Kind())
	}
	return obj, nil
}

// tableFingerprint hashes a committed table's rows in key order.
func tableFingerprint(rows table.Rows) (string, error) {
	doc := make(map[string]any, len(rows))
	for k, row := range rows {
		doc[string(k)] = row
	}
	return value.Fingerprint(value.DomainTable, doc)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
