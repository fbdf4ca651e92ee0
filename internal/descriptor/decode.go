package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

// Format is a descriptor file encoding.
type Format string

const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported descriptor extension %q", filepath.Ext(path))
	}
}

// ParseError reports a decoding problem, with a CUE position when one is
// known.
type ParseError struct {
	File    string
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ParseError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(file string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ParseError{File: file, Field: "cue", Message: err.Error()}
	}

	first := errs[0]
	pe := &ParseError{File: file, Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		pe.Pos = positions[0]
	}
	return pe
}

type rawDescriptor struct {
	Feature string     `json:"feature" yaml:"feature"`
	Tables  []rawEntry `json:"tables" yaml:"tables"`
}

type rawEntry struct {
	Table    string   `json:"table" yaml:"table"`
	Schema   string   `json:"schema" yaml:"schema"`
	Priority int      `json:"priority" yaml:"priority"`
	Sources  []string `json:"sources" yaml:"sources"`
	Ops      []rawOp  `json:"ops" yaml:"ops"`
}

type rawOp struct {
	Op  string         `json:"op" yaml:"op"`
	Key any            `json:"key" yaml:"key"`
	Row map[string]any `json:"row" yaml:"row"`
}

// Parse decodes a descriptor in the given format. file is used in error
// messages and recorded as the descriptor's origin.
func Parse(data []byte, format Format, file string) (*Descriptor, error) {
	var raw rawDescriptor
	if err := decode(data, format, file, &raw); err != nil {
		return nil, err
	}
	d, err := raw.build()
	if err != nil {
		return nil, &ParseError{File: file, Field: "tables", Message: err.Error()}
	}
	d.Origin = file
	return d, nil
}

// ParseFile is Parse with the format taken from file's extension.
func ParseFile(data []byte, file string) (*Descriptor, error) {
	format, err := FormatFor(file)
	if err != nil {
		return nil, err
	}
	return Parse(data, format, file)
}

// decode fills out from data. CUE is evaluated and exported to JSON first,
// so all three formats share the strict JSON or YAML struct decoding.
func decode(data []byte, format Format, file string, out any) error {
	switch format {
	case FormatCUE:
		js, err := exportCUE(data, file)
		if err != nil {
			return err
		}
		return decodeJSON(js, file, out)
	case FormatJSON:
		return decodeJSON(data, file, out)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return &ParseError{File: file, Field: "yaml", Message: err.Error()}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q", format)
	}
}

func exportCUE(data []byte, file string) ([]byte, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(file))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(file, err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(file, err)
	}
	js, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(file, err)
	}
	return js, nil
}

func decodeJSON(data []byte, file string, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &ParseError{File: file, Field: "json", Message: err.Error()}
	}
	return nil
}

func (raw rawDescriptor) build() (*Descriptor, error) {
	d := &Descriptor{Feature: raw.Feature, Tables: make([]Entry, len(raw.Tables))}
	for i, re := range raw.Tables {
		e := Entry{Table: re.Table, Schema: re.Schema, Priority: re.Priority}
		for _, s := range re.Sources {
			e.Sources = append(e.Sources, Ref(s))
		}
		for j, ro := range re.Ops {
			op, err := ro.build()
			if err != nil {
				return nil, fmt.Errorf("tables[%d].ops[%d]: %w", i, j, err)
			}
			e.Ops = append(e.Ops, op)
		}
		d.Tables[i] = e
	}
	return d, nil
}

func (ro rawOp) build() (table.Op, error) {
	key, err := normalizeKey(ro.Key)
	if err != nil {
		return table.Op{}, err
	}
	op := table.Op{Kind: table.OpKind(strings.ToLower(ro.Op)), Key: key}
	if ro.Row != nil {
		row, err := value.ObjectFromGo(ro.Row)
		if err != nil {
			return table.Op{}, fmt.Errorf("row: %w", err)
		}
		op.Row = row
	}
	return op, nil
}

// normalizeKey turns a decoded key (string or integer) into a RowKey.
func normalizeKey(k any) (table.RowKey, error) {
	switch key := k.(type) {
	case nil:
		return "", nil
	case string:
		return table.RowKey(key), nil
	case int:
		return table.IntKey(int64(key)), nil
	case int64:
		return table.IntKey(key), nil
	case uint64:
		return table.RowKey(strconv.FormatUint(key, 10)), nil
	case json.Number:
		n, err := key.Int64()
		if err != nil {
			return "", fmt.Errorf("key %s: not an integer", key)
		}
		return table.IntKey(n), nil
	case float64:
		if key != float64(int64(key)) {
			return "", fmt.Errorf("key %v: not an integer", key)
		}
		return table.IntKey(int64(key)), nil
	default:
		return "", fmt.Errorf("key: unsupported type %T", k)
	}
}

// rawRows decodes a {key: row} mapping.
type rawRows map[string]map[string]any

func (rr rawRows) build() (table.Rows, error) {
	rows := make(table.Rows, len(rr))
	for k, r := range rr {
		if k == "" {
			return nil, fmt.Errorf("empty row key")
		}
		row, err := value.ObjectFromGo(r)
		if err != nil {
			return nil, fmt.Errorf("row %s: %w", k, err)
		}
		if row == nil {
			row = value.Object{}
		}
		rows[table.RowKey(k)] = row
	}
	return rows, nil
}

type rawRowSet struct {
	Rows rawRows `json:"rows" yaml:"rows"`
}

// ParseRowSet decodes a source row-set asset: {rows: {key: row}}.
func ParseRowSet(data []byte, format Format, file string) (table.Rows, error) {
	var raw rawRowSet
	if err := decode(data, format, file, &raw); err != nil {
		return nil, err
	}
	rows, err := raw.Rows.build()
	if err != nil {
		return nil, &ParseError{File: file, Field: "rows", Message: err.Error()}
	}
	return rows, nil
}

// BaseTable is a declared table with its schema and base rows.
type BaseTable struct {
	Name   string
	Schema table.Schema
	Rows   table.Rows
}

type rawBaseTable struct {
	Table  string            `json:"table" yaml:"table"`
	Schema string            `json:"schema" yaml:"schema"`
	Fields map[string]string `json:"fields" yaml:"fields"`
	Rows   rawRows           `json:"rows" yaml:"rows"`
}

type rawTableSet struct {
	Tables []rawBaseTable `json:"tables" yaml:"tables"`
}

// ParseTableSet decodes a base-table file:
//
//	tables:
//	  - table: Loot
//	    schema: LootRow
//	    fields: {id: int, dropRate: float}
//	    rows:
//	      "1": {id: 1, dropRate: 0.1}
func ParseTableSet(data []byte, format Format, file string) ([]BaseTable, error) {
	var raw rawTableSet
	if err := decode(data, format, file, &raw); err != nil {
		return nil, err
	}
	out := make([]BaseTable, len(raw.Tables))
	for i, rt := range raw.Tables {
		if rt.Table == "" {
			return nil, &ParseError{File: file, Field: fmt.Sprintf("tables[%d]", i), Message: "table is empty"}
		}
		schema := table.Schema{Tag: rt.Schema}
		if len(rt.Fields) > 0 {
			schema.Fields = make(map[string]value.Kind, len(rt.Fields))
			for name, kind := range rt.Fields {
				k, err := value.ParseKind(kind)
				if err != nil {
					return nil, &ParseError{File: file, Field: fmt.Sprintf("tables[%d].fields.%s", i, name), Message: err.Error()}
				}
				schema.Fields[name] = k
			}
		}
		rows, err := rt.Rows.build()
		if err != nil {
			return nil, &ParseError{File: file, Field: fmt.Sprintf("tables[%d].rows", i), Message: err.Error()}
		}
		out[i] = BaseTable{Name: rt.Table, Schema: schema, Rows: rows}
	}
	return out, nil
}

// ParseTableSetFile is ParseTableSet with the format taken from file's
// extension.
func ParseTableSetFile(data []byte, file string) ([]BaseTable, error) {
	format, err := FormatFor(file)
	if err != nil {
		return nil, err
	}
	return ParseTableSet(data, format, file)
}
