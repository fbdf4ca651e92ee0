package descriptor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/featuretables/internal/table"
	"github.com/roach88/featuretables/internal/value"
)

const dlc1YAML = `
feature: DLC1
tables:
  - table: Loot
    schema: LootRow
    priority: 10
    ops:
      - op: replace
        key: 1
        row: {id: 1, dropRate: 0.5}
      - op: remove
        key: goblin
`

const dlc1JSON = `{
  "feature": "DLC1",
  "tables": [{
    "table": "Loot",
    "schema": "LootRow",
    "priority": 10,
    "ops": [
      {"op": "replace", "key": 1, "row": {"id": 1, "dropRate": 0.5}},
      {"op": "remove", "key": "goblin"}
    ]
  }]
}`

const dlc1CUE = `
feature: "DLC1"
tables: [{
	table:    "Loot"
	schema:   "LootRow"
	priority: 10
	ops: [
		{op: "replace", key: 1, row: {id: 1, dropRate: 0.5}},
		{op: "remove", key: "goblin"},
	]
}]
`

func wantDLC1() *Descriptor {
	return &Descriptor{
		Feature: "DLC1",
		Tables: []Entry{{
			Table:    "Loot",
			Schema:   "LootRow",
			Priority: 10,
			Ops: []table.Op{
				table.Replace("1", value.NewObject(value.O("id", value.Int(1)), value.O("dropRate", value.Float(0.5)))),
				table.Remove("goblin"),
			},
		}},
	}
}

func TestParse_AllFormatsAgree(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		source string
	}{
		{"yaml", "dlc1.yaml", dlc1YAML},
		{"json", "dlc1.json", dlc1JSON},
		{"cue", "dlc1.cue", dlc1CUE},
	}

	want := wantDLC1()
	wantFP, err := want.Fingerprint()
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseFile([]byte(tt.source), tt.file)
			require.NoError(t, err)

			assert.Equal(t, tt.file, d.Origin)
			d.Origin = ""
			assert.Equal(t, want, d)

			fp, err := d.Fingerprint()
			require.NoError(t, err)
			assert.Equal(t, wantFP, fp)
		})
	}
}

func TestParse_YAMLUnknownField(t *testing.T) {
	_, err := ParseFile([]byte("feature: X\ntables: []\nextra: 1\n"), "bad.yaml")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "yaml", pe.Field)
}

func TestParse_JSONUnknownField(t *testing.T) {
	_, err := ParseFile([]byte(`{"tables": [{"table": "Loot", "prio": 1}]}`), "bad.json")
	assert.ErrorContains(t, err, "prio")
}

func TestParse_CUEErrorHasPosition(t *testing.T) {
	_, err := ParseFile([]byte("tables: [{table: \"Loot\"\n"), "broken.cue")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "cue", pe.Field)
	assert.True(t, pe.Pos.IsValid())
}

func TestParse_CUEMustBeConcrete(t *testing.T) {
	_, err := ParseFile([]byte("feature: string\ntables: []\n"), "open.cue")
	assert.Error(t, err)
}

func TestParse_FractionalKeyRejected(t *testing.T) {
	_, err := ParseFile([]byte(`{"tables": [{"table": "Loot", "ops": [{"op": "remove", "key": 1.5}]}]}`), "k.json")
	assert.ErrorContains(t, err, "not an integer")
}

func TestFormatFor(t *testing.T) {
	f, err := FormatFor("a/b.YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	_, err = FormatFor("a/b.toml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	d := &Descriptor{Tables: []Entry{
		{Table: "", Sources: []Ref{"ok.yaml", ""}},
		{Table: "Loot", Ops: []table.Op{{Kind: "upsert", Key: "1"}}},
		{Table: "Loot"},
	}}

	errs := Validate(d)
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	assert.Equal(t, []string{
		"tables[0]: table is empty",
		"tables[0].sources[1]: source is empty",
		`tables[1].ops[0]: unknown op "upsert"`,
		`tables[2]: table "Loot" already targeted by tables[1]`,
	}, msgs)

	assert.Empty(t, Validate(wantDLC1()))
}

func TestAssetRefs(t *testing.T) {
	d := &Descriptor{Tables: []Entry{
		{Table: "A", Sources: []Ref{"x.yaml", "y.yaml"}},
		{Table: "B", Sources: []Ref{"y.yaml", "", "z.yaml"}},
	}}
	assert.Equal(t, []Ref{"x.yaml", "y.yaml", "z.yaml"}, d.AssetRefs())
}

func TestContributions(t *testing.T) {
	cs := wantDLC1().Contributions("DLC1", "act-1")
	require.Len(t, cs, 1)
	assert.Equal(t, "DLC1", cs[0].FeatureID)
	assert.Equal(t, "act-1", cs[0].ActivationID)
	assert.Equal(t, "LootRow", cs[0].SchemaTag)
	assert.Equal(t, 10, cs[0].Priority)
	assert.Len(t, cs[0].Ops, 2)
}

func TestParseTableSet(t *testing.T) {
	src := `
tables:
  - table: Loot
    schema: LootRow
    fields: {id: int, dropRate: float}
    rows:
      "1": {id: 1, dropRate: 0.1}
`
	tables, err := ParseTableSet([]byte(src), FormatYAML, "base.yaml")
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "Loot", tables[0].Name)
	assert.Equal(t, value.KindFloat, tables[0].Schema.Fields["dropRate"])
	assert.Equal(t, value.Float(0.1), tables[0].Rows["1"]["dropRate"])

	_, err = ParseTableSet([]byte("tables:\n  - table: T\n    fields: {x: decimal}\n"), FormatYAML, "bad.yaml")
	assert.ErrorContains(t, err, "tables[0].fields.x")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileLoader_ExpandsSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dlc1/loot_rows.yaml", `
rows:
  "2": {id: 2, dropRate: 0.2}
  "1": {id: 1, dropRate: 0.3}
`)
	writeFile(t, dir, "dlc1/feature.yaml", `
feature: DLC1
tables:
  - table: Loot
    sources: [dlc1/loot_rows.yaml]
    ops:
      - {op: remove, key: 2}
`)

	l := NewFileLoader(dir)
	assert.True(t, l.Exists("dlc1/loot_rows.yaml"))
	assert.False(t, l.Exists("dlc1/missing.yaml"))

	d, err := l.Load(context.Background(), "dlc1/feature.yaml")
	require.NoError(t, err)
	require.Len(t, d.Tables, 1)

	ops := d.Tables[0].Ops
	require.Len(t, ops, 3)
	assert.Equal(t, table.Replace("1", value.NewObject(value.O("id", value.Int(1)), value.O("dropRate", value.Float(0.3)))), ops[0])
	assert.Equal(t, table.OpReplace, ops[1].Kind)
	assert.Equal(t, table.RowKey("2"), ops[1].Key)
	assert.Equal(t, table.Remove("2"), ops[2])
	assert.Equal(t, []Ref{"dlc1/loot_rows.yaml"}, d.AssetRefs())
}

func TestFileLoader_NoRootResolvesSourcesNextToDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dlc2/rows/loot.yaml", `
rows:
  "1": {id: 1, dropRate: 0.9}
`)
	writeFile(t, dir, "dlc2/feature.yaml", `
tables:
  - table: Loot
    sources: [rows/loot.yaml]
`)

	l := NewFileLoader("")
	d, err := l.Load(context.Background(), Ref(filepath.Join(dir, "dlc2", "feature.yaml")))
	require.NoError(t, err)
	require.Len(t, d.Tables, 1)
	require.Len(t, d.Tables[0].Ops, 1)
	assert.Equal(t, table.Replace("1", value.NewObject(value.O("id", value.Int(1)), value.O("dropRate", value.Float(0.9)))), d.Tables[0].Ops[0])
}

func TestFileLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLoader(dir)

	_, err := l.Load(context.Background(), "nope.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	writeFile(t, dir, "bad.yaml", "tables:\n  - table: \"\"\n")
	_, err = l.Load(context.Background(), "bad.yaml")
	assert.ErrorContains(t, err, "tables[0]: table is empty")

	writeFile(t, dir, "src.yaml", "tables:\n  - table: T\n    sources: [gone.yaml]\n")
	_, err = l.Load(context.Background(), "src.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Load(ctx, "src.yaml")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLoader(t *testing.T) {
	m := NewMemoryLoader()
	m.Put("dlc1", wantDLC1())
	m.PutRows("rows", table.Rows{"9": value.NewObject(value.O("id", value.Int(9)))})
	m.Put("with-src", &Descriptor{Tables: []Entry{{Table: "Loot", Sources: []Ref{"rows"}}}})

	d, err := m.Load(context.Background(), "dlc1")
	require.NoError(t, err)
	assert.Equal(t, "dlc1", d.Origin)
	assert.Equal(t, 1, m.Calls("dlc1"))

	d.Tables[0].Ops[0].Row["dropRate"] = value.Float(7)
	again, err := m.Load(context.Background(), "dlc1")
	require.NoError(t, err)
	assert.Equal(t, value.Float(0.5), again.Tables[0].Ops[0].Row["dropRate"], "each load returns a fresh copy")

	d, err = m.Load(context.Background(), "with-src")
	require.NoError(t, err)
	assert.Equal(t, table.RowKey("9"), d.Tables[0].Ops[0].Key)

	_, err = m.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	boom := errors.New("boom")
	m.Fail("dlc1", boom)
	_, err = m.Load(context.Background(), "dlc1")
	assert.ErrorIs(t, err, boom)
}

func TestMemoryLoader_Hold(t *testing.T) {
	m := NewMemoryLoader()
	m.Put("slow", wantDLC1())
	release := m.Hold("slow")

	done := make(chan error, 1)
	go func() {
		_, err := m.Load(context.Background(), "slow")
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("load returned before release")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	require.NoError(t, <-done)
	release()

	release = m.Hold("slow")
	defer release()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Load(ctx, "slow")
	assert.ErrorIs(t, err, context.Canceled)
}
