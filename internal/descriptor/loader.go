package descriptor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/featuretables/internal/table"
)

// Loader resolves an opaque reference into a validated descriptor with its
// sources expanded. Implementations must honor ctx cancellation and must
// be safe to call from any goroutine.
type Loader interface {
	Load(ctx context.Context, ref Ref) (*Descriptor, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, ref Ref) (*Descriptor, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, ref Ref) (*Descriptor, error) {
	return f(ctx, ref)
}

// ErrNotFound is returned when a reference names no asset.
var ErrNotFound = errors.New("asset not found")

// rowSource fetches a source row set by reference.
type rowSource func(ctx context.Context, ref Ref) (table.Rows, error)

// finish validates d and expands its sources into leading Replace ops.
func finish(ctx context.Context, d *Descriptor, rows rowSource) (*Descriptor, error) {
	if errs := Validate(d); len(errs) > 0 {
		return nil, fmt.Errorf("invalid descriptor %s: %w", d.Origin, errors.Join(errs...))
	}
	for i := range d.Tables {
		e := &d.Tables[i]
		var expanded []table.Op
		for _, src := range e.Sources {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			set, err := rows(ctx, src)
			if err != nil {
				return nil, fmt.Errorf("tables[%d] source %s: %w", i, src, err)
			}
			for _, key := range set.SortedKeys() {
				expanded = append(expanded, table.Replace(key, set[key]))
			}
		}
		if len(expanded) > 0 {
			e.Ops = append(expanded, e.Ops...)
		}
	}
	return d, nil
}

// FileLoader reads descriptors and source row sets from a directory.
// References are slash-separated paths relative to Root. With an empty
// Root, descriptor refs are used as given and a descriptor's source refs
// resolve against the descriptor's own directory.
type FileLoader struct {
	Root string
}

// NewFileLoader creates a loader rooted at root.
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{Root: root}
}

// Resolve returns the file path for ref. Absolute references are used as is.
func (l *FileLoader) Resolve(ref Ref) string {
	p := filepath.FromSlash(string(ref))
	if filepath.IsAbs(p) || l.Root == "" {
		return p
	}
	return filepath.Join(l.Root, p)
}

// Exists reports whether ref names an existing file.
func (l *FileLoader) Exists(ref Ref) bool {
	info, err := os.Stat(l.Resolve(ref))
	return err == nil && !info.IsDir()
}

// Load implements Loader.
func (l *FileLoader) Load(ctx context.Context, ref Ref) (*Descriptor, error) {
	data, err := l.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	d, err := ParseFile(data, l.Resolve(ref))
	if err != nil {
		return nil, err
	}
	if l.Root == "" {
		return finish(ctx, d, NewFileLoader(filepath.Dir(l.Resolve(ref))).loadRows)
	}
	return finish(ctx, d, l.loadRows)
}

func (l *FileLoader) loadRows(ctx context.Context, ref Ref) (table.Rows, error) {
	data, err := l.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	path := l.Resolve(ref)
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	return ParseRowSet(data, format, path)
}

func (l *FileLoader) read(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.Resolve(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

// MemoryLoader serves descriptors and row sets from memory.
// Tests use Fail and Hold to script load failures and slow loads.
type MemoryLoader struct {
	mu          sync.Mutex
	descriptors map[Ref]*Descriptor
	rowSets     map[Ref]table.Rows
	failures    map[Ref]error
	gates       map[Ref]chan struct{}
	calls       map[Ref]int
}

// NewMemoryLoader creates an empty in-memory loader.
func NewMemoryLoader() *MemoryLoader {
	return &MemoryLoader{
		descriptors: make(map[Ref]*Descriptor),
		rowSets:     make(map[Ref]table.Rows),
		failures:    make(map[Ref]error),
		gates:       make(map[Ref]chan struct{}),
		calls:       make(map[Ref]int),
	}
}

// Put stores a descriptor under ref.
func (m *MemoryLoader) Put(ref Ref, d *Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := d.Clone()
	if c.Origin == "" {
		c.Origin = string(ref)
	}
	m.descriptors[ref] = c
}

// PutRows stores a source row set under ref.
func (m *MemoryLoader) PutRows(ref Ref, rows table.Rows) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowSets[ref] = rows.Clone()
}

// Fail makes every load of ref return err.
func (m *MemoryLoader) Fail(ref Ref, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[ref] = err
}

// Hold blocks loads of ref until the returned release func is called or
// the load's context is cancelled.
func (m *MemoryLoader) Hold(ref Ref) (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gates[ref] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.gates, ref)
			m.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times ref was loaded.
func (m *MemoryLoader) Calls(ref Ref) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[ref]
}

// Load implements Loader.
func (m *MemoryLoader) Load(ctx context.Context, ref Ref) (*Descriptor, error) {
	m.mu.Lock()
	m.calls[ref]++
	gate := m.gates[ref]
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	failure := m.failures[ref]
	d, ok := m.descriptors[ref]
	m.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return finish(ctx, d.Clone(), m.loadRows)
}

func (m *MemoryLoader) loadRows(_ context.Context, ref Ref) (table.Rows, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.rowSets[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrNotFound)
	}
	return rows.Clone(), nil
}
