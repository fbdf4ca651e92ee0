package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/registry"
	"github.com/roach88/featuretables/internal/table"
)

// TransitionRecord is a journaled transition.
type TransitionRecord struct {
	Seq          int64        `json:"seq"`
	FeatureID    string       `json:"feature_id"`
	ActivationID string       `json:"activation_id,omitempty"`
	From         action.State `json:"from"`
	To           action.State `json:"to"`
	Error        string       `json:"error,omitempty"`
}

// CommitRecord is a journaled table commit.
type CommitRecord struct {
	Version     int64  `json:"version"`
	Table       string `json:"table"`
	SchemaTag   string `json:"schema,omitempty"`
	Declared    bool   `json:"declared"`
	Dropped     bool   `json:"dropped"`
	RowCount    int    `json:"row_count"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// ReadTransitions returns journaled transitions ordered by seq.
// An empty feature returns every feature's transitions.
//
// Returns an empty slice (not nil) if nothing was journaled.
func (s *Store) ReadTransitions(ctx context.Context, feature string) ([]TransitionRecord, error) {
	query := `
		SELECT seq, feature_id, activation_id, from_state, to_state, error
		FROM transitions
	`
	var args []any
	if feature != "" {
		query += ` WHERE feature_id = ?`
		args = append(args, feature)
	}
	query += ` ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var (
			r        TransitionRecord
			from, to string
		)
		if err := rows.Scan(&r.Seq, &r.FeatureID, &r.ActivationID, &from, &to, &r.Error); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if r.From, err = action.ParseState(from); err != nil {
			return nil, fmt.Errorf("transition %d: %w", r.Seq, err)
		}
		if r.To, err = action.ParseState(to); err != nil {
			return nil, fmt.Errorf("transition %d: %w", r.Seq, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return records, nil
}

// ReadCommits returns a table's journaled commits ordered by version.
// An empty name returns every table's commits.
func (s *Store) ReadCommits(ctx context.Context, name string) ([]CommitRecord, error) {
	query := `
		SELECT version, table_name, schema_tag, declared, dropped, row_count, fingerprint
		FROM table_commits
	`
	var args []any
	if name != "" {
		query += ` WHERE table_name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query commits: %w", err)
	}
	defer rows.Close()

	records := []CommitRecord{}
	for rows.Next() {
		var (
			r                 CommitRecord
			declared, dropped int
		)
		if err := rows.Scan(&r.Version, &r.Table, &r.SchemaTag, &declared, &dropped, &r.RowCount, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		r.Declared, r.Dropped = declared != 0, dropped != 0
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return records, nil
}

// ReadEffectiveRows returns a table's rows as of its latest commit.
// The bool is false when the table has no live commit (never journaled or
// dropped).
func (s *Store) ReadEffectiveRows(ctx context.Context, name string) (table.Rows, bool, error) {
	var dropped int
	err := s.db.QueryRowContext(ctx, `
		SELECT dropped FROM table_commits
		WHERE table_name = ?
		ORDER BY version DESC
		LIMIT 1
	`, name).Scan(&dropped)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query latest commit: %w", err)
	}
	if dropped != 0 {
		return nil, false, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT row_key, row_data
		FROM effective_rows
		WHERE table_name = ?
		ORDER BY row_key COLLATE BINARY ASC
	`, name)
	if err != nil {
		return nil, false, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	out := table.Rows{}
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, false, fmt.Errorf("scan row: %w", err)
		}
		row, err := unmarshalRow(data)
		if err != nil {
			return nil, false, fmt.Errorf("row %s: %w", key, err)
		}
		out[table.RowKey(key)] = row
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return out, true, nil
}

// ReadContributions returns a table's live contributions at its latest
// commit, in application order.
func (s *Store) ReadContributions(ctx context.Context, name string) ([]registry.ContributionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contribution_id, feature_id, activation_id, priority, op_count
		FROM contributions
		WHERE table_name = ?
		ORDER BY position ASC
	`, name)
	if err != nil {
		return nil, fmt.Errorf("query contributions: %w", err)
	}
	defer rows.Close()

	out := []registry.ContributionInfo{}
	for rows.Next() {
		var (
			info registry.ContributionInfo
			id   int64
		)
		if err := rows.Scan(&id, &info.FeatureID, &info.ActivationID, &info.Priority, &info.Ops); err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		info.ID = table.ContributionID(id)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return out, nil
}

// Tables returns the names of tables whose latest commit is live, sorted.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.table_name
		FROM table_commits c
		WHERE c.version = (SELECT MAX(version) FROM table_commits WHERE table_name = c.table_name)
		  AND c.dropped = 0
		ORDER BY c.table_name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// LastSeq returns the highest journaled transition seq, or 0.
// Used to resume the engine clock against an existing journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transitions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

// LastVersion returns the highest journaled commit version, or 0.
// Used to resume the registry clock against an existing journal.
func (s *Store) LastVersion(ctx context.Context) (int64, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM table_commits`).Scan(&v); err != nil {
		return 0, fmt.Errorf("query last version: %w", err)
	}
	return v.Int64, nil
}
