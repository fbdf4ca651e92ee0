package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/featuretables/internal/action"
	"github.com/roach88/featuretables/internal/registry"
)

// RecordTransition appends a Feature Action transition.
// Uses ON CONFLICT(seq) DO NOTHING for idempotency - a replayed seq is
// silently ignored.
func (s *Store) RecordTransition(ctx context.Context, seq int64, t action.Transition) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transitions
		(seq, feature_id, activation_id, from_state, to_state, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		seq,
		t.FeatureID,
		t.ActivationID,
		t.From.String(),
		t.To.String(),
		t.ErrText(),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// RecordCommit journals one registry commit: the commit row itself plus
// the table's current contributions and effective rows. A dropped table's
// contributions and rows are deleted. Everything is written in one
// transaction.
func (s *Store) RecordCommit(ctx context.Context, c registry.Commit) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE table_name = ?`, c.Name); err != nil {
			return fmt.Errorf("record commit: clear contributions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM effective_rows WHERE table_name = ?`, c.Name); err != nil {
			return fmt.Errorf("record commit: clear rows: %w", err)
		}

		if c.Dropped || c.Table == nil {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO table_commits (version, table_name, dropped)
				VALUES (?, ?, 1)
				ON CONFLICT(version) DO NOTHING
			`, c.Version, c.Name)
			if err != nil {
				return fmt.Errorf("record commit: %w", err)
			}
			return nil
		}

		fp, err := tableFingerprint(c.Table.Rows)
		if err != nil {
			return fmt.Errorf("record commit: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO table_commits
			(version, table_name, schema_tag, declared, dropped, row_count, fingerprint)
			VALUES (?, ?, ?, ?, 0, ?, ?)
			ON CONFLICT(version) DO NOTHING
		`,
			c.Version,
			c.Name,
			c.Table.Schema.Tag,
			boolInt(c.Table.Declared),
			c.Table.Len(),
			fp,
		)
		if err != nil {
			return fmt.Errorf("record commit: %w", err)
		}

		for i, info := range c.Contributions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO contributions
				(table_name, contribution_id, feature_id, activation_id, priority, op_count, position)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`,
				c.Name,
				int64(info.ID),
				info.FeatureID,
				info.ActivationID,
				info.Priority,
				info.Ops,
				i,
			)
			if err != nil {
				return fmt.Errorf("record commit: contribution %d: %w", info.ID, err)
			}
		}

		for key, row := range c.Table.All() {
			data, err := marshalRow(row)
			if err != nil {
				return fmt.Errorf("record commit: row %s: %w", key, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO effective_rows (table_name, row_key, row_data, version)
				VALUES (?, ?, ?, ?)
			`, c.Name, string(key), data, c.Version)
			if err != nil {
				return fmt.Errorf("record commit: row %s: %w", key, err)
			}
		}
		return nil
	})
}

// CommitHook returns a registry hook that journals every commit.
// Write failures are logged; the registry never blocks on the journal.
func (s *Store) CommitHook(ctx context.Context) registry.CommitHook {
	return func(c registry.Commit) {
		if err := s.RecordCommit(ctx, c); err != nil {
			slog.Error("journal commit failed",
				"error", err,
				"table", c.Name,
				"version", c.Version,
			)
		}
	}
}
