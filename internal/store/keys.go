package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// VariantKey is one persisted guarded variant of an execution point.
type VariantKey struct {
	SliceID         int64
	Position        int
	GuardKey        string
	CompiledGraphID uint32
	Priority        uint32
	ForkedIDs       []uint32
}

// Artifact locates the compiled-graph dump of a guard key.
// File is relative to the cache directory.
type Artifact struct {
	GuardKey    string
	SliceID     int64
	File        string
	ContentHash string
}

// ReplaceSliceKeys atomically replaces the variant key list of one slice.
// Positions are assigned from slice order, so keys must already be in rank order.
func (s *Store) ReplaceSliceKeys(ctx context.Context, sliceID int64, keys []VariantKey) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace slice keys: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM variant_keys WHERE slice_id = ?`, sliceID); err != nil {
		return fmt.Errorf("replace slice keys: delete: %w", err)
	}

	for i, k := range keys {
		forked, err := marshalForkedIDs(k.ForkedIDs)
		if err != nil {
			return fmt.Errorf("replace slice keys: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO variant_keys
			(slice_id, position, guard_key, compiled_graph_id, priority, forked_ids)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			sliceID,
			i,
			k.GuardKey,
			int64(k.CompiledGraphID),
			int64(k.Priority),
			forked,
		)
		if err != nil {
			return fmt.Errorf("replace slice keys: insert position %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace slice keys: commit: %w", err)
	}
	return nil
}

// SliceKeys returns the variant keys of one slice in position order.
// Returns an empty slice (not nil) if the slice has no keys.
func (s *Store) SliceKeys(ctx context.Context, sliceID int64) ([]VariantKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slice_id, position, guard_key, compiled_graph_id, priority, forked_ids
		FROM variant_keys
		WHERE slice_id = ?
		ORDER BY position ASC
	`, sliceID)
	if err != nil {
		return nil, fmt.Errorf("query slice keys: %w", err)
	}
	defer rows.Close()

	keys := []VariantKey{}
	for rows.Next() {
		var (
			k       VariantKey
			graphID int64
			prio    int64
			forked  string
		)
		if err := rows.Scan(&k.SliceID, &k.Position, &k.GuardKey, &graphID, &prio, &forked); err != nil {
			return nil, fmt.Errorf("scan slice key: %w", err)
		}
		k.CompiledGraphID = uint32(graphID)
		k.Priority = uint32(prio)
		if k.ForkedIDs, err = unmarshalForkedIDs(forked); err != nil {
			return nil, fmt.Errorf("slice %d position %d: %w", k.SliceID, k.Position, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slice keys: %w", err)
	}
	return keys, nil
}

// SliceIDs returns every slice id with persisted keys, ascending.
func (s *Store) SliceIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT slice_id FROM variant_keys ORDER BY slice_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query slice ids: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan slice id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// PruneSlices deletes the variant keys of every slice not in keep.
// Returns the number of deleted rows.
func (s *Store) PruneSlices(ctx context.Context, keep []int64) (int64, error) {
	query := `DELETE FROM variant_keys`
	args := make([]any, len(keep))
	if len(keep) > 0 {
		placeholders := make([]string, len(keep))
		for i, id := range keep {
			placeholders[i] = "?"
			args[i] = id
		}
		query += ` WHERE slice_id NOT IN (` + strings.Join(placeholders, ",") + `)`
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("prune slices: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune slices: rows affected: %w", err)
	}
	return n, nil
}

// PutArtifact records (or updates) the dump location of a guard key.
func (s *Store) PutArtifact(ctx context.Context, a Artifact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (guard_key, slice_id, file, content_hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guard_key) DO UPDATE SET
			slice_id = excluded.slice_id,
			file = excluded.file,
			content_hash = excluded.content_hash
	`, a.GuardKey, a.SliceID, a.File, a.ContentHash)
	if err != nil {
		return fmt.Errorf("put artifact %q: %w", a.GuardKey, err)
	}
	return nil
}

// Artifact looks up the dump of a guard key. Returns ErrNotFound if absent.
func (s *Store) Artifact(ctx context.Context, guardKey string) (Artifact, error) {
	a := Artifact{GuardKey: guardKey}
	err := s.db.QueryRowContext(ctx, `
		SELECT slice_id, file, content_hash FROM artifacts WHERE guard_key = ?
	`, guardKey).Scan(&a.SliceID, &a.File, &a.ContentHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("artifact %q: %w", guardKey, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact %q: %w", guardKey, err)
	}
	return a, nil
}

// Artifacts returns every artifact ordered by guard key.
func (s *Store) Artifacts(ctx context.Context) ([]Artifact, error) {
	return s.queryArtifacts(ctx, `
		SELECT guard_key, slice_id, file, content_hash
		FROM artifacts
		ORDER BY guard_key COLLATE BINARY ASC
	`)
}

// OrphanArtifacts returns artifacts no variant key references.
func (s *Store) OrphanArtifacts(ctx context.Context) ([]Artifact, error) {
	return s.queryArtifacts(ctx, `
		SELECT a.guard_key, a.slice_id, a.file, a.content_hash
		FROM artifacts a
		WHERE NOT EXISTS (SELECT 1 FROM variant_keys v WHERE v.guard_key = a.guard_key)
		ORDER BY a.guard_key COLLATE BINARY ASC
	`)
}

// DeleteArtifact removes the artifact row of a guard key.
func (s *Store) DeleteArtifact(ctx context.Context, guardKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE guard_key = ?`, guardKey); err != nil {
		return fmt.Errorf("delete artifact %q: %w", guardKey, err)
	}
	return nil
}

func (s *Store) queryArtifacts(ctx context.Context, query string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query artifacts: %w", err)
	}
	defer rows.Close()

	out := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.GuardKey, &a.SliceID, &a.File, &a.ContentHash); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}
	return out, nil
}

func marshalForkedIDs(ids []uint32) (string, error) {
	if ids == nil {
		ids = []uint32{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal forked ids: %w", err)
	}
	return string(data), nil
}

func unmarshalForkedIDs(data string) ([]uint32, error) {
	var ids []uint32
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal forked ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}
