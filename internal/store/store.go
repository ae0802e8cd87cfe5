// Package store persists WorkflowDefinitions in Postgres. The event log
// (internal/eventlog) remains the source of truth for execution history;
// this package holds the static DSL form CRUD operates on, repointing the
// teacher's Postgres pool from a generic workflow schema to this one table.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/swarmx-controlplane/common/db"
	"github.com/lyzr/swarmx-controlplane/internal/apperror"
	"github.com/lyzr/swarmx-controlplane/internal/dag"
)

// WorkflowStore is the Postgres-backed CRUD store for WorkflowDefinitions.
type WorkflowStore struct {
	db *db.DB
}

func New(database *db.DB) *WorkflowStore {
	return &WorkflowStore{db: database}
}

// Migrate creates the workflow_definitions table if absent.
func (s *WorkflowStore) Migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	name TEXT NOT NULL,
	definition_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	_, err := s.db.Exec(ctx, schema)
	if err != nil {
		return apperror.StorageUnavailable(err)
	}
	return nil
}

// Create inserts a new WorkflowDefinition, stamping metadata timestamps and
// assigning an id if one was not already set.
func (s *WorkflowStore) Create(ctx context.Context, def dag.Definition) (dag.Definition, error) {
	if def.ID == uuid.Nil {
		def.ID = uuid.New()
	}
	if def.Version == 0 {
		def.Version = 1
	}
	now := time.Now().UTC()
	def.Metadata.CreatedAt = now
	def.Metadata.UpdatedAt = now

	payload, err := json.Marshal(def)
	if err != nil {
		return dag.Definition{}, apperror.Internal(err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO workflow_definitions (id, version, name, definition_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		def.ID.String(), def.Version, def.Name, payload, now, now)
	if err != nil {
		return dag.Definition{}, apperror.Wrap(apperror.CodeStorageUnavailable, "insert workflow definition", err)
	}
	return def, nil
}

// Get fetches a WorkflowDefinition by id.
func (s *WorkflowStore) Get(ctx context.Context, id uuid.UUID) (dag.Definition, error) {
	row := s.db.QueryRow(ctx, `SELECT definition_json FROM workflow_definitions WHERE id = $1`, id.String())
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == pgx.ErrNoRows {
			return dag.Definition{}, apperror.NotFound("workflow %s not found", id)
		}
		return dag.Definition{}, apperror.StorageUnavailable(err)
	}
	var def dag.Definition
	if err := json.Unmarshal(payload, &def); err != nil {
		return dag.Definition{}, apperror.Internal(err)
	}
	return def, nil
}

// Update passes the stored definition through merge and bumps both version
// and updated_at. PUT /api/workflows/{id} supplies a merge that applies an
// RFC 7396 JSON merge patch, which gives that route its partial-update
// semantics.
func (s *WorkflowStore) Update(ctx context.Context, id uuid.UUID, merge func(dag.Definition) (dag.Definition, error)) (dag.Definition, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return dag.Definition{}, err
	}
	updated, err := merge(existing)
	if err != nil {
		return dag.Definition{}, apperror.Validation("%v", err)
	}
	updated.ID = id
	updated.Version = existing.Version + 1
	updated.Metadata.CreatedAt = existing.Metadata.CreatedAt
	updated.Metadata.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(updated)
	if err != nil {
		return dag.Definition{}, apperror.Internal(err)
	}

	tag, err := s.db.Exec(ctx,
		`UPDATE workflow_definitions SET version=$2, name=$3, definition_json=$4, updated_at=$5 WHERE id=$1`,
		id.String(), updated.Version, updated.Name, payload, updated.Metadata.UpdatedAt)
	if err != nil {
		return dag.Definition{}, apperror.StorageUnavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return dag.Definition{}, apperror.NotFound("workflow %s not found", id)
	}
	return updated, nil
}

// Delete removes a WorkflowDefinition by id.
func (s *WorkflowStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflow_definitions WHERE id = $1`, id.String())
	if err != nil {
		return apperror.StorageUnavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("workflow %s not found", id)
	}
	return nil
}

// Summary is the list-view projection returned by GET /api/workflows.
type Summary struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// List returns a page of workflow summaries ordered by most recently
// updated first.
func (s *WorkflowStore) List(ctx context.Context, page, pageSize int) ([]Summary, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_definitions`).Scan(&total); err != nil {
		return nil, 0, apperror.StorageUnavailable(err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, name, version, updated_at FROM workflow_definitions ORDER BY updated_at DESC LIMIT $1 OFFSET $2`,
		pageSize, offset)
	if err != nil {
		return nil, 0, apperror.StorageUnavailable(err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var idStr, name string
		var version int
		var updatedAt time.Time
		if err := rows.Scan(&idStr, &name, &version, &updatedAt); err != nil {
			return nil, 0, apperror.StorageUnavailable(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, 0, apperror.Internal(err)
		}
		out = append(out, Summary{ID: id, Name: name, Version: version, UpdatedAt: updatedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperror.StorageUnavailable(err)
	}
	return out, total, nil
}

// ListAll fetches every stored Definition in full, keyed by id. Used at
// startup to give the coordinator's reconciler the static graphs it needs
// to rebuild in-flight executions recorded in the event log.
func (s *WorkflowStore) ListAll(ctx context.Context) (map[uuid.UUID]dag.Definition, error) {
	rows, err := s.db.Query(ctx, `SELECT id, definition_json FROM workflow_definitions`)
	if err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]dag.Definition)
	for rows.Next() {
		var idStr string
		var payload []byte
		if err := rows.Scan(&idStr, &payload); err != nil {
			return nil, apperror.StorageUnavailable(err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		var def dag.Definition
		if err := json.Unmarshal(payload, &def); err != nil {
			return nil, apperror.Internal(err)
		}
		out[id] = def
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.StorageUnavailable(err)
	}
	return out, nil
}
