package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ResourceKind tags a concrete owned resource type. Kinds are registered
// explicitly; there is no dispatch on caller-supplied table names.
type ResourceKind string

const (
	ResourceNote     ResourceKind = "note"
	ResourceDocument ResourceKind = "document"
	ResourceTask     ResourceKind = "task"
)

// OwnerLookup resolves the creator of one concrete resource type.
type OwnerLookup interface {
	OwnerID(ctx context.Context, id int64) (int64, error)
}

// OwnerRegistry maps resource kinds to their lookup implementation.
type OwnerRegistry struct {
	lookups map[ResourceKind]OwnerLookup
}

// NewOwnerRegistry builds an empty registry.
func NewOwnerRegistry() *OwnerRegistry {
	return &OwnerRegistry{lookups: make(map[ResourceKind]OwnerLookup)}
}

// Register adds a lookup for a kind, replacing any previous registration.
func (r *OwnerRegistry) Register(kind ResourceKind, lookup OwnerLookup) {
	r.lookups[kind] = lookup
}

// OwnerID resolves the owner of the identified resource.
func (r *OwnerRegistry) OwnerID(ctx context.Context, kind ResourceKind, id int64) (int64, error) {
	lookup, ok := r.lookups[kind]
	if !ok {
		return 0, fmt.Errorf("rbac: no owner lookup registered for %q", kind)
	}
	return lookup.OwnerID(ctx, id)
}

// NoteOwnership resolves note creators.
type NoteOwnership struct {
	Pool *pgxpool.Pool
}

// OwnerID returns the creator of a note.
func (o NoteOwnership) OwnerID(ctx context.Context, id int64) (int64, error) {
	return scanOwner(o.Pool.QueryRow(ctx, `SELECT created_by FROM notes WHERE id = $1`, id))
}

// DocumentOwnership resolves document creators.
type DocumentOwnership struct {
	Pool *pgxpool.Pool
}

// OwnerID returns the creator of a document.
func (o DocumentOwnership) OwnerID(ctx context.Context, id int64) (int64, error) {
	return scanOwner(o.Pool.QueryRow(ctx, `SELECT created_by FROM documents WHERE id = $1`, id))
}

// TaskOwnership resolves task creators.
type TaskOwnership struct {
	Pool *pgxpool.Pool
}

// OwnerID returns the creator of a task.
func (o TaskOwnership) OwnerID(ctx context.Context, id int64) (int64, error) {
	return scanOwner(o.Pool.QueryRow(ctx, `SELECT created_by FROM tasks WHERE id = $1`, id))
}

func scanOwner(row pgx.Row) (int64, error) {
	var ownerID int64
	if err := row.Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return ownerID, nil
}
