package rbac

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/atlas-bim/atlas-bim/internal/shared"
)

// Service orchestrates matrix administration. Every write invalidates the
// resolver caches locally and broadcasts the invalidation to sibling
// processes before returning.
type Service struct {
	repo      RepositoryPort
	resolver  *Resolver
	broadcast *Broadcaster
	activity  *shared.ActivityLogger
	logger    *slog.Logger
}

// NewService constructs a Service.
func NewService(repo RepositoryPort, resolver *Resolver, broadcast *Broadcaster, activity *shared.ActivityLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, resolver: resolver, broadcast: broadcast, activity: activity, logger: logger}
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns the permission catalog.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// Grant grants a permission to the role held by the given user.
func (s *Service) Grant(ctx context.Context, userID int64, code string, grantedBy int64) error {
	return s.writeGrant(ctx, userID, code, true, grantedBy)
}

// Revoke revokes a permission from the role held by the given user.
func (s *Service) Revoke(ctx context.Context, userID int64, code string, grantedBy int64) error {
	return s.writeGrant(ctx, userID, code, false, grantedBy)
}

func (s *Service) writeGrant(ctx context.Context, userID int64, code string, granted bool, grantedBy int64) error {
	role, err := s.repo.UserRole(ctx, userID)
	if err != nil {
		return err
	}
	perm, err := s.repo.PermissionByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.repo.UpsertGrant(ctx, role.ID, perm.ID, granted, grantedBy); err != nil {
		return err
	}
	s.flushRole(ctx, role.ID)
	action := "permission.revoke"
	if granted {
		action = "permission.grant"
	}
	s.activityLog(shared.ActivityEntry{
		ActorID:  grantedBy,
		Action:   action,
		Entity:   "role_permission",
		EntityID: role.Code + "/" + code,
		Meta:     map[string]any{"role": role.Code, "permission": code, "user": userID},
	})
	return nil
}

// Matrix assembles the full role × permission grant table.
func (s *Service) Matrix(ctx context.Context) (Matrix, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return Matrix{}, err
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return Matrix{}, err
	}
	grants, err := s.repo.ListGrants(ctx)
	if err != nil {
		return Matrix{}, err
	}

	roleCodes := make(map[int64]string, len(roles))
	for _, role := range roles {
		roleCodes[role.ID] = role.Code
	}
	permCodes := make(map[int64]string, len(perms))
	for _, perm := range perms {
		permCodes[perm.ID] = perm.Code
	}

	cells := make(map[string]map[string]bool, len(perms))
	for _, perm := range perms {
		row := make(map[string]bool, len(roles))
		for _, role := range roles {
			row[role.Code] = false
		}
		cells[perm.Code] = row
	}
	for _, grant := range grants {
		permCode, okP := permCodes[grant.PermissionID]
		roleCode, okR := roleCodes[grant.RoleID]
		if okP && okR {
			cells[permCode][roleCode] = grant.Granted
		}
	}

	return Matrix{Roles: roles, Permissions: perms, Cells: cells}, nil
}

// UpdateMatrix applies a full or partial matrix overwrite transactionally.
// Applying the same update twice yields the same grant set.
func (s *Service) UpdateMatrix(ctx context.Context, updates []MatrixUpdate, actor int64) error {
	if len(updates) == 0 {
		return nil
	}
	if err := s.repo.ReplaceGrants(ctx, updates, actor); err != nil {
		return err
	}
	s.flushAll(ctx)
	s.activityLog(shared.ActivityEntry{
		ActorID:  actor,
		Action:   "permission.matrix_update",
		Entity:   "role_permission",
		EntityID: "matrix",
		Meta:     map[string]any{"cells": len(updates)},
	})
	return nil
}

// SetUserRole reassigns a user to a role and invalidates the user's entries.
func (s *Service) SetUserRole(ctx context.Context, userID, roleID int64, actor int64) error {
	if err := s.repo.SetUserRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.resolver.InvalidateUser(userID)
	if s.broadcast != nil {
		s.broadcast.PublishUser(ctx, userID)
	}
	s.activityLog(shared.ActivityEntry{
		ActorID:  actor,
		Action:   "user.role_change",
		Entity:   "user",
		EntityID: strconv.FormatInt(userID, 10),
		Meta:     map[string]any{"role_id": roleID},
	})
	return nil
}

// ClearCache evicts cached permissions, for one user or for everyone.
func (s *Service) ClearCache(ctx context.Context, userID int64) {
	if userID > 0 {
		s.resolver.InvalidateUser(userID)
		if s.broadcast != nil {
			s.broadcast.PublishUser(ctx, userID)
		}
		return
	}
	s.flushAll(ctx)
}

func (s *Service) flushRole(ctx context.Context, roleID int64) {
	s.resolver.InvalidateRole(roleID)
	if s.broadcast != nil {
		s.broadcast.PublishRole(ctx, roleID)
	}
}

func (s *Service) flushAll(ctx context.Context) {
	s.resolver.InvalidateAll()
	if s.broadcast != nil {
		s.broadcast.PublishAll(ctx)
	}
}

func (s *Service) activityLog(entry shared.ActivityEntry) {
	if s.activity != nil {
		s.activity.RecordAsync(entry)
	}
}
