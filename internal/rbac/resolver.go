package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver defaults.
const (
	DefaultCacheTTL        = 5 * time.Minute
	defaultResultCacheSize = 10000
	defaultRoleCacheSize   = 2048
)

// ResolverConfig tunes caching and batching. Zero values take defaults.
type ResolverConfig struct {
	CacheTTL        time.Duration
	ResultCacheSize int
	RoleCacheSize   int
	Batch           BatchConfig
}

// Resolver computes effective permissions for users with a two-level cache:
// a user→role cache and a (user, permission)→bool result cache. Lookup
// failures always resolve to deny and never escape the resolver boundary.
type Resolver struct {
	repo    ReadPort
	logger  *slog.Logger
	roles   *Cache[int64, int64]
	results *Cache[string, bool]
	sf      singleflight.Group
	batcher *batcher
}

// NewResolver constructs a Resolver. Pass a zero ResolverConfig for defaults.
func NewResolver(repo ReadPort, logger *slog.Logger, cfg ResolverConfig) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = defaultResultCacheSize
	}
	if cfg.RoleCacheSize <= 0 {
		cfg.RoleCacheSize = defaultRoleCacheSize
	}
	r := &Resolver{
		repo:    repo,
		logger:  logger,
		roles:   NewCache[int64, int64](cfg.RoleCacheSize, cfg.CacheTTL),
		results: NewCache[string, bool](cfg.ResultCacheSize, cfg.CacheTTL),
	}
	if !cfg.Batch.Disabled {
		r.batcher = newBatcher(repo, logger, cfg.Batch)
	}
	return r
}

// Close stops the background batching collector.
func (r *Resolver) Close() {
	if r.batcher != nil {
		r.batcher.close()
	}
}

// HasPermission reports whether the user holds the permission. Any failure
// (unknown user, database error) resolves to false.
func (r *Resolver) HasPermission(ctx context.Context, userID int64, code string) bool {
	key := resultKey(userID, code)
	if granted, ok := r.results.Get(key); ok {
		return granted
	}

	var granted bool
	var err error
	if r.batcher != nil {
		granted, err = r.batcher.check(ctx, userID, code)
	} else {
		granted, err = r.lookup(ctx, userID, code)
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) && r.logger != nil {
			r.logger.Error("resolve permission", slog.Int64("user", userID), slog.String("permission", code), slog.Any("error", err))
		}
		return false
	}

	r.results.Set(key, granted)
	return granted
}

// UserPermissions returns the full effective permission set of a user with a
// single role-permission query.
func (r *Resolver) UserPermissions(ctx context.Context, userID int64) (map[string]struct{}, error) {
	roleID, err := r.roleID(ctx, userID)
	if err != nil {
		return nil, err
	}
	codes, err := r.grantedSet(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set, nil
}

// CheckMany resolves all listed permissions with one granted-set fetch. The
// answers are identical to individual HasPermission calls; on failure every
// requested code maps to false.
func (r *Resolver) CheckMany(ctx context.Context, userID int64, codes []string) map[string]bool {
	result := make(map[string]bool, len(codes))
	if len(codes) == 0 {
		return result
	}
	set, err := r.UserPermissions(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && r.logger != nil {
			r.logger.Error("resolve permission set", slog.Int64("user", userID), slog.Any("error", err))
		}
		for _, code := range codes {
			result[code] = false
		}
		return result
	}
	for _, code := range codes {
		_, granted := set[code]
		result[code] = granted
		r.results.Set(resultKey(userID, code), granted)
	}
	return result
}

// InvalidateUser evicts the user's cached role and every cached result for
// the user. Must be called when the user's role assignment changes.
func (r *Resolver) InvalidateUser(userID int64) {
	r.roles.Remove(userID)
	prefix := strconv.FormatInt(userID, 10) + ":"
	r.results.RemoveFunc(func(key string) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateRole evicts every cached result. Role membership cannot be
// enumerated from the cache keys, so a role-scoped flush degrades to a full
// result flush; user→role entries stay valid.
func (r *Resolver) InvalidateRole(roleID int64) {
	r.results.Purge()
}

// InvalidateAll evicts every cached entry. Matrix writes cannot enumerate the
// affected users from the cache, so they flush everything.
func (r *Resolver) InvalidateAll() {
	r.roles.Purge()
	r.results.Purge()
}

// Metrics is a snapshot of the resolver caches.
type Metrics struct {
	RoleCache   CacheStats `json:"role_cache"`
	ResultCache CacheStats `json:"result_cache"`
}

// CacheMetrics returns current cache counters.
func (r *Resolver) CacheMetrics() Metrics {
	return Metrics{
		RoleCache:   r.roles.Stats(),
		ResultCache: r.results.Stats(),
	}
}

// ResetCacheMetrics zeroes the cache counters without evicting entries.
func (r *Resolver) ResetCacheMetrics() {
	r.roles.ResetStats()
	r.results.ResetStats()
}

func (r *Resolver) lookup(ctx context.Context, userID int64, code string) (bool, error) {
	roleID, err := r.roleID(ctx, userID)
	if err != nil {
		return false, err
	}
	codes, err := r.grantedSet(ctx, roleID)
	if err != nil {
		return false, err
	}
	for _, granted := range codes {
		if granted == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) roleID(ctx context.Context, userID int64) (int64, error) {
	if roleID, ok := r.roles.Get(userID); ok {
		return roleID, nil
	}
	role, err := r.repo.UserRole(ctx, userID)
	if err != nil {
		return 0, err
	}
	r.roles.Set(userID, role.ID)
	return role.ID, nil
}

// grantedSet fetches the granted permission codes of a role, deduplicating
// concurrent fetches of the same role.
func (r *Resolver) grantedSet(ctx context.Context, roleID int64) ([]string, error) {
	key := "role:" + strconv.FormatInt(roleID, 10)
	value, err, _ := r.sf.Do(key, func() (any, error) {
		return r.repo.GrantedPermissions(ctx, roleID)
	})
	if err != nil {
		return nil, err
	}
	codes, _ := value.([]string)
	return codes, nil
}

func resultKey(userID int64, code string) string {
	return fmt.Sprintf("%d:%s", userID, code)
}
