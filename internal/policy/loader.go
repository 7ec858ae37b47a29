package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/frahmantamala/approval-workflow/internal"
	"github.com/frahmantamala/approval-workflow/internal/permission"
)

const OriginStatic = "static"

type Loader struct {
	source  Source
	origin  string
	logger  *slog.Logger
	now     func() time.Time
	current atomic.Pointer[Snapshot]
	version atomic.Int64
	group   singleflight.Group
}

func NewLoader(source Source, origin string, logger *slog.Logger) *Loader {
	return &Loader{
		source: source,
		origin: origin,
		logger: logger,
		now:    time.Now,
	}
}

// Build validates source data and assembles a snapshot. Unknown permission strings are
// rejected here instead of silently evaluating to false later.
func Build(perms []string, roles []RoleDefinition) (*permission.Resolver, error) {
	catalog := permission.DefaultCatalog()
	if len(perms) > 0 {
		set, err := catalog.ValidateAll(perms)
		if err != nil {
			return nil, err
		}
		if catalog, err = permission.NewCatalog(set.Slice()...); err != nil {
			return nil, err
		}
	}

	table := permission.FallbackFor(catalog)
	fallback := make(map[string]string, len(table))
	for name := range table {
		fallback[permission.RoleKey(name)] = name
	}

	// A source role replaces the fallback entry it folds onto; two source roles
	// folding onto the same key are a configuration error.
	claimed := make(map[string]string, len(roles))
	assign := func(owner, name string, granted []permission.Permission) error {
		key := permission.RoleKey(name)
		if prev, ok := claimed[key]; ok {
			return internal.NewConfigurationError(
				fmt.Sprintf("role %q collides with role %q", owner, prev), internal.ErrCodeDuplicateRole)
		}
		claimed[key] = owner
		if fb, ok := fallback[key]; ok {
			delete(table, fb)
			delete(fallback, key)
		}
		table[name] = granted
		return nil
	}

	for _, role := range roles {
		granted := []permission.Permission{}
		if role.IsActive {
			set, err := catalog.ValidateAll(role.Permissions)
			if err != nil {
				return nil, internal.NewConfigurationError(
					fmt.Sprintf("role %q: %v", role.Name, err), internal.ErrCodeUnknownPermission).WithCause(err)
			}
			granted = set.Slice()
		}
		if err := assign(role.Name, role.Name, granted); err != nil {
			return nil, err
		}
		if role.Code != "" && !strings.EqualFold(role.Code, role.Name) {
			if err := assign(role.Name, role.Code, granted); err != nil {
				return nil, err
			}
		}
	}

	return permission.NewResolver(catalog, table)
}

// Current never returns nil: before the first successful load it serves the static table.
func (l *Loader) Current() *Snapshot {
	if s := l.current.Load(); s != nil {
		return s
	}
	static := &Snapshot{Resolver: permission.DefaultResolver(), LoadedAt: l.now(), Origin: OriginStatic}
	l.current.CompareAndSwap(nil, static)
	return l.current.Load()
}

// Refresh rebuilds the snapshot from the source. Concurrent callers share one load.
// On failure the previous snapshot stays in place.
func (l *Loader) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err, shared := l.group.Do("refresh", func() (interface{}, error) {
		perms, err := l.source.ListPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("list permissions: %w", err)
		}
		roles, err := l.source.ListRoles(ctx)
		if err != nil {
			return nil, fmt.Errorf("list roles: %w", err)
		}
		resolver, err := Build(perms, roles)
		if err != nil {
			return nil, err
		}
		snap := &Snapshot{
			Resolver: resolver,
			Version:  l.version.Add(1),
			LoadedAt: l.now(),
			Origin:   l.origin,
		}
		l.current.Store(snap)
		return snap, nil
	})
	if err != nil {
		l.logger.Error("policy refresh failed", "origin", l.origin, "error", err)
		return nil, err
	}
	snap := v.(*Snapshot)
	l.logger.Info("policy snapshot loaded",
		"origin", snap.Origin,
		"version", snap.Version,
		"permissions", snap.Catalog().Len(),
		"roles", len(snap.Resolver.Roles()),
		"shared", shared)
	return snap, nil
}
