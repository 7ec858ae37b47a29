// Package policy holds the immutable permission snapshot a process evaluates against,
// and the loader that rebuilds it on demand.
package policy

import (
	"context"
	"time"

	"github.com/frahmantamala/approval-workflow/internal/permission"
)

// RoleDefinition is a role as configured in the policy source.
type RoleDefinition struct {
	Name        string   `json:"name"`
	Code        string   `json:"code"`
	IsActive    bool     `json:"is_active"`
	Permissions []string `json:"permissions"`
}

// Source supplies the permission catalog and role table. The local role service and the
// upstream backend client both implement it.
type Source interface {
	ListPermissions(ctx context.Context) ([]string, error)
	ListRoles(ctx context.Context) ([]RoleDefinition, error)
}

// Snapshot is never mutated after it is built; Refresh swaps in a new one.
type Snapshot struct {
	Resolver *permission.Resolver
	Version  int64
	LoadedAt time.Time
	Origin   string
}

func (s *Snapshot) Catalog() *permission.Catalog {
	return s.Resolver.Catalog()
}

// Resolve is a convenience wrapper over the snapshot's resolver.
func (s *Snapshot) Resolve(p permission.Principal) (permission.Set, error) {
	return s.Resolver.Resolve(p)
}

// RoleView is the printable form of one role in a snapshot.
type RoleView struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (s *Snapshot) Roles() []RoleView {
	names := s.Resolver.Roles()
	out := make([]RoleView, 0, len(names))
	for _, n := range names {
		set, _ := s.Resolver.RoleSet(n)
		out = append(out, RoleView{Role: n, Permissions: set.Strings()})
	}
	return out
}
