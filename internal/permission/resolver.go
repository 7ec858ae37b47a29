package permission

import (
	"fmt"
	"sort"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
)

// Principal is what a session says about the user. A nil Permissions slice means the
// session carried no list and the role table decides; an empty non-nil slice is
// authoritative and grants nothing.
type Principal struct {
	Role        string
	Permissions []string
}

type Resolver struct {
	catalog *Catalog
	roles   map[string]Set
	names   map[string]string
}

// NewResolver builds a resolver over a role table. Every permission in the table must
// belong to the catalog. Role names are matched case-insensitively.
func NewResolver(catalog *Catalog, table map[string][]Permission) (*Resolver, error) {
	r := &Resolver{
		catalog: catalog,
		roles:   make(map[string]Set, len(table)),
		names:   make(map[string]string, len(table)),
	}
	for name, perms := range table {
		for _, p := range perms {
			if !catalog.Contains(p) {
				return nil, internal.NewConfigurationError(
					fmt.Sprintf("role %q references unknown permission %q", name, p),
					internal.ErrCodeUnknownPermission)
			}
		}
		key := RoleKey(name)
		if prev, ok := r.names[key]; ok {
			return nil, internal.NewConfigurationError(
				fmt.Sprintf("role %q collides with role %q", name, prev),
				internal.ErrCodeDuplicateRole)
		}
		r.roles[key] = NewSet(perms...)
		r.names[key] = name
	}
	return r, nil
}

// RoleKey is the case-folded form under which role names are matched.
func RoleKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultResolver uses the compiled-in catalog and the static fallback table.
func DefaultResolver() *Resolver {
	r, err := NewResolver(DefaultCatalog(), FallbackTable())
	if err != nil {
		panic(err)
	}
	return r
}

// FallbackFor narrows the static table to the given catalog. Admin always maps to the
// whole catalog.
func FallbackFor(catalog *Catalog) map[string][]Permission {
	table := FallbackTable()
	for name, perms := range table {
		kept := perms[:0]
		for _, p := range perms {
			if catalog.Contains(p) {
				kept = append(kept, p)
			}
		}
		table[name] = kept
	}
	table[RoleAdmin] = catalog.All()
	return table
}

func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Resolve returns the effective permission set for a principal.
//
// An explicit permission list wins and is validated against the catalog; unknown entries
// are dropped and reported. Otherwise the role table is used. An unknown role resolves to
// the empty set together with an UNKNOWN_ROLE error.
func (r *Resolver) Resolve(p Principal) (Set, error) {
	if p.Permissions != nil {
		return r.catalog.ValidateAll(p.Permissions)
	}
	set, ok := r.RoleSet(p.Role)
	if !ok {
		return Set{}, internal.NewConfigurationError(fmt.Sprintf("unknown role %q", p.Role), internal.ErrCodeUnknownRole)
	}
	return set, nil
}

func (r *Resolver) RoleSet(role string) (Set, bool) {
	set, ok := r.roles[RoleKey(role)]
	return set, ok
}

// Roles lists the role names known to the resolver, sorted.
func (r *Resolver) Roles() []string {
	out := make([]string, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
