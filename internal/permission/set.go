package permission

import "sort"

// Set is a permission set. Treat it as immutable once built; the zero value is empty.
type Set struct {
	m map[Permission]struct{}
}

func NewSet(perms ...Permission) Set {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return Set{m: m}
}

func (s Set) Has(p Permission) bool {
	_, ok := s.m[p]
	return ok
}

func (s Set) Len() int {
	return len(s.m)
}

func (s Set) IsEmpty() bool {
	return len(s.m) == 0
}

// Slice returns the members sorted lexically.
func (s Set) Slice() []Permission {
	out := make([]Permission, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s Set) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func (s Set) IsSubsetOf(other Set) bool {
	for p := range s.m {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

func (s Set) Union(other Set) Set {
	m := make(map[Permission]struct{}, len(s.m)+len(other.m))
	for p := range s.m {
		m[p] = struct{}{}
	}
	for p := range other.m {
		m[p] = struct{}{}
	}
	return Set{m: m}
}

func (s Set) Equal(other Set) bool {
	return s.Len() == other.Len() && s.IsSubsetOf(other)
}
