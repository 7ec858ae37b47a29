package permission

type Mode string

const (
	ModeAny Mode = "any"
	ModeAll Mode = "all"
)

// Can reports whether set satisfies required. ModeAny (the default for an empty mode)
// needs one match, ModeAll needs every entry. An empty requirement passes only
// under ModeAll.
func Can(set Set, mode Mode, required ...Permission) bool {
	if len(required) == 0 {
		return mode == ModeAll
	}
	if mode == ModeAll {
		for _, p := range required {
			if !set.Has(p) {
				return false
			}
		}
		return true
	}
	for _, p := range required {
		if set.Has(p) {
			return true
		}
	}
	return false
}

// HighestScope returns the broadest scope of base held in set, or ScopeNone.
// Callers use it to pick the narrowest data slice the user may see.
func HighestScope(set Set, base Permission) Scope {
	for _, s := range []Scope{ScopeAll, ScopeTeam, ScopeSelf} {
		if set.Has(base.WithScope(s)) {
			return s
		}
	}
	return ScopeNone
}
