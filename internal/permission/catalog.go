package permission

import (
	"fmt"
	"strings"

	"github.com/frahmantamala/approval-workflow/internal"
)

// Catalog is the set of permissions a deployment recognises.
type Catalog struct {
	ordered []Permission
	set     Set
}

// NewCatalog validates the grammar of every entry. Duplicates are collapsed.
func NewCatalog(perms ...Permission) (*Catalog, error) {
	seen := make(map[Permission]struct{}, len(perms))
	ordered := make([]Permission, 0, len(perms))
	for _, p := range perms {
		if _, err := Parse(string(p)); err != nil {
			return nil, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		ordered = append(ordered, p)
	}
	return &Catalog{ordered: ordered, set: NewSet(ordered...)}, nil
}

// DefaultCatalog holds every compiled-in permission.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(known...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Contains(p Permission) bool {
	return c.set.Has(p)
}

func (c *Catalog) All() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Catalog) Set() Set {
	return c.set
}

func (c *Catalog) Len() int {
	return len(c.ordered)
}

// Validate parses raw and checks it belongs to the catalog.
func (c *Catalog) Validate(raw string) (Permission, error) {
	p, err := Parse(raw)
	if err != nil {
		return "", err
	}
	if !c.Contains(p) {
		return "", internal.NewValidationError(fmt.Sprintf("unknown permission %q", raw), internal.ErrCodeUnknownPermission)
	}
	return p, nil
}

// ValidateAll returns the set of valid entries. Every rejected entry is reported in a
// single validation error so a misconfigured role is visible in one pass.
func (c *Catalog) ValidateAll(raw []string) (Set, error) {
	perms := make([]Permission, 0, len(raw))
	var details []internal.ValidationError
	for _, r := range raw {
		p, err := c.Validate(r)
		if err != nil {
			code := internal.ErrCodeUnknownPermission
			if appErr, ok := internal.IsAppError(err); ok {
				code = appErr.Code
			}
			details = append(details, internal.ValidationError{Field: "permissions", Message: err.Error(), Code: string(code)})
			continue
		}
		perms = append(perms, p)
	}
	set := NewSet(perms...)
	if len(details) > 0 {
		msgs := make([]string, len(details))
		for i, d := range details {
			msgs[i] = d.Message
		}
		return set, internal.NewValidationError(strings.Join(msgs, "; "), internal.ErrCodeUnknownPermission).
			WithDetails(internal.ValidationErrors{Errors: details})
	}
	return set, nil
}
