package auth

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// Principal is the authenticated identity attached to a request: the account
// plus the codes of its permissions and roles.
type Principal struct {
	Account     AccountView
	Permissions map[string]struct{}
	Roles       map[string]struct{}
}

// NewPrincipal builds a principal, collapsing permission and role rows by
// entity id so repeated rows never inflate the sets.
func NewPrincipal(account AccountView, permissions, roles []CatalogEntry) Principal {
	return Principal{
		Account:     account,
		Permissions: collapse(permissions),
		Roles:       collapse(roles),
	}
}

func collapse(entries []CatalogEntry) map[string]struct{} {
	byID := make(map[uuid.UUID]string, len(entries))
	for _, e := range entries {
		byID[e.ID] = e.Code
	}
	set := make(map[string]struct{}, len(byID))
	for _, code := range byID {
		set[code] = struct{}{}
	}
	return set
}

// HasPermission reports whether the principal holds the permission code.
func (p Principal) HasPermission(code string) bool {
	_, ok := p.Permissions[code]
	return ok
}

// HasRole reports whether the principal holds the role code.
func (p Principal) HasRole(code string) bool {
	_, ok := p.Roles[code]
	return ok
}

func (p Principal) PermissionCodes() []string { return sortedKeys(p.Permissions) }

func (p Principal) RoleCodes() []string { return sortedKeys(p.Roles) }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type principalJSON struct {
	User        AccountView `json:"user"`
	Permissions []string    `json:"permissions"`
	Roles       []string    `json:"roles"`
}

func (p Principal) MarshalJSON() ([]byte, error) {
	return json.Marshal(principalJSON{
		User:        p.Account,
		Permissions: p.PermissionCodes(),
		Roles:       p.RoleCodes(),
	})
}

func (p *Principal) UnmarshalJSON(data []byte) error {
	var raw principalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Account = raw.User
	p.Permissions = make(map[string]struct{}, len(raw.Permissions))
	for _, c := range raw.Permissions {
		p.Permissions[c] = struct{}{}
	}
	p.Roles = make(map[string]struct{}, len(raw.Roles))
	for _, c := range raw.Roles {
		p.Roles[c] = struct{}{}
	}
	return nil
}
