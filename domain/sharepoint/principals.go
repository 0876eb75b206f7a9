package sharepoint

import (
	"strings"
)

// Principal kind names used on flattened role assignments.
const (
	PrincipalKindUser  = "User"
	PrincipalKindGroup = "Group"
)

// User represents a user account known to a site.
type User struct {
	SiteURL     string
	LoginName   string
	Title       string
	Email       string
	IsSiteAdmin bool
	IsExternal  bool // Guest or external-domain account
}

// DisplayName returns the best display name for the user.
func (u *User) DisplayName() string {
	if u.Title != "" {
		return u.Title
	}
	if u.Email != "" {
		return u.Email
	}
	return u.LoginName
}

// Domain returns the mail domain of the user, lower-cased, or "" when no
// email address is known.
func (u *User) Domain() string {
	addr := u.Email
	if addr == "" {
		// External login names carry the email after the last |, e.g.
		// i:0#.f|membership|jane_contoso.com#ext#@tenant.onmicrosoft.com
		if i := strings.LastIndex(u.LoginName, "|"); i >= 0 {
			addr = u.LoginName[i+1:]
		}
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return strings.ToLower(addr[i+1:])
	}
	return ""
}

// Group represents a site group with its member count.
type Group struct {
	SiteURL     string
	Title       string
	OwnerTitle  string
	MemberCount int
}

// IsEmpty returns true when the group has no members.
func (g *Group) IsEmpty() bool {
	return g.MemberCount == 0
}
