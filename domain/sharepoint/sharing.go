package sharepoint

import (
	"time"
)

// Sharing link types as surfaced by the sharing APIs.
const (
	LinkTypeAnonymous      = "Anonymous"
	LinkTypeCompany        = "Company"
	LinkTypeSpecificPeople = "SpecificPeople"
)

// Sharing link access levels.
const (
	AccessLevelView = "View"
	AccessLevelEdit = "Edit"
)

// SharingLink represents a generated access link granting view or edit
// access without an explicit role assignment.
type SharingLink struct {
	ID          string
	SiteURL     string
	ItemAddress string
	URL         string
	LinkType    string // Anonymous, Company, SpecificPeople
	AccessLevel string // View, Edit
	CreatedBy   string
	CreatedAt   *time.Time
	Expiration  *time.Time
	MemberCount int
}

// IsAnonymous returns true for anyone-with-the-link sharing.
func (l *SharingLink) IsAnonymous() bool {
	return l.LinkType == LinkTypeAnonymous
}

// IsCompanyWide returns true for organization-wide sharing.
func (l *SharingLink) IsCompanyWide() bool {
	return l.LinkType == LinkTypeCompany
}

// GrantsEdit returns true when the link grants write access.
func (l *SharingLink) GrantsEdit() bool {
	return l.AccessLevel == AccessLevelEdit
}
