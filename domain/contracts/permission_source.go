package contracts

import (
	"context"

	"sprisk/domain/sharepoint"
)

// RoleAssignmentResult is the typed outcome of a role-assignment lookup.
// A partial permission denial is a normal branch here, not an error: the
// caller records the node with no entries and moves on.
type RoleAssignmentResult struct {
	Entries      []sharepoint.PermissionEntry
	Denied       bool
	DeniedReason string
}

// PermissionTarget identifies the object whose role assignments are being
// queried.
type PermissionTarget struct {
	Kind    string // sharepoint.ScopeKindSite, ScopeKindContainer, or ScopeKindItem
	Address string // site URL, container ID, or item GUID
}

// PermissionSource exposes the enumeration primitives the collection engine
// requires from the remote platform SDK, and nothing more. Every method may
// fail with a throttle-class, timeout-class, or fatal error; callers never
// assume success.
type PermissionSource interface {
	// ListSites enumerates site collections visible under the scope.
	// The tenant-wide marker scope returns every site.
	ListSites(ctx context.Context, scope string) ([]*sharepoint.Site, error)

	// ListUsers enumerates the users known to a site.
	ListUsers(ctx context.Context, siteURL string) ([]*sharepoint.User, error)

	// ListGroups enumerates the groups of a site with member counts.
	ListGroups(ctx context.Context, siteURL string) ([]*sharepoint.Group, error)

	// GetRoleAssignments returns the direct role assignments on an object.
	// A partial permission denial is reported through the result, not the
	// error.
	GetRoleAssignments(ctx context.Context, target PermissionTarget) (*RoleAssignmentResult, error)

	// ListChildContainers enumerates the lists/libraries of a site,
	// each flagged with its inheritance status.
	ListChildContainers(ctx context.Context, siteURL string) ([]*sharepoint.Container, error)

	// ListItems enumerates the folders and files of a container, each
	// flagged with its inheritance status.
	ListItems(ctx context.Context, containerID string) ([]*sharepoint.Item, error)

	// ListSharingLinks enumerates sharing links discovered on a site.
	ListSharingLinks(ctx context.Context, siteURL string) ([]*sharepoint.SharingLink, error)
}
