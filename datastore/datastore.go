package datastore

import (
	"sync"

	"sprisk/domain/risk"
	"sprisk/domain/sharepoint"
)

// Store is the shared audit data store populated by collection operations
// and read by the risk engine. The worker owns writes while an operation
// is running; readers can take a snapshot at any time, including while the
// store is being actively populated.
type Store struct {
	mu sync.RWMutex

	sites            []*sharepoint.Site
	users            []*sharepoint.User
	groups           []*sharepoint.Group
	roleAssignments  []sharepoint.RoleAssignment
	inheritanceItems []sharepoint.InheritanceItem
	sharingLinks     []*sharepoint.SharingLink
}

// New creates an empty data store.
func New() *Store {
	return &Store{}
}

// ResetSites clears the site collection before a fresh enumeration.
func (s *Store) ResetSites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = nil
}

// ResetUsers clears the user collection before a fresh enumeration.
func (s *Store) ResetUsers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = nil
}

// ResetGroups clears the group collection before a fresh enumeration.
func (s *Store) ResetGroups() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = nil
}

// ResetPermissions clears permission facts before a fresh analysis pass.
func (s *Store) ResetPermissions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleAssignments = nil
	s.inheritanceItems = nil
}

// ResetSharing clears sharing links before a fresh sharing scan.
func (s *Store) ResetSharing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharingLinks = nil
}

// AddSites appends discovered sites.
func (s *Store) AddSites(sites ...*sharepoint.Site) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites = append(s.sites, sites...)
}

// AddUsers appends discovered users.
func (s *Store) AddUsers(users ...*sharepoint.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, users...)
}

// AddGroups appends discovered groups.
func (s *Store) AddGroups(groups ...*sharepoint.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, groups...)
}

// AddRoleAssignments appends flattened role assignments.
func (s *Store) AddRoleAssignments(assignments ...sharepoint.RoleAssignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleAssignments = append(s.roleAssignments, assignments...)
}

// AddInheritanceItems appends inheritance records.
func (s *Store) AddInheritanceItems(items ...sharepoint.InheritanceItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inheritanceItems = append(s.inheritanceItems, items...)
}

// AddSharingLinks appends discovered sharing links.
func (s *Store) AddSharingLinks(links ...*sharepoint.SharingLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sharingLinks = append(s.sharingLinks, links...)
}

// Sites returns a copy of the site collection.
func (s *Store) Sites() []*sharepoint.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*sharepoint.Site, len(s.sites))
	copy(out, s.sites)
	return out
}

// Snapshot returns a point-in-time copy of every collection for risk
// evaluation. The copy is safe to read while the worker keeps appending.
func (s *Store) Snapshot() *risk.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &risk.Snapshot{
		Sites:            make([]*sharepoint.Site, len(s.sites)),
		Users:            make([]*sharepoint.User, len(s.users)),
		Groups:           make([]*sharepoint.Group, len(s.groups)),
		RoleAssignments:  make([]sharepoint.RoleAssignment, len(s.roleAssignments)),
		InheritanceItems: make([]sharepoint.InheritanceItem, len(s.inheritanceItems)),
		SharingLinks:     make([]*sharepoint.SharingLink, len(s.sharingLinks)),
	}
	copy(snap.Sites, s.sites)
	copy(snap.Users, s.users)
	copy(snap.Groups, s.groups)
	copy(snap.RoleAssignments, s.roleAssignments)
	copy(snap.InheritanceItems, s.inheritanceItems)
	copy(snap.SharingLinks, s.sharingLinks)
	return snap
}

// Counts returns the size of each collection for diagnostics.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]int{
		"sites":             len(s.sites),
		"users":             len(s.users),
		"groups":            len(s.groups),
		"role_assignments":  len(s.roleAssignments),
		"inheritance_items": len(s.inheritanceItems),
		"sharing_links":     len(s.sharingLinks),
	}
}
