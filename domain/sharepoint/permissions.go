package sharepoint

import (
	"time"
)

// NodeKind identifies the structural position of a permission node.
type NodeKind string

const (
	NodeKindContainerRoot NodeKind = "ContainerRoot"
	NodeKindContainer     NodeKind = "Container"
	NodeKindSubContainer  NodeKind = "SubContainer"
	NodeKindItem          NodeKind = "Item"
)

// Scope kind names used on flattened role assignments.
const (
	ScopeKindSite      = "site"
	ScopeKindContainer = "container"
	ScopeKindItem      = "item"
)

// RoleLimitedAccess is the structural grant SharePoint creates so a
// principal can traverse to a deeper, uniquely permissioned object.
// It carries no real access and is never surfaced as a role assignment.
const RoleLimitedAccess = "Limited Access"

// PermissionEntry is one (principal, role) pair recorded on a node.
type PermissionEntry struct {
	Principal     string
	PrincipalKind string
	Role          string
}

// PermissionNode is a single node in a collected permission hierarchy.
// A node with zero entries inherits permissions from its parent; a node
// with one or more entries breaks inheritance at that level.
type PermissionNode struct {
	Title    string
	Kind     NodeKind
	Address  string
	Entries  []PermissionEntry
	Children []*PermissionNode
}

// HasUniquePermissions returns true when the node records its own entries
// instead of inheriting its parent's.
func (n *PermissionNode) HasUniquePermissions() bool {
	return len(n.Entries) > 0
}

// AddChild appends a child node and returns it for further population.
func (n *PermissionNode) AddChild(child *PermissionNode) *PermissionNode {
	n.Children = append(n.Children, child)
	return child
}

// RoleAssignment is a flattened permission grant used for storage and
// risk analysis.
type RoleAssignment struct {
	Principal     string
	PrincipalKind string
	RoleName      string
	ScopeKind     string
	ScopeAddress  string
}

// IsDirectUserGrant returns true when the grant targets a user rather
// than a group.
func (a *RoleAssignment) IsDirectUserGrant() bool {
	return a.PrincipalKind == PrincipalKindUser
}

// InheritanceItem is a permission node flattened with its break flag,
// recorded for inheritance-ratio analysis.
type InheritanceItem struct {
	Address         string
	Title           string
	Kind            NodeKind
	BreaksFromChain bool
}

// PermissionMatrix is the result of one permission tree collection pass.
type PermissionMatrix struct {
	Root              *PermissionNode
	Policy            string
	TotalItems        int
	UniquePermissions int
	TotalPrincipals   int
	CompletedAt       time.Time
}

// Flatten walks the node tree and returns one RoleAssignment per recorded
// entry, carrying the node's scope kind and address.
func (m *PermissionMatrix) Flatten() []RoleAssignment {
	var out []RoleAssignment
	var walk func(n *PermissionNode)
	walk = func(n *PermissionNode) {
		if n == nil {
			return
		}
		scopeKind := ScopeKindContainer
		switch n.Kind {
		case NodeKindContainerRoot:
			scopeKind = ScopeKindSite
		case NodeKindItem:
			scopeKind = ScopeKindItem
		}
		for _, e := range n.Entries {
			out = append(out, RoleAssignment{
				Principal:     e.Principal,
				PrincipalKind: e.PrincipalKind,
				RoleName:      e.Role,
				ScopeKind:     scopeKind,
				ScopeAddress:  n.Address,
			})
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(m.Root)
	return out
}

// InheritanceItems walks the node tree and returns one InheritanceItem
// per node below the root.
func (m *PermissionMatrix) InheritanceItems() []InheritanceItem {
	var out []InheritanceItem
	var walk func(n *PermissionNode, root bool)
	walk = func(n *PermissionNode, root bool) {
		if n == nil {
			return
		}
		if !root {
			out = append(out, InheritanceItem{
				Address:         n.Address,
				Title:           n.Title,
				Kind:            n.Kind,
				BreaksFromChain: n.HasUniquePermissions(),
			})
		}
		for _, c := range n.Children {
			walk(c, false)
		}
	}
	walk(m.Root, true)
	return out
}
