package database

import (
	"context"
	"database/sql"
	"fmt"

	"sprisk/domain/sharepoint"
)

// AuditStore persists collected audit facts so a failed or interrupted
// operation leaves previously gathered data inspectable across restarts.
// Writes replace the rows owned by the scope being rescanned; nothing is
// rolled back on operation failure.
type AuditStore struct {
	db *Database
}

// NewAuditStore creates an audit fact store backed by the database.
func NewAuditStore(db *Database) *AuditStore {
	return &AuditStore{db: db}
}

// SaveSites upserts discovered sites.
func (s *AuditStore) SaveSites(ctx context.Context, sites []*sharepoint.Site) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		for _, site := range sites {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO sites (url, title, template, storage_bytes, owner_title, last_modified)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				site.URL, site.Title, site.Template, site.StorageBytes, site.OwnerTitle, site.LastModified)
			if err != nil {
				return fmt.Errorf("save site %s: %w", site.URL, err)
			}
		}
		return nil
	})
}

// SaveUsers upserts the users of a site.
func (s *AuditStore) SaveUsers(ctx context.Context, users []*sharepoint.User) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		for _, u := range users {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO users (site_url, login_name, title, email, is_site_admin, is_external)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				u.SiteURL, u.LoginName, u.Title, u.Email, boolToInt(u.IsSiteAdmin), boolToInt(u.IsExternal))
			if err != nil {
				return fmt.Errorf("save user %s: %w", u.LoginName, err)
			}
		}
		return nil
	})
}

// SaveGroups upserts the groups of a site.
func (s *AuditStore) SaveGroups(ctx context.Context, groups []*sharepoint.Group) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		for _, g := range groups {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO groups (site_url, title, owner_title, member_count)
				 VALUES (?, ?, ?, ?)`,
				g.SiteURL, g.Title, g.OwnerTitle, g.MemberCount)
			if err != nil {
				return fmt.Errorf("save group %s: %w", g.Title, err)
			}
		}
		return nil
	})
}

// ReplacePermissions replaces the role assignments and inheritance items
// recorded under the given scope address prefix with a fresh collection.
func (s *AuditStore) ReplacePermissions(ctx context.Context, scopePrefix string, assignments []sharepoint.RoleAssignment, items []sharepoint.InheritanceItem) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		pattern := scopePrefix + "%"
		if _, err := tx.ExecContext(ctx, `DELETE FROM role_assignments WHERE scope_address LIKE ?`, pattern); err != nil {
			return fmt.Errorf("clear role assignments: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM inheritance_items WHERE address LIKE ?`, pattern); err != nil {
			return fmt.Errorf("clear inheritance items: %w", err)
		}

		for _, a := range assignments {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO role_assignments (principal, principal_kind, role_name, scope_kind, scope_address)
				 VALUES (?, ?, ?, ?, ?)`,
				a.Principal, a.PrincipalKind, a.RoleName, a.ScopeKind, a.ScopeAddress)
			if err != nil {
				return fmt.Errorf("save role assignment for %s: %w", a.Principal, err)
			}
		}
		for _, it := range items {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO inheritance_items (address, title, kind, breaks)
				 VALUES (?, ?, ?, ?)`,
				it.Address, it.Title, string(it.Kind), boolToInt(it.BreaksFromChain))
			if err != nil {
				return fmt.Errorf("save inheritance item %s: %w", it.Address, err)
			}
		}
		return nil
	})
}

// SaveSharingLinks upserts discovered sharing links.
func (s *AuditStore) SaveSharingLinks(ctx context.Context, links []*sharepoint.SharingLink) error {
	return s.db.WithTx(func(tx *sql.Tx) error {
		for _, l := range links {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO sharing_links (id, site_url, item_address, url, link_type, access_level, created_by, member_count)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.SiteURL, l.ItemAddress, l.URL, l.LinkType, l.AccessLevel, l.CreatedBy, l.MemberCount)
			if err != nil {
				return fmt.Errorf("save sharing link %s: %w", l.ID, err)
			}
		}
		return nil
	})
}

// LoadSites reads every persisted site.
func (s *AuditStore) LoadSites(ctx context.Context) ([]*sharepoint.Site, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT url, title, template, storage_bytes, owner_title, last_modified FROM sites`)
	if err != nil {
		return nil, fmt.Errorf("load sites: %w", err)
	}
	defer rows.Close()

	var out []*sharepoint.Site
	for rows.Next() {
		site := &sharepoint.Site{}
		if err := rows.Scan(&site.URL, &site.Title, &site.Template, &site.StorageBytes, &site.OwnerTitle, &site.LastModified); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		out = append(out, site)
	}
	return out, rows.Err()
}

// LoadUsers reads every persisted user.
func (s *AuditStore) LoadUsers(ctx context.Context) ([]*sharepoint.User, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT site_url, login_name, title, email, is_site_admin, is_external FROM users`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	var out []*sharepoint.User
	for rows.Next() {
		u := &sharepoint.User{}
		var admin, external int
		if err := rows.Scan(&u.SiteURL, &u.LoginName, &u.Title, &u.Email, &admin, &external); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.IsSiteAdmin = admin != 0
		u.IsExternal = external != 0
		out = append(out, u)
	}
	return out, rows.Err()
}

// LoadGroups reads every persisted group.
func (s *AuditStore) LoadGroups(ctx context.Context) ([]*sharepoint.Group, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT site_url, title, owner_title, member_count FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	var out []*sharepoint.Group
	for rows.Next() {
		g := &sharepoint.Group{}
		if err := rows.Scan(&g.SiteURL, &g.Title, &g.OwnerTitle, &g.MemberCount); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// LoadRoleAssignments reads every persisted role assignment.
func (s *AuditStore) LoadRoleAssignments(ctx context.Context) ([]sharepoint.RoleAssignment, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT principal, principal_kind, role_name, scope_kind, scope_address FROM role_assignments`)
	if err != nil {
		return nil, fmt.Errorf("load role assignments: %w", err)
	}
	defer rows.Close()

	var out []sharepoint.RoleAssignment
	for rows.Next() {
		var a sharepoint.RoleAssignment
		if err := rows.Scan(&a.Principal, &a.PrincipalKind, &a.RoleName, &a.ScopeKind, &a.ScopeAddress); err != nil {
			return nil, fmt.Errorf("scan role assignment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadInheritanceItems reads every persisted inheritance record.
func (s *AuditStore) LoadInheritanceItems(ctx context.Context) ([]sharepoint.InheritanceItem, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT address, title, kind, breaks FROM inheritance_items`)
	if err != nil {
		return nil, fmt.Errorf("load inheritance items: %w", err)
	}
	defer rows.Close()

	var out []sharepoint.InheritanceItem
	for rows.Next() {
		var it sharepoint.InheritanceItem
		var kind string
		var breaks int
		if err := rows.Scan(&it.Address, &it.Title, &kind, &breaks); err != nil {
			return nil, fmt.Errorf("scan inheritance item: %w", err)
		}
		it.Kind = sharepoint.NodeKind(kind)
		it.BreaksFromChain = breaks != 0
		out = append(out, it)
	}
	return out, rows.Err()
}

// LoadSharingLinks reads every persisted sharing link.
func (s *AuditStore) LoadSharingLinks(ctx context.Context) ([]*sharepoint.SharingLink, error) {
	rows, err := s.db.ReadDB().QueryContext(ctx,
		`SELECT id, site_url, item_address, url, link_type, access_level, created_by, member_count FROM sharing_links`)
	if err != nil {
		return nil, fmt.Errorf("load sharing links: %w", err)
	}
	defer rows.Close()

	var out []*sharepoint.SharingLink
	for rows.Next() {
		l := &sharepoint.SharingLink{}
		if err := rows.Scan(&l.ID, &l.SiteURL, &l.ItemAddress, &l.URL, &l.LinkType, &l.AccessLevel, &l.CreatedBy, &l.MemberCount); err != nil {
			return nil, fmt.Errorf("scan sharing link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
