package database

import (
	"fmt"
)

// migrations are applied in order on startup. Each entry is idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		url           TEXT PRIMARY KEY,
		title         TEXT NOT NULL DEFAULT '',
		template      TEXT NOT NULL DEFAULT '',
		storage_bytes INTEGER NOT NULL DEFAULT 0,
		owner_title   TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		site_url      TEXT NOT NULL,
		login_name    TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		email         TEXT NOT NULL DEFAULT '',
		is_site_admin INTEGER NOT NULL DEFAULT 0,
		is_external   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (site_url, login_name)
	)`,
	`CREATE TABLE IF NOT EXISTS groups (
		site_url     TEXT NOT NULL,
		title        TEXT NOT NULL,
		owner_title  TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (site_url, title)
	)`,
	`CREATE TABLE IF NOT EXISTS role_assignments (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		principal      TEXT NOT NULL,
		principal_kind TEXT NOT NULL,
		role_name      TEXT NOT NULL,
		scope_kind     TEXT NOT NULL,
		scope_address  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_role_assignments_scope
		ON role_assignments (scope_address)`,
	`CREATE TABLE IF NOT EXISTS inheritance_items (
		address TEXT PRIMARY KEY,
		title   TEXT NOT NULL DEFAULT '',
		kind    TEXT NOT NULL DEFAULT '',
		breaks  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS sharing_links (
		id           TEXT PRIMARY KEY,
		site_url     TEXT NOT NULL,
		item_address TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		link_type    TEXT NOT NULL,
		access_level TEXT NOT NULL,
		created_by   TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0
	)`,
}

// runMigrations brings the schema up to date on the write connection.
func (d *Database) runMigrations() error {
	for i, stmt := range migrations {
		if _, err := d.writeDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	d.logger.Database("Schema migrations applied", "count", len(migrations))
	return nil
}
