package spcollector

import (
	"context"
	"fmt"

	"sprisk/database"
	"sprisk/datastore"
	"sprisk/domain/contracts"
	"sprisk/domain/scan"
	"sprisk/domain/sharepoint"
	"sprisk/infrastructure/checkpoint"
	"sprisk/infrastructure/throttle"
	"sprisk/logging"
)

// DataCollector executes the collection phases of the long-running
// operations: tenant enumeration, per-site permission analysis, and
// sharing-link enrichment. Collected facts land in the in-memory data
// store for risk analysis and in the audit database for durability.
//
// Every remote call goes through the throttle guard; phase transitions
// and item counters are checkpointed so a crashed run can be detected on
// the next start.
type DataCollector struct {
	source      contracts.PermissionSource
	guard       *throttle.Guard
	checkpoints *checkpoint.Store
	store       *datastore.Store
	audit       *database.AuditStore
	parameters  *scan.Parameters
	logger      *logging.Logger
}

// NewDataCollector creates a collector bound to the given source and
// stores. The audit store may be nil when durable persistence is not
// configured; collection then feeds only the in-memory data store.
func NewDataCollector(
	source contracts.PermissionSource,
	guard *throttle.Guard,
	checkpoints *checkpoint.Store,
	store *datastore.Store,
	audit *database.AuditStore,
	parameters *scan.Parameters,
) *DataCollector {
	if parameters == nil {
		parameters = scan.DefaultParameters()
	}
	return &DataCollector{
		source:      source,
		guard:       guard,
		checkpoints: checkpoints,
		store:       store,
		audit:       audit,
		parameters:  parameters,
		logger:      logging.Default().WithComponent("data_collector"),
	}
}

// CollectTenantData enumerates the sites, users, and groups reachable
// under the scope and replaces the corresponding data store collections.
func (c *DataCollector) CollectTenantData(ctx context.Context, scope string, reporter scan.ProgressReporter) error {
	if reporter == nil {
		reporter = scan.NewNoOpProgressReporter()
	}

	reporter.ReportProgress(scan.StandardStages.SiteDiscovery, "Enumerating site collections")

	var sites []*sharepoint.Site
	err := c.guard.Execute(ctx, "list_sites", func() error {
		var listErr error
		sites, listErr = c.source.ListSites(ctx, scope)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("enumerate sites: %w", err)
	}

	c.store.ResetSites()
	c.store.AddSites(sites...)
	c.persistSites(ctx, sites)
	c.checkpoints.Update(scan.StandardStages.SiteDiscovery, "sites", len(sites), len(sites))
	reporter.ReportItemProgress(scan.StandardStages.SiteDiscovery, "Sites discovered", len(sites), len(sites))

	rootURL := scope
	if len(sites) > 0 {
		rootURL = sites[0].URL
	}

	reporter.ReportProgress(scan.StandardStages.UserDiscovery, "Enumerating users")

	var users []*sharepoint.User
	err = c.guard.Execute(ctx, "list_users", func() error {
		var listErr error
		users, listErr = c.source.ListUsers(ctx, rootURL)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("enumerate users: %w", err)
	}

	c.store.ResetUsers()
	c.store.AddUsers(users...)
	c.persistUsers(ctx, users)
	c.checkpoints.Update(scan.StandardStages.UserDiscovery, "users", len(users), len(users))
	reporter.ReportItemProgress(scan.StandardStages.UserDiscovery, "Users discovered", len(users), len(users))

	reporter.ReportProgress(scan.StandardStages.GroupDiscovery, "Enumerating groups")

	var groups []*sharepoint.Group
	err = c.guard.Execute(ctx, "list_groups", func() error {
		var listErr error
		groups, listErr = c.source.ListGroups(ctx, rootURL)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("enumerate groups: %w", err)
	}

	c.store.ResetGroups()
	c.store.AddGroups(groups...)
	c.persistGroups(ctx, groups)
	c.checkpoints.Update(scan.StandardStages.GroupDiscovery, "groups", len(groups), len(groups))
	reporter.ReportItemProgress(scan.StandardStages.GroupDiscovery, "Groups discovered", len(groups), len(groups))

	reporter.ReportProgress(scan.StandardStages.Finalization,
		fmt.Sprintf("Enumeration finished: %d sites, %d users, %d groups", len(sites), len(users), len(groups)))
	return nil
}

// AnalyzeSitePermissions collects the permission tree of one site under
// the configured policy and replaces the flattened role assignments and
// inheritance records for that site.
func (c *DataCollector) AnalyzeSitePermissions(ctx context.Context, siteURL string, policy scan.ScanPolicy, reporter scan.ProgressReporter) (*sharepoint.PermissionMatrix, error) {
	if reporter == nil {
		reporter = scan.NewNoOpProgressReporter()
	}

	collector := NewTreeCollector(c.source, c.guard, c.parameters)

	c.checkpoints.Update(scan.StandardStages.Permissions, "", 0, 0)
	matrix, err := collector.Collect(ctx, siteURL, policy, reporter)
	if err != nil {
		return nil, fmt.Errorf("collect permission tree for %s: %w", siteURL, err)
	}

	assignments := matrix.Flatten()
	items := matrix.InheritanceItems()

	c.store.ResetPermissions()
	c.store.AddRoleAssignments(assignments...)
	c.store.AddInheritanceItems(items...)

	if c.audit != nil {
		if err := c.audit.ReplacePermissions(ctx, siteURL, assignments, items); err != nil {
			c.logger.Warn("Failed to persist permissions", "site_url", siteURL, "error", err.Error())
		}
	}

	c.checkpoints.Update(scan.StandardStages.Finalization, "nodes", matrix.TotalItems, matrix.TotalItems)
	reporter.ReportProgress(scan.StandardStages.Finalization,
		fmt.Sprintf("Analyzed %d nodes, %d with unique permissions, %d principals",
			matrix.TotalItems, matrix.UniquePermissions, matrix.TotalPrincipals))

	return matrix, nil
}

// CollectSharingData enumerates the sharing links of every known site and
// replaces the data store's sharing collection. Enrichment runs after
// enumeration; when no sites were enumerated yet it falls back to the
// given scope as a single site.
func (c *DataCollector) CollectSharingData(ctx context.Context, scope string, reporter scan.ProgressReporter) error {
	if reporter == nil {
		reporter = scan.NewNoOpProgressReporter()
	}

	siteURLs := []string{}
	for _, site := range c.store.Sites() {
		siteURLs = append(siteURLs, site.URL)
	}
	if len(siteURLs) == 0 {
		siteURLs = append(siteURLs, scope)
	}

	c.store.ResetSharing()

	total := 0
	for i, siteURL := range siteURLs {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		reporter.ReportItemProgress(scan.StandardStages.Sharing,
			fmt.Sprintf("Scanning sharing links on %s", siteURL), i+1, len(siteURLs))

		var links []*sharepoint.SharingLink
		err := c.guard.Execute(ctx, "list_sharing_links", func() error {
			var listErr error
			links, listErr = c.source.ListSharingLinks(ctx, siteURL)
			return listErr
		})
		if err != nil {
			return fmt.Errorf("enumerate sharing links for %s: %w", siteURL, err)
		}

		c.store.AddSharingLinks(links...)
		if c.audit != nil {
			if err := c.audit.SaveSharingLinks(ctx, links); err != nil {
				c.logger.Warn("Failed to persist sharing links", "site_url", siteURL, "error", err.Error())
			}
		}

		total += len(links)
		c.checkpoints.Update(scan.StandardStages.Sharing, "sites", i+1, len(siteURLs))
	}

	reporter.ReportProgress(scan.StandardStages.Finalization,
		fmt.Sprintf("Enrichment finished: %d sharing links across %d sites", total, len(siteURLs)))
	return nil
}

func (c *DataCollector) persistSites(ctx context.Context, sites []*sharepoint.Site) {
	if c.audit == nil {
		return
	}
	if err := c.audit.SaveSites(ctx, sites); err != nil {
		c.logger.Warn("Failed to persist sites", "error", err.Error())
	}
}

func (c *DataCollector) persistUsers(ctx context.Context, users []*sharepoint.User) {
	if c.audit == nil {
		return
	}
	if err := c.audit.SaveUsers(ctx, users); err != nil {
		c.logger.Warn("Failed to persist users", "error", err.Error())
	}
}

func (c *DataCollector) persistGroups(ctx context.Context, groups []*sharepoint.Group) {
	if c.audit == nil {
		return
	}
	if err := c.audit.SaveGroups(ctx, groups); err != nil {
		c.logger.Warn("Failed to persist groups", "error", err.Error())
	}
}
