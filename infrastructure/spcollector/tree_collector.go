package spcollector

import (
	"context"
	"fmt"
	"time"

	"sprisk/domain/contracts"
	"sprisk/domain/scan"
	"sprisk/domain/sharepoint"
	"sprisk/infrastructure/throttle"
	"sprisk/logging"
)

// TreeCollector recursively walks the permission hierarchy of a site
// (container root, sub-containers, items) and builds an annotated node
// tree with aggregate counts.
//
// A node whose role-assignment lookup fails is recorded with an empty
// entry list and a logged warning; a partial remote failure never aborts
// the traversal.
type TreeCollector struct {
	source     contracts.PermissionSource
	guard      *throttle.Guard
	parameters *scan.Parameters
	logger     *logging.Logger
}

// NewTreeCollector creates a permission tree collector. Every remote call
// goes through the throttle guard.
func NewTreeCollector(source contracts.PermissionSource, guard *throttle.Guard, parameters *scan.Parameters) *TreeCollector {
	if parameters == nil {
		parameters = scan.DefaultParameters()
	}
	return &TreeCollector{
		source:     source,
		guard:      guard,
		parameters: parameters,
		logger:     logging.Default().WithComponent("tree_collector"),
	}
}

// collectTotals tracks the running aggregates of one collection pass.
type collectTotals struct {
	totalItems        int
	uniquePermissions int
	principals        map[string]struct{}
}

func (t *collectTotals) visit(node *sharepoint.PermissionNode) {
	t.totalItems++
	if node.HasUniquePermissions() {
		t.uniquePermissions++
	}
	for _, e := range node.Entries {
		t.principals[e.Principal] = struct{}{}
	}
}

// Collect walks the permission hierarchy under rootScope and returns the
// annotated tree plus aggregate counts.
//
// Quick policy descends into a sub-container's items only when that
// sub-container itself has unique permissions, and surfaces only items
// that themselves break inheritance. Full policy visits every
// sub-container and records every item regardless of inheritance status.
func (c *TreeCollector) Collect(ctx context.Context, rootScope string, policy scan.ScanPolicy, reporter scan.ProgressReporter) (*sharepoint.PermissionMatrix, error) {
	if reporter == nil {
		reporter = scan.NewNoOpProgressReporter()
	}

	started := time.Now()
	totals := &collectTotals{principals: map[string]struct{}{}}

	reporter.ReportProgress(scan.StandardStages.Permissions, "Collecting root permissions")

	root := &sharepoint.PermissionNode{
		Title:   rootScope,
		Kind:    sharepoint.NodeKindContainerRoot,
		Address: rootScope,
	}
	root.Entries = c.nodeEntries(ctx, contracts.PermissionTarget{
		Kind:    sharepoint.ScopeKindSite,
		Address: rootScope,
	})
	totals.visit(root)

	var containers []*sharepoint.Container
	err := c.guard.Execute(ctx, "list_containers", func() error {
		var listErr error
		containers, listErr = c.source.ListChildContainers(ctx, rootScope)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("list containers under %s: %w", rootScope, err)
	}

	for i, container := range containers {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if container.Hidden && c.parameters.SkipHidden {
			continue
		}

		reporter.ReportItemProgress(scan.StandardStages.Permissions,
			fmt.Sprintf("Scanning %s", container.Title), i+1, len(containers))

		node := root.AddChild(&sharepoint.PermissionNode{
			Title:   container.Title,
			Kind:    sharepoint.NodeKindSubContainer,
			Address: container.ID,
		})

		// Sub-container role assignments are recorded only when the
		// container breaks inheritance; an inheriting container adds
		// nothing beyond its parent's entries.
		if container.HasUnique {
			node.Entries = c.nodeEntries(ctx, contracts.PermissionTarget{
				Kind:    sharepoint.ScopeKindContainer,
				Address: container.ID,
			})
		}
		totals.visit(node)

		descend := policy == scan.PolicyFull || container.HasUnique
		if !descend || !c.parameters.ScanIndividualItems {
			continue
		}

		if err := c.collectItems(ctx, node, container, policy, totals, reporter); err != nil {
			return nil, err
		}
	}

	matrix := &sharepoint.PermissionMatrix{
		Root:              root,
		Policy:            string(policy),
		TotalItems:        totals.totalItems,
		UniquePermissions: totals.uniquePermissions,
		TotalPrincipals:   len(totals.principals),
		CompletedAt:       time.Now(),
	}

	c.logger.Performance("permission_tree_collect", time.Since(started),
		"root_scope", rootScope,
		"policy", string(policy),
		"total_items", matrix.TotalItems,
		"unique_permissions", matrix.UniquePermissions,
		"total_principals", matrix.TotalPrincipals)

	return matrix, nil
}

// collectItems walks the items of one sub-container and appends the nodes
// the policy admits.
func (c *TreeCollector) collectItems(ctx context.Context, parent *sharepoint.PermissionNode, container *sharepoint.Container, policy scan.ScanPolicy, totals *collectTotals, reporter scan.ProgressReporter) error {
	var items []*sharepoint.Item
	err := c.guard.Execute(ctx, "list_items", func() error {
		var listErr error
		items, listErr = c.source.ListItems(ctx, container.ID)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("list items of %s: %w", container.Title, err)
	}

	scanned := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Quick surfaces only items that break inheritance themselves;
		// pure-inheritance items are skipped entirely to bound cost.
		if policy == scan.PolicyQuick && !item.HasUnique {
			continue
		}

		node := parent.AddChild(&sharepoint.PermissionNode{
			Title:   item.Name,
			Kind:    sharepoint.NodeKindItem,
			Address: item.GUID,
		})
		if item.HasUnique {
			node.Entries = c.nodeEntries(ctx, contracts.PermissionTarget{
				Kind:    sharepoint.ScopeKindItem,
				Address: item.GUID,
			})
		}
		totals.visit(node)

		scanned++
		if scanned%50 == 0 {
			reporter.ReportItemProgress(scan.StandardStages.ItemScan,
				fmt.Sprintf("Scanning items in %s", container.Title), scanned, 0)
		}
	}

	return nil
}

// nodeEntries fetches the direct role assignments for one node, filtering
// the structural "Limited Access" bindings. Lookup failures and partial
// permission denials degrade to an empty entry list with a warning.
func (c *TreeCollector) nodeEntries(ctx context.Context, target contracts.PermissionTarget) []sharepoint.PermissionEntry {
	var result *contracts.RoleAssignmentResult
	err := c.guard.Execute(ctx, "get_role_assignments", func() error {
		var callErr error
		result, callErr = c.source.GetRoleAssignments(ctx, target)
		return callErr
	})
	if err != nil {
		c.logger.Warn("Failed to read role assignments, recording node without entries",
			"target_kind", target.Kind,
			"target_address", target.Address,
			"error", err.Error())
		return nil
	}
	if result.Denied {
		c.logger.Warn("Access denied reading role assignments, recording node without entries",
			"target_kind", target.Kind,
			"target_address", target.Address,
			"reason", result.DeniedReason)
		return nil
	}

	entries := make([]sharepoint.PermissionEntry, 0, len(result.Entries))
	for _, e := range result.Entries {
		if e.Role == sharepoint.RoleLimitedAccess {
			continue
		}
		entries = append(entries, e)
	}
	return entries
}
