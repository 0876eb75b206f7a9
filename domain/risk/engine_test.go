package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sprisk/domain/sharepoint"
)

func findByRule(t *testing.T, a *Assessment, ruleID string) *Finding {
	t.Helper()
	for i := range a.Findings {
		if a.Findings[i].RuleID == ruleID {
			return &a.Findings[i]
		}
	}
	return nil
}

func TestEngine_Assess_EmptySnapshot(t *testing.T) {
	engine := NewEngine()

	assessment := engine.Assess(&Snapshot{})

	assert.Empty(t, assessment.Findings)
	assert.Equal(t, float64(0), assessment.OverallScore)
	assert.Equal(t, LevelNone, assessment.Level)
}

func TestEngine_Assess_NilSnapshot(t *testing.T) {
	engine := NewEngine()

	assessment := engine.Assess(nil)

	assert.Empty(t, assessment.Findings)
	assert.Equal(t, LevelNone, assessment.Level)
}

func TestEngine_Assess_FullControlGrantsOnly(t *testing.T) {
	// Arrange: 6 Full Control assignments and no other risk facts.
	snap := &Snapshot{}
	for i := 0; i < 6; i++ {
		snap.RoleAssignments = append(snap.RoleAssignments, sharepoint.RoleAssignment{
			Principal:     "Admins",
			PrincipalKind: sharepoint.PrincipalKindGroup,
			RoleName:      "Full Control",
			ScopeKind:     sharepoint.ScopeKindContainer,
			ScopeAddress:  "list-1",
		})
	}

	// Act
	assessment := NewEngine().Assess(snap)

	// Assert: the only finding is PERM-001 and the aggregate equals its score.
	require.Len(t, assessment.Findings, 1)
	finding := findByRule(t, assessment, "PERM-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityHigh, finding.Severity)
	assert.Equal(t, float64(65), finding.Score)
	assert.Equal(t, float64(65), assessment.OverallScore)
	assert.Equal(t, LevelHigh, assessment.Level)
}

func TestEngine_Assess_FiveFullControlGrantsIsBelowThreshold(t *testing.T) {
	snap := &Snapshot{}
	for i := 0; i < 5; i++ {
		snap.RoleAssignments = append(snap.RoleAssignments, sharepoint.RoleAssignment{
			Principal: "Admins", PrincipalKind: sharepoint.PrincipalKindGroup,
			RoleName: "Full Control", ScopeAddress: "list-1",
		})
	}

	assessment := NewEngine().Assess(snap)

	assert.Nil(t, findByRule(t, assessment, "PERM-001"))
}

func TestEngine_Assess_AnonymousViewIsHigh(t *testing.T) {
	snap := &Snapshot{
		SharingLinks: []*sharepoint.SharingLink{
			{ID: "l1", LinkType: sharepoint.LinkTypeAnonymous, AccessLevel: sharepoint.AccessLevelView, ItemAddress: "item-1"},
		},
	}

	assessment := NewEngine().Assess(snap)

	finding := findByRule(t, assessment, "SHARE-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityHigh, finding.Severity)
	assert.Equal(t, float64(75), finding.Score)
}

func TestEngine_Assess_AnonymousEditEscalatesToCritical(t *testing.T) {
	snap := &Snapshot{
		SharingLinks: []*sharepoint.SharingLink{
			{ID: "l1", LinkType: sharepoint.LinkTypeAnonymous, AccessLevel: sharepoint.AccessLevelView, ItemAddress: "item-1"},
			{ID: "l2", LinkType: sharepoint.LinkTypeAnonymous, AccessLevel: sharepoint.AccessLevelEdit, ItemAddress: "item-2"},
		},
	}

	assessment := NewEngine().Assess(snap)

	finding := findByRule(t, assessment, "SHARE-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityCritical, finding.Severity)
	assert.Equal(t, float64(90), finding.Score)
	assert.Equal(t, 1, assessment.SeverityCounts[SeverityCritical])
}

func TestEngine_Assess_ExternalSiteAdminIsCritical(t *testing.T) {
	snap := &Snapshot{
		Users: []*sharepoint.User{
			{LoginName: "i:0#.f|membership|guest_example.com#ext#@tenant.onmicrosoft.com",
				Title: "Guest Admin", IsExternal: true, IsSiteAdmin: true},
		},
	}

	assessment := NewEngine().Assess(snap)

	finding := findByRule(t, assessment, "EXT-002")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityCritical, finding.Severity)
	assert.Contains(t, finding.Affected, "Guest Admin")
}

func TestEngine_Assess_ExternalWriteAccess(t *testing.T) {
	// Arrange: an external user holding an Edit grant by title.
	snap := &Snapshot{
		Users: []*sharepoint.User{
			{LoginName: "ext-login", Title: "Jane External", Email: "jane@partner.com", IsExternal: true},
			{LoginName: "internal", Title: "Bob Internal", IsExternal: false},
		},
		RoleAssignments: []sharepoint.RoleAssignment{
			{Principal: "Jane External", PrincipalKind: sharepoint.PrincipalKindUser, RoleName: "Edit", ScopeAddress: "list-1"},
			{Principal: "Bob Internal", PrincipalKind: sharepoint.PrincipalKindUser, RoleName: "Edit", ScopeAddress: "list-1"},
			{Principal: "Jane External", PrincipalKind: sharepoint.PrincipalKindUser, RoleName: "Read", ScopeAddress: "list-2"},
		},
	}

	// Act
	assessment := NewEngine().Assess(snap)

	// Assert: one external user counted once despite multiple grants.
	finding := findByRule(t, assessment, "EXT-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityHigh, finding.Severity)
	assert.Equal(t, []string{"Jane External"}, finding.Affected)
}

func TestEngine_Assess_ExternalDomainSpread(t *testing.T) {
	snap := &Snapshot{}
	domains := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"}
	for _, d := range domains {
		snap.Users = append(snap.Users, &sharepoint.User{
			LoginName: "guest@" + d, Email: "guest@" + d, IsExternal: true,
		})
	}

	assessment := NewEngine().Assess(snap)

	finding := findByRule(t, assessment, "EXT-003")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityMedium, finding.Severity)
	assert.Len(t, finding.Affected, 6)
}

func TestEngine_Assess_BrokenInheritanceThresholds(t *testing.T) {
	makeSnap := func(broken, total int) *Snapshot {
		snap := &Snapshot{}
		for i := 0; i < total; i++ {
			snap.InheritanceItems = append(snap.InheritanceItems, sharepoint.InheritanceItem{
				Address:         string(rune('a' + i)),
				Kind:            sharepoint.NodeKindSubContainer,
				BreaksFromChain: i < broken,
			})
		}
		return snap
	}

	// >50% broken is High.
	high := NewEngine().Assess(makeSnap(6, 10))
	finding := findByRule(t, high, "INH-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityHigh, finding.Severity)

	// >25% but <=50% is Medium.
	medium := NewEngine().Assess(makeSnap(3, 10))
	finding = findByRule(t, medium, "INH-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityMedium, finding.Severity)

	// 25% exactly does not trigger.
	quiet := NewEngine().Assess(makeSnap(1, 4))
	assert.Nil(t, findByRule(t, quiet, "INH-001"))
}

func TestEngine_Assess_EmptyGroupIsLow(t *testing.T) {
	snap := &Snapshot{
		Groups: []*sharepoint.Group{
			{Title: "Ghost Team", MemberCount: 0},
			{Title: "Real Team", MemberCount: 4},
		},
	}

	assessment := NewEngine().Assess(snap)

	finding := findByRule(t, assessment, "GRP-001")
	require.NotNil(t, finding)
	assert.Equal(t, SeverityLow, finding.Severity)
	assert.Equal(t, []string{"Ghost Team"}, finding.Affected)
	assert.Equal(t, LevelLow, assessment.Level)
}

func TestEngine_Assess_AggregateIsTopFiveAverage(t *testing.T) {
	// Arrange a snapshot triggering six rules so one score is dropped.
	snap := &Snapshot{
		Users: []*sharepoint.User{
			{LoginName: "guest#ext#", Title: "Guest", Email: "g@x.com", IsExternal: true, IsSiteAdmin: true},
		},
		Groups: []*sharepoint.Group{{Title: "Empty", MemberCount: 0}},
		SharingLinks: []*sharepoint.SharingLink{
			{ID: "l1", LinkType: sharepoint.LinkTypeAnonymous, AccessLevel: sharepoint.AccessLevelEdit, ItemAddress: "i1"},
		},
	}
	for i := 0; i < 6; i++ {
		snap.RoleAssignments = append(snap.RoleAssignments,
			sharepoint.RoleAssignment{Principal: "Guest", PrincipalKind: sharepoint.PrincipalKindUser,
				RoleName: "Full Control", ScopeAddress: "list"})
	}
	for i := 0; i < 11; i++ {
		snap.RoleAssignments = append(snap.RoleAssignments,
			sharepoint.RoleAssignment{Principal: "U", PrincipalKind: sharepoint.PrincipalKindUser,
				RoleName: "Read", ScopeAddress: "list"})
	}

	// Act
	assessment := NewEngine().Assess(snap)

	// Assert: EXT-001 (70), EXT-002 (95), SHARE-001 (90), PERM-001 (65),
	// PERM-002 (35), GRP-001 (15). Top five average: (95+90+70+65+35)/5.
	require.Len(t, assessment.Findings, 6)
	assert.InDelta(t, 71.0, assessment.OverallScore, 0.001)
	assert.Equal(t, LevelHigh, assessment.Level)
}

func TestEngine_Assess_IsIdempotent(t *testing.T) {
	snap := &Snapshot{
		Groups: []*sharepoint.Group{{Title: "Empty", MemberCount: 0}},
		SharingLinks: []*sharepoint.SharingLink{
			{ID: "l1", LinkType: sharepoint.LinkTypeAnonymous, AccessLevel: sharepoint.AccessLevelView, ItemAddress: "i1"},
		},
	}
	engine := NewEngine()

	first := engine.Assess(snap)
	second := engine.Assess(snap)

	assert.Equal(t, first, second)
}
