package risk

import (
	"sprisk/domain/sharepoint"
)

// Severity classifies the impact of a finding.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Level is the qualitative aggregate risk level of an assessment.
type Level string

const (
	LevelCritical Level = "Critical"
	LevelHigh     Level = "High"
	LevelMedium   Level = "Medium"
	LevelLow      Level = "Low"
	LevelNone     Level = "None"
)

// Finding is one triggered rule with its severity, score contribution,
// and the subjects it affects. Produced fresh on every evaluation.
type Finding struct {
	RuleID      string   `json:"rule_id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Score       float64  `json:"score"`
	Description string   `json:"description"`
	Affected    []string `json:"affected,omitempty"`
}

// Assessment is the aggregate result of one rule evaluation pass.
// It is a pure function of the snapshot it was computed from.
type Assessment struct {
	OverallScore   float64          `json:"overall_score"`
	Level          Level            `json:"level"`
	SeverityCounts map[Severity]int `json:"severity_counts"`
	Findings       []Finding        `json:"findings"`
}

// Snapshot holds the collected facts the rule table evaluates. Readers
// receive a copy; the engine never mutates it.
type Snapshot struct {
	Sites            []*sharepoint.Site
	Users            []*sharepoint.User
	Groups           []*sharepoint.Group
	RoleAssignments  []sharepoint.RoleAssignment
	InheritanceItems []sharepoint.InheritanceItem
	SharingLinks     []*sharepoint.SharingLink
}
