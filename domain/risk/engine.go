package risk

import (
	"fmt"
	"sort"
	"strings"

	"sprisk/domain/sharepoint"
)

// Engine evaluates a fixed, ordered rule table against a snapshot of the
// collected audit facts. Evaluation is idempotent and side-effect-free:
// the same snapshot always yields the same assessment.
type Engine struct {
	rules []rule
}

type rule struct {
	id       string
	evaluate func(*Snapshot) *Finding
}

// NewEngine creates a risk engine with the standard rule table.
func NewEngine() *Engine {
	return &Engine{rules: []rule{
		{"EXT-001", ruleExternalWriteAccess},
		{"EXT-002", ruleExternalSiteAdmin},
		{"EXT-003", ruleExternalDomainSpread},
		{"SHARE-001", ruleAnonymousLinks},
		{"SHARE-002", ruleCompanyWideLinks},
		{"PERM-001", ruleFullControlGrants},
		{"PERM-002", ruleDirectUserGrants},
		{"INH-001", ruleBrokenInheritance},
		{"GRP-001", ruleEmptyGroups},
	}}
}

// Assess runs every rule against the snapshot and aggregates the findings.
// The overall score is the average of the top 5 finding scores, capped
// at 100.
func (e *Engine) Assess(snap *Snapshot) *Assessment {
	assessment := &Assessment{
		SeverityCounts: map[Severity]int{},
		Findings:       []Finding{},
	}
	if snap == nil {
		assessment.Level = LevelNone
		return assessment
	}

	for _, r := range e.rules {
		finding := r.evaluate(snap)
		if finding == nil {
			continue
		}
		finding.RuleID = r.id
		assessment.Findings = append(assessment.Findings, *finding)
		assessment.SeverityCounts[finding.Severity]++
	}

	assessment.OverallScore = aggregateScore(assessment.Findings)
	assessment.Level = levelForScore(assessment.OverallScore)
	return assessment
}

func aggregateScore(findings []Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	scores := make([]float64, len(findings))
	for i, f := range findings {
		scores[i] = f.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	if len(scores) > 5 {
		scores = scores[:5]
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	avg := sum / float64(len(scores))
	if avg > 100 {
		avg = 100
	}
	return avg
}

func levelForScore(score float64) Level {
	switch {
	case score >= 80:
		return LevelCritical
	case score >= 60:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	case score > 0:
		return LevelLow
	default:
		return LevelNone
	}
}

// writeRoles are the role names that grant modification rights.
var writeRoles = map[string]bool{
	"Edit":         true,
	"Contribute":   true,
	"Full Control": true,
}

// externalUserIndex maps principal names (login and title) to external users.
func externalUserIndex(snap *Snapshot) map[string]*sharepoint.User {
	idx := make(map[string]*sharepoint.User)
	for _, u := range snap.Users {
		if !u.IsExternal {
			continue
		}
		if u.LoginName != "" {
			idx[u.LoginName] = u
		}
		if u.Title != "" {
			idx[u.Title] = u
		}
	}
	return idx
}

func ruleExternalWriteAccess(snap *Snapshot) *Finding {
	external := externalUserIndex(snap)
	if len(external) == 0 {
		return nil
	}

	seen := map[string]bool{}
	var affected []string
	for _, a := range snap.RoleAssignments {
		if !writeRoles[a.RoleName] {
			continue
		}
		u, ok := external[a.Principal]
		if !ok || seen[u.LoginName] {
			continue
		}
		seen[u.LoginName] = true
		affected = append(affected, u.DisplayName())
	}
	if len(affected) == 0 {
		return nil
	}
	sort.Strings(affected)
	return &Finding{
		Title:       "External users with write access",
		Severity:    SeverityHigh,
		Score:       70,
		Description: fmt.Sprintf("%d external user(s) hold Edit, Contribute, or Full Control grants.", len(affected)),
		Affected:    affected,
	}
}

func ruleExternalSiteAdmin(snap *Snapshot) *Finding {
	var affected []string
	for _, u := range snap.Users {
		if u.IsExternal && u.IsSiteAdmin {
			affected = append(affected, u.DisplayName())
		}
	}
	if len(affected) == 0 {
		return nil
	}
	sort.Strings(affected)
	return &Finding{
		Title:       "External site administrators",
		Severity:    SeverityCritical,
		Score:       95,
		Description: fmt.Sprintf("%d external user(s) hold site administrator rights.", len(affected)),
		Affected:    affected,
	}
}

func ruleExternalDomainSpread(snap *Snapshot) *Finding {
	domains := map[string]bool{}
	for _, u := range snap.Users {
		if !u.IsExternal {
			continue
		}
		if d := u.Domain(); d != "" {
			domains[d] = true
		}
	}
	if len(domains) <= 5 {
		return nil
	}
	affected := make([]string, 0, len(domains))
	for d := range domains {
		affected = append(affected, d)
	}
	sort.Strings(affected)
	return &Finding{
		Title:       "External users from many domains",
		Severity:    SeverityMedium,
		Score:       45,
		Description: fmt.Sprintf("External users are drawn from %d distinct domains.", len(domains)),
		Affected:    affected,
	}
}

func ruleAnonymousLinks(snap *Snapshot) *Finding {
	var anon, edit int
	var affected []string
	for _, l := range snap.SharingLinks {
		if !l.IsAnonymous() {
			continue
		}
		anon++
		if l.GrantsEdit() {
			edit++
		}
		affected = append(affected, l.ItemAddress)
	}
	if anon == 0 {
		return nil
	}
	sort.Strings(affected)
	// Anonymous edit access escalates the finding to Critical.
	if edit > 0 {
		return &Finding{
			Title:       "Anonymous edit links",
			Severity:    SeverityCritical,
			Score:       90,
			Description: fmt.Sprintf("%d anonymous sharing link(s) found, %d of them granting edit access.", anon, edit),
			Affected:    affected,
		}
	}
	return &Finding{
		Title:       "Anonymous sharing links",
		Severity:    SeverityHigh,
		Score:       75,
		Description: fmt.Sprintf("%d anonymous sharing link(s) grant access to anyone holding the URL.", anon),
		Affected:    affected,
	}
}

func ruleCompanyWideLinks(snap *Snapshot) *Finding {
	var count int
	for _, l := range snap.SharingLinks {
		if l.IsCompanyWide() {
			count++
		}
	}
	if count <= 10 {
		return nil
	}
	return &Finding{
		Title:       "Excessive company-wide links",
		Severity:    SeverityMedium,
		Score:       40,
		Description: fmt.Sprintf("%d organization-wide sharing links exist; broad internal exposure.", count),
	}
}

func ruleFullControlGrants(snap *Snapshot) *Finding {
	var affected []string
	for _, a := range snap.RoleAssignments {
		if a.RoleName == "Full Control" {
			affected = append(affected, fmt.Sprintf("%s @ %s", a.Principal, a.ScopeAddress))
		}
	}
	if len(affected) <= 5 {
		return nil
	}
	sort.Strings(affected)
	return &Finding{
		Title:       "Over-broad Full Control grants",
		Severity:    SeverityHigh,
		Score:       65,
		Description: fmt.Sprintf("%d Full Control role assignments exist; administrative access is over-distributed.", len(affected)),
		Affected:    affected,
	}
}

func ruleDirectUserGrants(snap *Snapshot) *Finding {
	var count int
	for _, a := range snap.RoleAssignments {
		if a.IsDirectUserGrant() {
			count++
		}
	}
	if count <= 10 {
		return nil
	}
	return &Finding{
		Title:       "Excessive direct-to-user grants",
		Severity:    SeverityMedium,
		Score:       35,
		Description: fmt.Sprintf("%d role assignments target users directly instead of groups, complicating lifecycle management.", count),
	}
}

func ruleBrokenInheritance(snap *Snapshot) *Finding {
	total := len(snap.InheritanceItems)
	if total == 0 {
		return nil
	}
	var broken int
	var affected []string
	for _, it := range snap.InheritanceItems {
		if it.BreaksFromChain {
			broken++
			affected = append(affected, it.Address)
		}
	}
	ratio := float64(broken) / float64(total)
	if ratio <= 0.25 {
		return nil
	}
	sort.Strings(affected)
	pct := fmt.Sprintf("%.0f%%", ratio*100)
	if ratio > 0.5 {
		return &Finding{
			Title:       "Widespread inheritance breaks",
			Severity:    SeverityHigh,
			Score:       70,
			Description: fmt.Sprintf("%s of scanned containers define their own permissions (%d of %d).", pct, broken, total),
			Affected:    affected,
		}
	}
	return &Finding{
		Title:       "Elevated inheritance breaks",
		Severity:    SeverityMedium,
		Score:       45,
		Description: fmt.Sprintf("%s of scanned containers define their own permissions (%d of %d).", pct, broken, total),
		Affected:    affected,
	}
}

func ruleEmptyGroups(snap *Snapshot) *Finding {
	var affected []string
	for _, g := range snap.Groups {
		if g.IsEmpty() {
			affected = append(affected, g.Title)
		}
	}
	if len(affected) == 0 {
		return nil
	}
	sort.Strings(affected)
	return &Finding{
		Title:       "Empty groups",
		Severity:    SeverityLow,
		Score:       15,
		Description: fmt.Sprintf("%d group(s) have no members: %s.", len(affected), strings.Join(affected, ", ")),
		Affected:    affected,
	}
}
