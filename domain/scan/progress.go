package scan

// ProgressReporter defines the interface for reporting operation progress.
type ProgressReporter interface {
	// ReportProgress reports the current stage of the operation.
	ReportProgress(stage, description string)

	// ReportItemProgress reports progress with item counts.
	ReportItemProgress(stage, description string, itemsDone, itemsTotal int)
}

// NoOpProgressReporter is a no-op implementation for when progress
// reporting is not needed.
type NoOpProgressReporter struct{}

func (n *NoOpProgressReporter) ReportProgress(stage, description string) {}

func (n *NoOpProgressReporter) ReportItemProgress(stage, description string, itemsDone, itemsTotal int) {
}

// NewNoOpProgressReporter creates a new no-op progress reporter.
func NewNoOpProgressReporter() ProgressReporter {
	return &NoOpProgressReporter{}
}

// ProgressStages defines standard progress stage names for consistency.
type ProgressStages struct {
	Initializing   string
	Authentication string
	SiteDiscovery  string
	UserDiscovery  string
	GroupDiscovery string
	Permissions    string
	ItemScan       string
	Sharing        string
	Enrichment     string
	Finalization   string
}

// StandardStages provides consistent stage names across collectors.
var StandardStages = ProgressStages{
	Initializing:   "Initializing",
	Authentication: "Authentication",
	SiteDiscovery:  "Site Discovery",
	UserDiscovery:  "User Discovery",
	GroupDiscovery: "Group Discovery",
	Permissions:    "Permissions",
	ItemScan:       "Item Scan",
	Sharing:        "Sharing Analysis",
	Enrichment:     "Enrichment",
	Finalization:   "Finalization",
}
