package sharepoint

// Site represents a site collection discovered during tenant enumeration.
type Site struct {
	URL          string
	Title        string
	Template     string
	StorageBytes int64 // Storage usage if the API reported it, 0 otherwise
	OwnerTitle   string
	LastModified string
}

// Container represents a list or document library within a site.
type Container struct {
	ID        string
	SiteURL   string
	Title     string
	URL       string
	ItemCount int
	Hidden    bool
	HasUnique bool // Breaks permission inheritance from its site
}

// Item represents a folder or file within a container.
type Item struct {
	GUID        string
	ContainerID string
	Name        string
	URL         string
	IsFolder    bool
	HasUnique   bool // Breaks permission inheritance from its container
}
