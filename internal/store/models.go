package store

import "time"

// Dashboard is one persisted dashboard row. GridItems is populated only on
// detail reads; list queries leave it nil.
type Dashboard struct {
	ID                    int
	UUID                  string
	Name                  string
	Description           string
	Notes                 string
	Owner                 string
	AccessGroups          []string
	UnrestrictedPlacement bool
	LastUpdated           time.Time
	GridItems             []GridItem
}

// Public reports whether the dashboard carries the "public" access tag.
func (d Dashboard) Public() bool {
	for _, group := range d.AccessGroups {
		if group == "public" {
			return true
		}
	}
	return false
}

// GridItem is one cell of a dashboard grid. I is the externally chosen item
// key, unique within a dashboard. ArgsString and MetadataString hold JSON text
// whose shape is owned by the migration revision chain.
type GridItem struct {
	ID             int
	DashboardID    int
	I              string
	X              int
	Y              int
	W              int
	H              int
	Source         string
	ArgsString     string
	MetadataString string
	Order          int
}

// GridItemInput is a client-submitted grid item, before it has an identity.
type GridItemInput struct {
	I              string `json:"i"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	W              int    `json:"w"`
	H              int    `json:"h"`
	Source         string `json:"source"`
	ArgsString     string `json:"args_string"`
	MetadataString string `json:"metadata_string"`
}

// NewDashboard carries everything needed to create a dashboard. An empty
// Items slice means the store synthesizes a single placeholder item.
type NewDashboard struct {
	Owner                 string
	UUID                  string
	Name                  string
	Description           string
	Notes                 string
	AccessGroups          []string
	UnrestrictedPlacement bool
	Items                 []GridItemInput
}

// DashboardPatch is a sparse update. Nil fields are left untouched.
type DashboardPatch struct {
	Name                  *string
	Description           *string
	Notes                 *string
	AccessGroups          *[]string
	UnrestrictedPlacement *bool
	GridItems             *[]GridItemInput
}
