package dashboard

import (
	"context"
	"log"

	"gridboard/api/internal/store"
)

// defaultThumbnail is served for dashboards without a stored image.
const defaultThumbnail = "/static/images/default_dashboard.png"

// View is the structured record handed to the API layer. Notes and GridItems
// are populated only on detail views; list views stay summary-sized.
type View struct {
	ID                    int        `json:"id"`
	UUID                  string     `json:"uuid"`
	Name                  string     `json:"name"`
	Description           string     `json:"description"`
	AccessGroups          []string   `json:"accessGroups"`
	UnrestrictedPlacement bool       `json:"unrestrictedPlacement"`
	Image                 string     `json:"image"`
	Notes                 *string    `json:"notes,omitempty"`
	GridItems             []ItemView `json:"gridItems,omitempty"`
}

type ItemView struct {
	ID             int    `json:"id"`
	I              string `json:"i"`
	X              int    `json:"x"`
	Y              int    `json:"y"`
	W              int    `json:"w"`
	H              int    `json:"h"`
	Source         string `json:"source"`
	ArgsString     string `json:"args_string"`
	MetadataString string `json:"metadata_string"`
}

func (s *Service) view(ctx context.Context, d store.Dashboard, dashboardView bool) View {
	image := defaultThumbnail
	exists, err := s.media.Exists(ctx, thumbnailKey(d.UUID))
	if err != nil {
		log.Printf("check thumbnail for %s: %v", d.UUID, err)
	} else if exists {
		image = s.mediaURL + "/" + thumbnailKey(d.UUID)
	}

	// Only the public tag is exposed; internal group tags stay server-side.
	groups := []string{}
	if d.Public() {
		groups = []string{"public"}
	}

	view := View{
		ID:                    d.ID,
		UUID:                  d.UUID,
		Name:                  d.Name,
		Description:           d.Description,
		AccessGroups:          groups,
		UnrestrictedPlacement: d.UnrestrictedPlacement,
		Image:                 image,
	}
	if dashboardView {
		notes := d.Notes
		view.Notes = &notes
		view.GridItems = make([]ItemView, 0, len(d.GridItems))
		for _, item := range d.GridItems {
			view.GridItems = append(view.GridItems, ItemView{
				ID:             item.ID,
				I:              item.I,
				X:              item.X,
				Y:              item.Y,
				W:              item.W,
				H:              item.H,
				Source:         item.Source,
				ArgsString:     item.ArgsString,
				MetadataString: item.MetadataString,
			})
		}
	}
	return view
}

func (s *Service) views(ctx context.Context, dashboards []store.Dashboard, dashboardView bool) []View {
	views := make([]View, 0, len(dashboards))
	for _, d := range dashboards {
		views = append(views, s.view(ctx, d, dashboardView))
	}
	return views
}
