// Package dashboard orchestrates dashboard operations over the relational
// store, the sanitizer, the asset store and the optional list cache. Owner
// identity comes from the caller; this package performs no authentication.
package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"gridboard/api/internal/assets"
	"gridboard/api/internal/cache"
	"gridboard/api/internal/store"
)

// listCacheTTL bounds how stale another owner's list can be after a public
// dashboard changes: mutations invalidate only the acting owner's keys.
const listCacheTTL = 30 * time.Second

// Sanitizer cleans rich text. Must be idempotent.
type Sanitizer interface {
	Sanitize(dirty string) string
}

type dataStore interface {
	Create(ctx context.Context, d store.NewDashboard) (int, error)
	Delete(ctx context.Context, owner string, id int) (string, error)
	Update(ctx context.Context, owner string, id int, patch store.DashboardPatch) (store.Dashboard, error)
	Copy(ctx context.Context, owner string, sourceID int, newName, newUUID string) (int, string, error)
	Get(ctx context.Context, id int, withItems bool) (store.Dashboard, error)
	ListOwned(ctx context.Context, owner string, withItems bool) ([]store.Dashboard, error)
	ListPublic(ctx context.Context, owner string, withItems bool) ([]store.Dashboard, error)
	ListOwnerMapItems(ctx context.Context, owner string) ([]store.GridItem, error)
	Ping(ctx context.Context) error
}

type Service struct {
	store     dataStore
	sanitizer Sanitizer
	media     assets.Store
	geodata   assets.Store
	cache     *cache.Cache
	mediaURL  string
}

// New wires the service. cache may be nil to disable list caching; media
// holds thumbnails keyed "<uuid>.png" and geodata the per-owner JSON files.
func New(dataStore dataStore, sanitizer Sanitizer, media, geodata assets.Store, listCache *cache.Cache, mediaURL string) *Service {
	return &Service{
		store:     dataStore,
		sanitizer: sanitizer,
		media:     media,
		geodata:   geodata,
		cache:     listCache,
		mediaURL:  strings.TrimSuffix(mediaURL, "/"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type CreateInput struct {
	Name                  string                `json:"name"`
	Description           string                `json:"description"`
	Notes                 string                `json:"notes"`
	AccessGroups          []string              `json:"accessGroups"`
	UnrestrictedPlacement bool                  `json:"unrestrictedPlacement"`
	GridItems             []store.GridItemInput `json:"gridItems"`
}

type UpdateInput struct {
	Name                  *string                `json:"name"`
	Description           *string                `json:"description"`
	Notes                 *string                `json:"notes"`
	AccessGroups          *[]string              `json:"accessGroups"`
	UnrestrictedPlacement *bool                  `json:"unrestrictedPlacement"`
	GridItems             *[]store.GridItemInput `json:"gridItems"`
	Image                 *string                `json:"image"`
}

// Create mints an external id, sanitizes rich text and persists the dashboard
// with its items (or the default placeholder). The default thumbnail is
// seeded best-effort so list views have an image from the start.
func (s *Service) Create(ctx context.Context, owner string, in CreateInput) (View, error) {
	if strings.TrimSpace(in.Name) == "" {
		return View{}, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	items, err := s.sanitizeItems(in.GridItems)
	if err != nil {
		return View{}, err
	}

	dashboardUUID := uuid.NewString()
	groups := in.AccessGroups
	if groups == nil {
		groups = []string{}
	}
	id, err := s.store.Create(ctx, store.NewDashboard{
		Owner:                 owner,
		UUID:                  dashboardUUID,
		Name:                  in.Name,
		Description:           in.Description,
		Notes:                 s.sanitizer.Sanitize(in.Notes),
		AccessGroups:          groups,
		UnrestrictedPlacement: in.UnrestrictedPlacement,
		Items:                 items,
	})
	if err != nil {
		return View{}, err
	}

	if exists, err := s.media.Exists(ctx, "default.png"); err == nil && exists {
		if err := s.media.Copy(ctx, "default.png", thumbnailKey(dashboardUUID)); err != nil {
			log.Printf("seed thumbnail for %s: %v", dashboardUUID, err)
		}
	}

	s.invalidateLists(ctx, owner)

	created, err := s.store.Get(ctx, id, true)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, created, true), nil
}

// Get returns one dashboard by surrogate id. Detail views include notes and
// the ordered grid items; summary views omit them.
func (s *Service) Get(ctx context.Context, id int, dashboardView bool) (View, error) {
	dashboard, err := s.store.Get(ctx, id, dashboardView)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, dashboard, dashboardView), nil
}

// Lists is the two-collection list response: the owner's dashboards and
// other owners' public ones.
type Lists struct {
	User   []View `json:"user"`
	Public []View `json:"public"`
}

func (s *Service) List(ctx context.Context, owner string, dashboardView bool) (Lists, error) {
	cacheKey := fmt.Sprintf("lists:%s:%t", owner, dashboardView)
	if s.cache != nil {
		var cached Lists
		if hit, err := s.cache.GetJSON(ctx, cacheKey, &cached); err != nil {
			log.Printf("list cache read: %v", err)
		} else if hit {
			return cached, nil
		}
	}

	owned, err := s.store.ListOwned(ctx, owner, dashboardView)
	if err != nil {
		return Lists{}, err
	}
	public, err := s.store.ListPublic(ctx, owner, dashboardView)
	if err != nil {
		return Lists{}, err
	}

	lists := Lists{User: s.views(ctx, owned, dashboardView), Public: s.views(ctx, public, dashboardView)}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cacheKey, lists, listCacheTTL); err != nil {
			log.Printf("list cache write: %v", err)
		}
	}
	return lists, nil
}

// Update applies a sparse patch and returns the reprojected dashboard.
// Thumbnail bytes from the image data URI are written after the database
// transaction commits; a failure there surfaces as a StorageError without
// undoing the committed update.
func (s *Service) Update(ctx context.Context, owner string, id int, in UpdateInput) (View, error) {
	var imageBytes []byte
	if in.Image != nil {
		var err error
		imageBytes, err = decodeImageDataURI(*in.Image)
		if err != nil {
			return View{}, err
		}
	}

	patch := store.DashboardPatch{
		Name:                  in.Name,
		Description:           in.Description,
		AccessGroups:          in.AccessGroups,
		UnrestrictedPlacement: in.UnrestrictedPlacement,
	}
	if in.Notes != nil {
		clean := s.sanitizer.Sanitize(*in.Notes)
		patch.Notes = &clean
	}
	if in.GridItems != nil {
		items, err := s.sanitizeItems(*in.GridItems)
		if err != nil {
			return View{}, err
		}
		patch.GridItems = &items
	}

	updated, err := s.store.Update(ctx, owner, id, patch)
	if err != nil {
		return View{}, err
	}

	s.invalidateLists(ctx, owner)

	if imageBytes != nil {
		if err := s.media.Write(ctx, thumbnailKey(updated.UUID), imageBytes); err != nil {
			return View{}, &StorageError{Op: "write thumbnail", Err: err}
		}
	}
	return s.view(ctx, updated, true), nil
}

// Delete removes the dashboard, its grid items and, best-effort, its
// thumbnail.
func (s *Service) Delete(ctx context.Context, owner string, id int) error {
	dashboardUUID, err := s.store.Delete(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.media.Delete(ctx, thumbnailKey(dashboardUUID)); err != nil {
		log.Printf("delete thumbnail for %s: %v", dashboardUUID, err)
	}
	s.invalidateLists(ctx, owner)
	return nil
}

// Copy clones a dashboard under a new name for owner and duplicates the
// source's thumbnail when one exists.
func (s *Service) Copy(ctx context.Context, owner string, sourceID int, newName string) (View, error) {
	if strings.TrimSpace(newName) == "" {
		return View{}, &ValidationError{Field: "newName", Reason: "must not be empty"}
	}
	newUUID := uuid.NewString()
	id, sourceUUID, err := s.store.Copy(ctx, owner, sourceID, newName, newUUID)
	if err != nil {
		return View{}, err
	}

	if exists, err := s.media.Exists(ctx, thumbnailKey(sourceUUID)); err == nil && exists {
		if err := s.media.Copy(ctx, thumbnailKey(sourceUUID), thumbnailKey(newUUID)); err != nil {
			log.Printf("copy thumbnail %s to %s: %v", sourceUUID, newUUID, err)
		}
	}

	s.invalidateLists(ctx, owner)

	copied, err := s.store.Get(ctx, id, true)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, copied, true), nil
}

// sanitizeItems passes Text visualization payloads through the sanitizer
// before they are persisted. Other sources carry opaque args.
func (s *Service) sanitizeItems(items []store.GridItemInput) ([]store.GridItemInput, error) {
	cleaned := make([]store.GridItemInput, len(items))
	copy(cleaned, items)
	for i := range cleaned {
		if cleaned[i].Source != "Text" {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(cleaned[i].ArgsString), &args); err != nil {
			return nil, &ValidationError{Field: "gridItems", Reason: fmt.Sprintf("item %q args is not valid JSON", cleaned[i].I)}
		}
		if text, ok := args["text"].(string); ok {
			args["text"] = s.sanitizer.Sanitize(text)
		}
		encoded, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode item args: %w", err)
		}
		cleaned[i].ArgsString = string(encoded)
	}
	return cleaned, nil
}

func (s *Service) invalidateLists(ctx context.Context, owner string) {
	if s.cache == nil {
		return
	}
	keys := []string{
		fmt.Sprintf("lists:%s:true", owner),
		fmt.Sprintf("lists:%s:false", owner),
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("invalidate list cache for %s: %v", owner, err)
	}
}

func thumbnailKey(dashboardUUID string) string {
	return dashboardUUID + ".png"
}

// decodeImageDataURI extracts the raw bytes from a "data:image/png;base64,…"
// payload.
func decodeImageDataURI(dataURI string) ([]byte, error) {
	_, encoded, found := strings.Cut(dataURI, ";base64,")
	if !found {
		return nil, &ValidationError{Field: "image", Reason: "expected a base64 data URI"}
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &ValidationError{Field: "image", Reason: "invalid base64 payload"}
	}
	return decoded, nil
}
