package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gridboard/api/internal/assets"
	"gridboard/api/internal/cache"
	"gridboard/api/internal/sanitize"
	"gridboard/api/internal/store"
)

type fakeStore struct {
	createFn            func(context.Context, store.NewDashboard) (int, error)
	deleteFn            func(context.Context, string, int) (string, error)
	updateFn            func(context.Context, string, int, store.DashboardPatch) (store.Dashboard, error)
	copyFn              func(context.Context, string, int, string, string) (int, string, error)
	getFn               func(context.Context, int, bool) (store.Dashboard, error)
	listOwnedFn         func(context.Context, string, bool) ([]store.Dashboard, error)
	listPublicFn        func(context.Context, string, bool) ([]store.Dashboard, error)
	listOwnerMapItemsFn func(context.Context, string) ([]store.GridItem, error)
}

func (f *fakeStore) Create(ctx context.Context, d store.NewDashboard) (int, error) {
	if f.createFn != nil {
		return f.createFn(ctx, d)
	}
	return 1, nil
}
func (f *fakeStore) Delete(ctx context.Context, owner string, id int) (string, error) {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, owner, id)
	}
	return "", nil
}
func (f *fakeStore) Update(ctx context.Context, owner string, id int, patch store.DashboardPatch) (store.Dashboard, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, owner, id, patch)
	}
	return store.Dashboard{ID: id, Owner: owner}, nil
}
func (f *fakeStore) Copy(ctx context.Context, owner string, sourceID int, newName, newUUID string) (int, string, error) {
	if f.copyFn != nil {
		return f.copyFn(ctx, owner, sourceID, newName, newUUID)
	}
	return sourceID + 1, "", nil
}
func (f *fakeStore) Get(ctx context.Context, id int, withItems bool) (store.Dashboard, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id, withItems)
	}
	return store.Dashboard{ID: id}, nil
}
func (f *fakeStore) ListOwned(ctx context.Context, owner string, withItems bool) ([]store.Dashboard, error) {
	if f.listOwnedFn != nil {
		return f.listOwnedFn(ctx, owner, withItems)
	}
	return nil, nil
}
func (f *fakeStore) ListPublic(ctx context.Context, owner string, withItems bool) ([]store.Dashboard, error) {
	if f.listPublicFn != nil {
		return f.listPublicFn(ctx, owner, withItems)
	}
	return nil, nil
}
func (f *fakeStore) ListOwnerMapItems(ctx context.Context, owner string) ([]store.GridItem, error) {
	if f.listOwnerMapItemsFn != nil {
		return f.listOwnerMapItemsFn(ctx, owner)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(t *testing.T, fs *fakeStore) (*Service, assets.Store) {
	t.Helper()
	media, err := assets.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	geodata, err := assets.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("geodata store: %v", err)
	}
	return New(fs, sanitize.NewHTML(), media, geodata, nil, "/media"), media
}

func TestCreateRejectsBlankName(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	_, err := svc.Create(context.Background(), "alice", CreateInput{Name: "   "})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Field != "name" {
		t.Errorf("unexpected field %q", validation.Field)
	}
}

func TestCreateSanitizesNotesAndTextItems(t *testing.T) {
	var created store.NewDashboard
	fs := &fakeStore{
		createFn: func(_ context.Context, d store.NewDashboard) (int, error) {
			created = d
			return 7, nil
		},
		getFn: func(_ context.Context, id int, _ bool) (store.Dashboard, error) {
			return store.Dashboard{ID: id, UUID: created.UUID, Name: created.Name}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	view, err := svc.Create(context.Background(), "alice", CreateInput{
		Name:  "Flood Watch",
		Notes: `<p>ok</p><script>alert(1)</script>`,
		GridItems: []store.GridItemInput{
			{I: "1", Source: "Text", ArgsString: `{"text":"<b>hi</b><script>x</script>"}`},
			{I: "2", Source: "Map", ArgsString: `{"layers":[]}`},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if view.ID != 7 {
		t.Errorf("unexpected id %d", view.ID)
	}
	if created.UUID == "" {
		t.Error("no uuid assigned")
	}
	if strings.Contains(created.Notes, "script") {
		t.Errorf("notes not sanitized: %q", created.Notes)
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(created.Items[0].ArgsString), &args); err != nil {
		t.Fatalf("decode text args: %v", err)
	}
	if args["text"] != "<b>hi</b>" {
		t.Errorf("unexpected sanitized text %q", args["text"])
	}
	if created.Items[1].ArgsString != `{"layers":[]}` {
		t.Errorf("non-text args rewritten: %q", created.Items[1].ArgsString)
	}
}

func TestCreateRejectsMalformedTextArgs(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	_, err := svc.Create(context.Background(), "alice", CreateInput{
		Name:      "x",
		GridItems: []store.GridItemInput{{I: "1", Source: "Text", ArgsString: "{broken"}},
	})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCreatePropagatesNameConflict(t *testing.T) {
	fs := &fakeStore{
		createFn: func(context.Context, store.NewDashboard) (int, error) {
			return 0, &store.NameConflictError{Name: "Flood Watch"}
		},
	}
	svc, _ := newTestService(t, fs)

	_, err := svc.Create(context.Background(), "alice", CreateInput{Name: "Flood Watch"})
	var conflict *store.NameConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected NameConflictError, got %v", err)
	}
}

func TestCreateSeedsDefaultThumbnail(t *testing.T) {
	var created store.NewDashboard
	fs := &fakeStore{
		createFn: func(_ context.Context, d store.NewDashboard) (int, error) {
			created = d
			return 1, nil
		},
		getFn: func(_ context.Context, id int, _ bool) (store.Dashboard, error) {
			return store.Dashboard{ID: id, UUID: created.UUID}, nil
		},
	}
	svc, media := newTestService(t, fs)
	ctx := context.Background()
	if err := media.Write(ctx, "default.png", []byte("png")); err != nil {
		t.Fatalf("seed default: %v", err)
	}

	view, err := svc.Create(ctx, "alice", CreateInput{Name: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	exists, err := media.Exists(ctx, created.UUID+".png")
	if err != nil || !exists {
		t.Errorf("thumbnail not seeded: %v, %v", exists, err)
	}
	if view.Image != "/media/"+created.UUID+".png" {
		t.Errorf("unexpected image url %q", view.Image)
	}
}

func TestUpdateWritesThumbnailFromDataURI(t *testing.T) {
	fs := &fakeStore{
		updateFn: func(_ context.Context, owner string, id int, _ store.DashboardPatch) (store.Dashboard, error) {
			return store.Dashboard{ID: id, Owner: owner, UUID: "dash-uuid"}, nil
		},
	}
	svc, media := newTestService(t, fs)
	ctx := context.Background()

	encoded := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("imagebytes"))
	if _, err := svc.Update(ctx, "alice", 3, UpdateInput{Image: &encoded}); err != nil {
		t.Fatalf("update: %v", err)
	}

	data, err := media.Read(ctx, "dash-uuid.png")
	if err != nil {
		t.Fatalf("read thumbnail: %v", err)
	}
	if string(data) != "imagebytes" {
		t.Errorf("unexpected thumbnail content %q", data)
	}
}

func TestUpdateRejectsBadImagePayload(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})
	var validation *ValidationError

	notDataURI := "plain string"
	if _, err := svc.Update(context.Background(), "alice", 1, UpdateInput{Image: &notDataURI}); !errors.As(err, &validation) {
		t.Errorf("expected ValidationError for missing marker, got %v", err)
	}

	badBase64 := "data:image/png;base64,@@@@"
	if _, err := svc.Update(context.Background(), "alice", 1, UpdateInput{Image: &badBase64}); !errors.As(err, &validation) {
		t.Errorf("expected ValidationError for bad base64, got %v", err)
	}
}

func TestUpdateSanitizesPatchedNotes(t *testing.T) {
	var patched store.DashboardPatch
	fs := &fakeStore{
		updateFn: func(_ context.Context, owner string, id int, patch store.DashboardPatch) (store.Dashboard, error) {
			patched = patch
			return store.Dashboard{ID: id, Owner: owner, UUID: "u"}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	notes := `keep<script>drop</script>`
	if _, err := svc.Update(context.Background(), "alice", 1, UpdateInput{Notes: &notes}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if patched.Notes == nil || strings.Contains(*patched.Notes, "drop") {
		t.Errorf("notes not sanitized: %v", patched.Notes)
	}
	if patched.Name != nil || patched.GridItems != nil {
		t.Error("unset fields should stay nil in the patch")
	}
}

func TestDeleteRemovesThumbnail(t *testing.T) {
	fs := &fakeStore{
		deleteFn: func(context.Context, string, int) (string, error) {
			return "gone-uuid", nil
		},
	}
	svc, media := newTestService(t, fs)
	ctx := context.Background()
	if err := media.Write(ctx, "gone-uuid.png", []byte("png")); err != nil {
		t.Fatalf("write thumbnail: %v", err)
	}

	if err := svc.Delete(ctx, "alice", 4); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if exists, _ := media.Exists(ctx, "gone-uuid.png"); exists {
		t.Error("thumbnail survived delete")
	}
}

func TestDeletePropagatesNotFound(t *testing.T) {
	fs := &fakeStore{
		deleteFn: func(context.Context, string, int) (string, error) {
			return "", &store.NotFoundError{ID: 9}
		},
	}
	svc, _ := newTestService(t, fs)

	err := svc.Delete(context.Background(), "alice", 9)
	var notFound *store.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestCopyDuplicatesThumbnail(t *testing.T) {
	var copiedUUID string
	fs := &fakeStore{
		copyFn: func(_ context.Context, _ string, _ int, _ string, newUUID string) (int, string, error) {
			copiedUUID = newUUID
			return 12, "source-uuid", nil
		},
		getFn: func(_ context.Context, id int, _ bool) (store.Dashboard, error) {
			return store.Dashboard{ID: id, UUID: copiedUUID}, nil
		},
	}
	svc, media := newTestService(t, fs)
	ctx := context.Background()
	if err := media.Write(ctx, "source-uuid.png", []byte("png")); err != nil {
		t.Fatalf("write thumbnail: %v", err)
	}

	view, err := svc.Copy(ctx, "alice", 2, "Flood Watch (copy)")
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if view.ID != 12 {
		t.Errorf("unexpected id %d", view.ID)
	}
	if exists, _ := media.Exists(ctx, copiedUUID+".png"); !exists {
		t.Error("thumbnail not duplicated")
	}
}

func TestCopyRejectsBlankNewName(t *testing.T) {
	svc, _ := newTestService(t, &fakeStore{})

	_, err := svc.Copy(context.Background(), "alice", 2, "")
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestViewCollapsesAccessGroups(t *testing.T) {
	fs := &fakeStore{
		getFn: func(_ context.Context, id int, _ bool) (store.Dashboard, error) {
			return store.Dashboard{ID: id, UUID: "u", AccessGroups: []string{"hydrology", "public"}}, nil
		},
	}
	svc, _ := newTestService(t, fs)

	view, err := svc.Get(context.Background(), 1, false)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(view.AccessGroups) != 1 || view.AccessGroups[0] != "public" {
		t.Errorf("expected groups collapsed to [public], got %v", view.AccessGroups)
	}
	if view.Notes != nil || view.GridItems != nil {
		t.Error("summary view should omit notes and grid items")
	}
}

func TestListUsesCache(t *testing.T) {
	ownedCalls := 0
	fs := &fakeStore{
		listOwnedFn: func(_ context.Context, owner string, _ bool) ([]store.Dashboard, error) {
			ownedCalls++
			return []store.Dashboard{{ID: 1, UUID: "a", Name: "mine", Owner: owner}}, nil
		},
		listPublicFn: func(context.Context, string, bool) ([]store.Dashboard, error) {
			return []store.Dashboard{{ID: 2, UUID: "b", Name: "theirs", AccessGroups: []string{"public"}}}, nil
		},
	}
	media, err := assets.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	s := miniredis.RunT(t)
	listCache := cache.NewWithClient(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	svc := New(fs, sanitize.NewHTML(), media, media, listCache, "/media")
	ctx := context.Background()

	first, err := svc.List(ctx, "alice", false)
	if err != nil {
		t.Fatalf("first list: %v", err)
	}
	second, err := svc.List(ctx, "alice", false)
	if err != nil {
		t.Fatalf("second list: %v", err)
	}
	if ownedCalls != 1 {
		t.Errorf("expected one store read, got %d", ownedCalls)
	}
	if len(second.User) != 1 || second.User[0].Name != first.User[0].Name {
		t.Errorf("cached list differs: %+v", second)
	}

	// A mutation invalidates the owner's keys so the next list re-reads.
	if err := svc.Delete(ctx, "alice", 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.List(ctx, "alice", false); err != nil {
		t.Fatalf("third list: %v", err)
	}
	if ownedCalls != 2 {
		t.Errorf("expected a store re-read after invalidation, got %d calls", ownedCalls)
	}
}
