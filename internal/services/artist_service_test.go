package services

import (
	"context"
	"testing"

	"gorm.io/gorm"

	"github.com/sessantasette/hub-backend/internal/domain"
	"github.com/sessantasette/hub-backend/internal/repo"
)

type artistRepoShim struct{}

func (artistRepoShim) CreateArtist(ctx context.Context, db *gorm.DB, a *domain.Artist) (*domain.Artist, error) {
	return repo.CreateArtist(ctx, db, a)
}
func (artistRepoShim) GetArtist(ctx context.Context, db *gorm.DB, id string) (*domain.Artist, error) {
	return repo.GetArtist(ctx, db, id)
}
func (artistRepoShim) GetArtistByUser(ctx context.Context, db *gorm.DB, userID string) (*domain.Artist, error) {
	return repo.GetArtistByUser(ctx, db, userID)
}
func (artistRepoShim) ListArtists(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.Artist, error) {
	return repo.ListArtists(ctx, db, activeOnly)
}
func (artistRepoShim) UpdateArtistFields(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	return repo.UpdateArtistFields(ctx, db, id, fields)
}

func newArtistSvc(t *testing.T) *ArtistService {
	t.Helper()
	db := newSvcDB(t, &domain.User{}, &domain.Artist{})
	return NewArtistService(db, artistRepoShim{})
}

func TestArtistService_Create_GateAndDefaults(t *testing.T) {
	s := newArtistSvc(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, nova, &domain.Artist{Name: "X"}); err != ErrForbidden {
		t.Fatalf("artist create err = %v, want ErrForbidden", err)
	}
	if _, err := s.Create(ctx, staff, &domain.Artist{Name: "  "}); err != ErrValidation {
		t.Fatalf("blank name err = %v, want ErrValidation", err)
	}

	a, err := s.Create(ctx, staff, &domain.Artist{Name: " Nova "})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Name != "Nova" || a.Color == "" || !a.IsActive {
		t.Fatalf("defaults: %+v", a)
	}
}

func TestArtistService_List_RosterVisibility(t *testing.T) {
	s := newArtistSvc(t)
	ctx := context.Background()

	if _, err := s.Create(ctx, staff, &domain.Artist{Name: "Nova"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	label, err := s.Create(ctx, staff, &domain.Artist{Name: "Sessantasette", IsLabel: true})
	if err != nil {
		t.Fatalf("create label: %v", err)
	}
	_ = label

	// Assignable roster excludes the label entry even for staff by default.
	got, err := s.List(ctx, staff, false)
	if err != nil || len(got) != 1 {
		t.Fatalf("assignable roster: %d err=%v", len(got), err)
	}
	// Staff may ask for everything.
	got, err = s.List(ctx, staff, true)
	if err != nil || len(got) != 2 {
		t.Fatalf("full roster: %d err=%v", len(got), err)
	}
	// Artists never get the full roster.
	got, err = s.List(ctx, nova, true)
	if err != nil || len(got) != 1 {
		t.Fatalf("artist roster: %d err=%v", len(got), err)
	}
}

func TestArtistService_UpdateAndDeactivate(t *testing.T) {
	s := newArtistSvc(t)
	ctx := context.Background()

	a, err := s.Create(ctx, staff, &domain.Artist{Name: "Nova"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Update(ctx, nova, a.ID, map[string]any{"bio": "x"}); err != ErrForbidden {
		t.Fatalf("artist update err = %v, want ErrForbidden", err)
	}
	if _, err := s.Update(ctx, staff, a.ID, map[string]any{"name": " "}); err != ErrValidation {
		t.Fatalf("blank name err = %v, want ErrValidation", err)
	}
	if _, err := s.Update(ctx, staff, "missing", map[string]any{"bio": "x"}); err != ErrArtistNotFound {
		t.Fatalf("missing err = %v, want ErrArtistNotFound", err)
	}

	got, err := s.Update(ctx, staff, a.ID, map[string]any{"bio": "rapper", "spotify_url": "https://sp/x"})
	if err != nil || got.Bio == nil || *got.Bio != "rapper" {
		t.Fatalf("update: %+v err=%v", got, err)
	}

	if err := s.Deactivate(ctx, staff, a.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	roster, err := s.List(ctx, staff, false)
	if err != nil || len(roster) != 0 {
		t.Fatalf("deactivated still listed: %d err=%v", len(roster), err)
	}
}

func TestArtistService_ResolveForUser(t *testing.T) {
	s := newArtistSvc(t)
	ctx := context.Background()

	uid := "usr-1"
	if _, err := s.Create(ctx, staff, &domain.Artist{Name: "Nova", UserID: &uid}); err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := s.ResolveForUser(ctx, uid)
	if err != nil || a.Name != "Nova" {
		t.Fatalf("resolve: %+v err=%v", a, err)
	}
	if _, err := s.ResolveForUser(ctx, "nobody"); err != ErrArtistNotFound {
		t.Fatalf("unlinked err = %v, want ErrArtistNotFound", err)
	}
}
