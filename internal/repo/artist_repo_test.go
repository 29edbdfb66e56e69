package repo

import (
	"context"
	"testing"

	"github.com/sessantasette/hub-backend/internal/domain"
)

func TestUsers_CreateAndLookup(t *testing.T) {
	db := newRepoDB(t, &domain.User{})
	ctx := context.Background()

	u, err := CreateUser(ctx, db, &domain.User{
		Email: "nova@label.example", DisplayName: "Nova", Role: domain.RoleArtist,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" {
		t.Fatal("no ID assigned")
	}

	got, err := GetUser(ctx, db, u.ID)
	if err != nil || got.Email != "nova@label.example" {
		t.Fatalf("GetUser: %+v err=%v", got, err)
	}
	got, err = GetUserByEmail(ctx, db, "nova@label.example")
	if err != nil || got.ID != u.ID {
		t.Fatalf("GetUserByEmail: %+v err=%v", got, err)
	}
	if _, err := GetUserByEmail(ctx, db, "ghost@label.example"); err != ErrNotFound {
		t.Fatalf("missing email err = %v, want ErrNotFound", err)
	}
}

func TestArtists_RosterFiltering(t *testing.T) {
	db := newRepoDB(t, &domain.User{}, &domain.Artist{})
	ctx := context.Background()

	u, _ := CreateUser(ctx, db, &domain.User{
		Email: "nova@label.example", DisplayName: "Nova", Role: domain.RoleArtist,
	})

	if _, err := CreateArtist(ctx, db, &domain.Artist{Name: "Nova", UserID: &u.ID}); err != nil {
		t.Fatalf("CreateArtist: %v", err)
	}
	if _, err := CreateArtist(ctx, db, &domain.Artist{Name: "Marea"}); err != nil {
		t.Fatalf("CreateArtist: %v", err)
	}
	if _, err := CreateArtist(ctx, db, &domain.Artist{Name: "Sessantasette", IsLabel: true}); err != nil {
		t.Fatalf("CreateArtist label: %v", err)
	}
	retired, err := CreateArtist(ctx, db, &domain.Artist{Name: "Retired"})
	if err != nil {
		t.Fatalf("CreateArtist: %v", err)
	}
	if err := UpdateArtistFields(ctx, db, retired.ID, map[string]any{"is_active": false}); err != nil {
		t.Fatalf("UpdateArtistFields: %v", err)
	}

	all, err := ListArtists(ctx, db, false)
	if err != nil || len(all) != 4 {
		t.Fatalf("all roster: got %d, err=%v", len(all), err)
	}
	active, err := ListArtists(ctx, db, true)
	if err != nil || len(active) != 2 {
		t.Fatalf("active roster: got %d, err=%v", len(active), err)
	}
	// Ordered by name; label and inactive excluded.
	if active[0].Name != "Marea" || active[1].Name != "Nova" {
		t.Fatalf("order: %s, %s", active[0].Name, active[1].Name)
	}

	linked, err := GetArtistByUser(ctx, db, u.ID)
	if err != nil || linked.Name != "Nova" {
		t.Fatalf("GetArtistByUser: %+v err=%v", linked, err)
	}
	if _, err := GetArtistByUser(ctx, db, "no-user"); err != ErrNotFound {
		t.Fatalf("unlinked err = %v, want ErrNotFound", err)
	}
}

func TestUpdateArtistFields_NotFound(t *testing.T) {
	db := newRepoDB(t, &domain.Artist{})
	err := UpdateArtistFields(context.Background(), db, "missing", map[string]any{"bio": "x"})
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
