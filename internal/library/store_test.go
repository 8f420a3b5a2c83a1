package library

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ratesync/ratesync/internal/testutil"
)

func date(year, month, day int) *time.Time {
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestStore_AddAndGet(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	added, err := store.Add(ctx, MediaItem{
		Title:       "The Matrix",
		ContentType: ContentTypeMovie,
		ReleaseDate: date(1999, 3, 31),
		ExternalIDs: map[string]string{"imdb": "tt0133093", "trakt": "tt0133093"},
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if added.ID == 0 {
		t.Error("Add() ID = 0, want non-zero")
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != "The Matrix" {
		t.Errorf("Title = %q, want %q", got.Title, "The Matrix")
	}
	if got.ContentType != ContentTypeMovie {
		t.Errorf("ContentType = %q, want movie", got.ContentType)
	}
	if got.ExternalID("imdb") != "tt0133093" {
		t.Errorf("ExternalID(imdb) = %q, want tt0133093", got.ExternalID("imdb"))
	}
	if got.Rating != nil || got.Votes != nil || got.LastRefreshedAt != nil {
		t.Error("new item should have no rating, votes or refresh timestamp")
	}
}

func TestStore_AddRejectsUnknownContentType(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)

	_, err := store.Add(context.Background(), MediaItem{Title: "x", ContentType: "podcast"})
	if !errors.Is(err, ErrInvalidItem) {
		t.Errorf("Add() error = %v, want ErrInvalidItem", err)
	}
}

func TestStore_ListItemsFiltersByContentType(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	for _, item := range []MediaItem{
		{Title: "Movie A", ContentType: ContentTypeMovie},
		{Title: "Show B", ContentType: ContentTypeTVShow},
		{Title: "Episode C", ContentType: ContentTypeEpisode, SeasonNumber: 1, EpisodeNumber: 2},
	} {
		if _, err := store.Add(ctx, item); err != nil {
			t.Fatalf("Add(%q) error = %v", item.Title, err)
		}
	}

	movies, err := store.ListItems(ctx, []ContentType{ContentTypeMovie})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(movies) != 1 || movies[0].Title != "Movie A" {
		t.Errorf("ListItems(movie) = %+v, want only Movie A", movies)
	}

	all, err := store.ListItems(ctx, nil)
	if err != nil {
		t.Fatalf("ListItems(nil) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListItems(nil) returned %d items, want 3", len(all))
	}
}

func TestStore_UpdateRating(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	added, err := store.Add(ctx, MediaItem{Title: "Movie", ContentType: ContentTypeMovie})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := store.UpdateRating(ctx, added.ID, 7.8, 1234, now); err != nil {
		t.Fatalf("UpdateRating() error = %v", err)
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Rating == nil || *got.Rating != 7.8 {
		t.Errorf("Rating = %v, want 7.8", got.Rating)
	}
	if got.Votes == nil || *got.Votes != 1234 {
		t.Errorf("Votes = %v, want 1234", got.Votes)
	}
	if got.LastRefreshedAt == nil || !got.LastRefreshedAt.Equal(now) {
		t.Errorf("LastRefreshedAt = %v, want %v", got.LastRefreshedAt, now)
	}
}

func TestStore_UpdateRatingMissingItem(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)

	err := store.UpdateRating(context.Background(), 9999, 5.0, 10, time.Now())
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("UpdateRating() error = %v, want ErrItemNotFound", err)
	}
}

func TestStore_TouchRefreshed(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)
	ctx := context.Background()

	added, err := store.Add(ctx, MediaItem{Title: "Movie", ContentType: ContentTypeMovie})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	now := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)
	if err := store.TouchRefreshed(ctx, added.ID, now); err != nil {
		t.Fatalf("TouchRefreshed() error = %v", err)
	}

	got, err := store.Get(ctx, added.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastRefreshedAt == nil || !got.LastRefreshedAt.Equal(now) {
		t.Errorf("LastRefreshedAt = %v, want %v", got.LastRefreshedAt, now)
	}
	if got.Rating != nil {
		t.Error("TouchRefreshed must not set a rating")
	}
}

func TestStore_GetMissingItem(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	store := NewStore(tdb.Conn, tdb.Logger)

	_, err := store.Get(context.Background(), 42)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Get() error = %v, want ErrItemNotFound", err)
	}
}

func TestMediaItem_ShowExternalIDFallback(t *testing.T) {
	item := MediaItem{
		ExternalIDs:     map[string]string{"imdb": "tt1"},
		ShowExternalIDs: map[string]string{"imdb": "tt2"},
	}
	if got := item.ShowExternalID("imdb"); got != "tt2" {
		t.Errorf("ShowExternalID = %q, want tt2", got)
	}

	movie := MediaItem{ExternalIDs: map[string]string{"imdb": "tt1"}}
	if got := movie.ShowExternalID("imdb"); got != "tt1" {
		t.Errorf("ShowExternalID fallback = %q, want tt1", got)
	}
}
