package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrItemNotFound = errors.New("media item not found")
	ErrInvalidItem  = errors.New("invalid media item")
)

// Store provides access to media items in the sqlite library database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates a new library store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "library").Logger(),
	}
}

const itemColumns = `id, title, content_type, release_date, external_ids,
	show_external_ids, season_number, episode_number, rating, votes, last_refreshed_at`

// ListItems returns all items of the given content types, or every item
// when contentTypes is empty.
func (s *Store) ListItems(ctx context.Context, contentTypes []ContentType) ([]MediaItem, error) {
	query := `SELECT ` + itemColumns + ` FROM media_items`
	var args []any

	if len(contentTypes) > 0 {
		placeholders := make([]string, len(contentTypes))
		for i, ct := range contentTypes {
			placeholders[i] = "?"
			args = append(args, string(ct))
		}
		query += ` WHERE content_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list media items: %w", err)
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// Get retrieves a single item by id.
func (s *Store) Get(ctx context.Context, id int64) (*MediaItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM media_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return item, nil
}

// Add inserts a new item and returns it with its assigned id.
func (s *Store) Add(ctx context.Context, item MediaItem) (*MediaItem, error) {
	if !item.ContentType.Valid() {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidItem, item.ContentType)
	}

	externalIDs, err := marshalIDs(item.ExternalIDs)
	if err != nil {
		return nil, err
	}
	showIDs, err := marshalIDs(item.ShowExternalIDs)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO media_items (title, content_type, release_date, external_ids,
			show_external_ids, season_number, episode_number, rating, votes, last_refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Title,
		string(item.ContentType),
		nullTime(item.ReleaseDate),
		externalIDs,
		showIDs,
		item.SeasonNumber,
		item.EpisodeNumber,
		nullFloat(item.Rating),
		nullInt(item.Votes),
		nullTime(item.LastRefreshedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert media item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inserted id: %w", err)
	}
	item.ID = id
	return &item, nil
}

// UpdateRating writes the combined rating, vote count and refresh
// timestamp for one item in a single statement, so the three fields are
// always updated together or not at all.
func (s *Store) UpdateRating(ctx context.Context, id int64, value float64, votes int64, refreshedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE media_items
		SET rating = ?, votes = ?, last_refreshed_at = ?
		WHERE id = ?`,
		value, votes, refreshedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update rating: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}

	s.logger.Debug().
		Int64("itemId", id).
		Float64("rating", value).
		Int64("votes", votes).
		Msg("Updated item rating")

	return nil
}

// TouchRefreshed advances only the refresh timestamp. Used when the
// combined rating matches what is already stored.
func (s *Store) TouchRefreshed(ctx context.Context, id int64, refreshedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_items SET last_refreshed_at = ? WHERE id = ?`,
		refreshedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check touch result: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Count returns the number of items in the library.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_items`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count media items: %w", err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*MediaItem, error) {
	var (
		item        MediaItem
		contentType string
		releaseDate sql.NullTime
		externalIDs sql.NullString
		showIDs     sql.NullString
		ratingVal   sql.NullFloat64
		votesVal    sql.NullInt64
		refreshedAt sql.NullTime
	)

	err := row.Scan(
		&item.ID,
		&item.Title,
		&contentType,
		&releaseDate,
		&externalIDs,
		&showIDs,
		&item.SeasonNumber,
		&item.EpisodeNumber,
		&ratingVal,
		&votesVal,
		&refreshedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan media item: %w", err)
	}

	item.ContentType = ContentType(contentType)
	if releaseDate.Valid {
		t := releaseDate.Time
		item.ReleaseDate = &t
	}
	if refreshedAt.Valid {
		t := refreshedAt.Time
		item.LastRefreshedAt = &t
	}
	if ratingVal.Valid {
		v := ratingVal.Float64
		item.Rating = &v
	}
	if votesVal.Valid {
		v := votesVal.Int64
		item.Votes = &v
	}

	if item.ExternalIDs, err = unmarshalIDs(externalIDs); err != nil {
		return nil, err
	}
	if item.ShowExternalIDs, err = unmarshalIDs(showIDs); err != nil {
		return nil, err
	}
	return &item, nil
}

func marshalIDs(ids map[string]string) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal external ids: %w", err)
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalIDs(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	ids := make(map[string]string)
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal external ids: %w", err)
	}
	return ids, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
