package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when a record does not exist or is not in a state
// the operation can act on.
var ErrNotFound = errors.New("record not found")

// Settings keys used by the service. The cursor is one entry in the generic
// settings table, not a column of its own.
const (
	CursorKey    = "last_update_id"
	StartDateKey = "window_start_date"
	EndDateKey   = "window_end_date"
)

// Post is one observed source-channel message. A post is unpublished until a
// repost succeeds; a claim (claimed_at set) reserves it for one in-flight
// repost attempt.
type Post struct {
	ID             int64
	MessageID      int64
	ChannelID      int64
	PostDate       time.Time
	IsReposted     bool
	ClaimedAt      sql.NullTime
	RepostedAt     sql.NullTime
	ContentPreview string
	CreatedAt      time.Time
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the posts and settings tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id SERIAL PRIMARY KEY,
			message_id BIGINT NOT NULL,
			channel_id BIGINT NOT NULL,
			post_date TIMESTAMPTZ NOT NULL,
			is_reposted BOOLEAN NOT NULL DEFAULT FALSE,
			claimed_at TIMESTAMPTZ,
			reposted_at TIMESTAMPTZ,
			content_preview TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (message_id, channel_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_unpublished ON posts (is_reposted, post_date)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR(255) PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Ping checks store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertPosts inserts records that are not yet known, keyed by
// (message_id, channel_id). Re-inserting a known record is a no-op, so sync
// passes may overlap windows freely. Returns the number of new rows.
func (s *Store) UpsertPosts(ctx context.Context, posts []Post) (int, error) {
	query := `
		INSERT INTO posts (message_id, channel_id, post_date, content_preview)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, channel_id) DO NOTHING
	`
	inserted := 0
	for _, p := range posts {
		res, err := s.db.ExecContext(ctx, query, p.MessageID, p.ChannelID, p.PostDate, p.ContentPreview)
		if err != nil {
			return inserted, fmt.Errorf("upsert post %d: %w", p.MessageID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// LoadCursor returns the persisted update-stream cursor, or 0 when no sync
// has completed yet.
func (s *Store) LoadCursor(ctx context.Context) (int64, error) {
	value, err := s.GetSetting(ctx, CursorKey)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	cursor, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", value, err)
	}
	return cursor, nil
}

// SaveCursor persists the cursor. The guard in the upsert keeps the stored
// value monotonically non-decreasing even if two sync passes race.
func (s *Store) SaveCursor(ctx context.Context, cursor int64) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
		WHERE settings.value::bigint <= EXCLUDED.value::bigint
	`
	if _, err := s.db.ExecContext(ctx, query, CursorKey, strconv.FormatInt(cursor, 10)); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// GetSetting reads one settings value. Returns ErrNotFound for a missing key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting upserts one settings value, last write wins.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

// ListUnpublished returns the selectable pool: posts that are neither
// reposted nor currently claimed, ordered by post_date for deterministic
// iteration. Selection over the pool is the caller's concern.
func (s *Store) ListUnpublished(ctx context.Context) ([]Post, error) {
	query := `
		SELECT id, message_id, channel_id, post_date, is_reposted, claimed_at, reposted_at, content_preview, created_at
		FROM posts
		WHERE is_reposted = FALSE AND claimed_at IS NULL
		ORDER BY post_date ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []Post
	for rows.Next() {
		var p Post
		if err := rows.Scan(&p.ID, &p.MessageID, &p.ChannelID, &p.PostDate, &p.IsReposted,
			&p.ClaimedAt, &p.RepostedAt, &p.ContentPreview, &p.CreatedAt); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CountUnpublished counts posts that have not been reposted yet, claimed or
// not. Used by the health snapshot.
func (s *Store) CountUnpublished(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE is_reposted = FALSE`).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Claim reserves one unpublished post for an in-flight repost attempt. The
// conditional update is the only mutual exclusion in the system: it succeeds
// for exactly one caller even across independent processes sharing the
// database. A claim older than the lease counts as abandoned and can be
// taken over.
func (s *Store) Claim(ctx context.Context, messageID, channelID int64, lease time.Duration) (bool, error) {
	query := `
		UPDATE posts SET claimed_at = NOW()
		WHERE message_id = $1 AND channel_id = $2
			AND is_reposted = FALSE
			AND (claimed_at IS NULL OR claimed_at < NOW() - ($3 * INTERVAL '1 second'))
	`
	res, err := s.db.ExecContext(ctx, query, messageID, channelID, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("claim post %d: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkReposted finalizes a claimed post. Reposted is terminal: the guard on
// is_reposted makes the call a no-op returning ErrNotFound if the post was
// already finalized.
func (s *Store) MarkReposted(ctx context.Context, messageID, channelID int64, at time.Time) error {
	query := `
		UPDATE posts SET is_reposted = TRUE, reposted_at = $3, claimed_at = NULL
		WHERE message_id = $1 AND channel_id = $2 AND is_reposted = FALSE
	`
	res, err := s.db.ExecContext(ctx, query, messageID, channelID, at)
	if err != nil {
		return fmt.Errorf("mark reposted %d: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseClaim returns a claimed post to the unpublished pool after a failed
// repost attempt, so it stays eligible for a future trigger.
func (s *Store) ReleaseClaim(ctx context.Context, messageID, channelID int64) error {
	query := `
		UPDATE posts SET claimed_at = NULL
		WHERE message_id = $1 AND channel_id = $2 AND is_reposted = FALSE
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, channelID); err != nil {
		return fmt.Errorf("release claim %d: %w", messageID, err)
	}
	return nil
}

// ReleaseExpiredClaims frees claims whose lease ran out, covering processes
// that crashed between claim and finalize. Returns the number of rows freed.
func (s *Store) ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error) {
	query := `
		UPDATE posts SET claimed_at = NULL
		WHERE is_reposted = FALSE
			AND claimed_at IS NOT NULL
			AND claimed_at < NOW() - ($1 * INTERVAL '1 second')
	`
	res, err := s.db.ExecContext(ctx, query, lease.Seconds())
	if err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}
	return res.RowsAffected()
}

// LatestRepostTime returns the most recent successful repost timestamp, or
// nil when nothing has been reposted yet.
func (s *Store) LatestRepostTime(ctx context.Context) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT reposted_at FROM posts
		WHERE reposted_at IS NOT NULL
		ORDER BY reposted_at DESC
		LIMIT 1
	`).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &at, nil
}
