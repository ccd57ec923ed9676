package logic

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"herald/internal/provider/telegram"
	"herald/internal/store"
	"herald/pkg/logging"
)

// Repository is the slice of the post store the cycle needs.
type Repository interface {
	UpsertPosts(ctx context.Context, posts []store.Post) (int, error)
	LoadCursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, cursor int64) error
	ListUnpublished(ctx context.Context) ([]store.Post, error)
	CountUnpublished(ctx context.Context) (int, error)
	Claim(ctx context.Context, messageID, channelID int64, lease time.Duration) (bool, error)
	MarkReposted(ctx context.Context, messageID, channelID int64, at time.Time) error
	ReleaseClaim(ctx context.Context, messageID, channelID int64) error
	LatestRepostTime(ctx context.Context) (*time.Time, error)
	Ping(ctx context.Context) error
}

// Platform is the slice of the messaging platform client the cycle needs.
type Platform interface {
	SyncChannelPosts(ctx context.Context, since int64) ([]store.Post, int64, error)
	CopyPost(ctx context.Context, post store.Post) error
	Probe(ctx context.Context) error
}

// Outcome statuses for one trigger cycle.
const (
	StatusReposted    = "reposted"
	StatusNothingToDo = "nothing_to_do"
	StatusFailed      = "failed"
)

// PostRef identifies the post a cycle acted on. RepostedAt is set only on a
// successful repost, with the same timestamp the store recorded.
type PostRef struct {
	MessageID  int64      `json:"message_id"`
	ChannelID  int64      `json:"channel_id"`
	RepostedAt *time.Time `json:"reposted_at,omitempty"`
}

// Outcome describes what one trigger cycle did.
type Outcome struct {
	Status string   `json:"status"`
	Post   *PostRef `json:"post,omitempty"`
	Synced int      `json:"synced"`
	Reason string   `json:"reason,omitempty"`

	// SyncError carries a sync-pass failure that did not abort the cycle.
	SyncError string `json:"sync_error,omitempty"`
}

// Config tunes the cycle.
type Config struct {
	// ClaimLease is how long a claim blocks other workers before it counts
	// as abandoned.
	ClaimLease time.Duration

	// ClaimAttempts bounds re-selection when another worker wins the claim
	// race. Default: 3.
	ClaimAttempts int

	// Seed fixes the selection sequence; 0 seeds from the clock.
	Seed int64
}

// Cycle runs one sync-then-repost pass per trigger: pull new channel posts
// into the store, advance the cursor, pick a random unpublished post, claim
// it and copy it to the target chat. Safe for concurrent triggers; the
// database claim is the only arbiter.
type Cycle struct {
	repo     Repository
	platform Platform
	logger   logging.Logger
	cfg      Config

	mu  sync.Mutex
	rng *rand.Rand
}

func NewCycle(repo Repository, platform Platform, logger logging.Logger, cfg Config) *Cycle {
	if cfg.ClaimAttempts <= 0 {
		cfg.ClaimAttempts = 3
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = 10 * time.Minute
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Cycle{
		repo:     repo,
		platform: platform,
		logger:   logger,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Run executes one trigger cycle and returns its outcome. A sync failure on
// a transient platform error does not abort the cycle: the pool accumulated
// by earlier passes is still eligible. Permission errors abort, they need
// an operator.
func (c *Cycle) Run(ctx context.Context) Outcome {
	syncError := ""
	synced, err := c.sync(ctx)
	if err != nil {
		syncError = err.Error()
		if telegram.IsPermission(err) {
			c.logger.WithError(err).Error("Sync aborted on permission error")
			return Outcome{Status: StatusFailed, Reason: "permission", Synced: synced, SyncError: syncError}
		}
		c.logger.WithError(err).Warn("Sync failed, continuing with stored pool")
	}

	pool, err := c.repo.ListUnpublished(ctx)
	if err != nil {
		c.logger.WithError(err).Error("Listing unpublished posts failed")
		return Outcome{Status: StatusFailed, Reason: "storage", Synced: synced, SyncError: syncError}
	}
	if len(pool) == 0 {
		c.logger.Info("No unpublished posts available")
		return Outcome{Status: StatusNothingToDo, Synced: synced, SyncError: syncError}
	}

	post, ok, err := c.claimOne(ctx, pool)
	if err != nil {
		return Outcome{Status: StatusFailed, Reason: "storage", Synced: synced, SyncError: syncError}
	}
	if !ok {
		// Every candidate was taken by concurrent triggers.
		return Outcome{Status: StatusNothingToDo, Synced: synced, SyncError: syncError}
	}

	ref := &PostRef{MessageID: post.MessageID, ChannelID: post.ChannelID}

	if err := c.platform.CopyPost(ctx, post); err != nil {
		reason := "transient"
		switch {
		case telegram.IsPermission(err):
			reason = "permission"
		case telegram.IsNotFound(err):
			reason = "not_found"
		}
		c.logger.WithFields(logging.Fields{
			"message_id": post.MessageID,
			"reason":     reason,
		}).WithError(err).Error("Repost failed, releasing claim")
		if relErr := c.repo.ReleaseClaim(ctx, post.MessageID, post.ChannelID); relErr != nil {
			c.logger.WithError(relErr).Error("Releasing claim failed, lease will expire it")
		}
		return Outcome{Status: StatusFailed, Post: ref, Reason: reason, Synced: synced, SyncError: syncError}
	}

	at := time.Now().UTC()
	if err := c.repo.MarkReposted(ctx, post.MessageID, post.ChannelID, at); err != nil {
		// The copy went out; a failed finalize must not trigger a second
		// copy. The claim holds until the lease expires.
		c.logger.WithError(err).Error("Repost sent but finalize failed")
		return Outcome{Status: StatusFailed, Post: ref, Reason: "finalize", Synced: synced, SyncError: syncError}
	}
	ref.RepostedAt = &at

	c.logger.WithFields(logging.Fields{
		"message_id": post.MessageID,
		"channel_id": post.ChannelID,
	}).Info("Post reposted")
	return Outcome{Status: StatusReposted, Post: ref, Synced: synced, SyncError: syncError}
}

// sync pulls new channel posts and persists them, records before cursor, so
// a crash between the two refetches rather than loses.
func (c *Cycle) sync(ctx context.Context) (int, error) {
	cursor, err := c.repo.LoadCursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	posts, newCursor, syncErr := c.platform.SyncChannelPosts(ctx, cursor)
	if syncErr != nil {
		// All-or-nothing pass: a failed fetch persists neither records nor
		// cursor, the next trigger refetches from the same position.
		return 0, fmt.Errorf("fetch updates: %w", syncErr)
	}

	inserted := 0
	if len(posts) > 0 {
		inserted, err = c.repo.UpsertPosts(ctx, posts)
		if err != nil {
			return 0, fmt.Errorf("persist posts: %w", err)
		}
	}
	if newCursor > cursor {
		if err := c.repo.SaveCursor(ctx, newCursor); err != nil {
			return inserted, fmt.Errorf("save cursor: %w", err)
		}
	}

	if inserted > 0 {
		c.logger.WithFields(logging.Fields{
			"new_posts": inserted,
			"cursor":    newCursor,
		}).Info("Synced new channel posts")
	}
	return inserted, nil
}

// claimOne picks randomly from pool and claims; when another trigger wins
// the race it re-selects from the remaining candidates, a bounded number of
// times.
func (c *Cycle) claimOne(ctx context.Context, pool []store.Post) (store.Post, bool, error) {
	for attempt := 0; attempt < c.cfg.ClaimAttempts && len(pool) > 0; attempt++ {
		c.mu.Lock()
		post, ok := PickRandom(c.rng, pool)
		c.mu.Unlock()
		if !ok {
			break
		}

		won, err := c.repo.Claim(ctx, post.MessageID, post.ChannelID, c.cfg.ClaimLease)
		if err != nil {
			c.logger.WithError(err).Error("Claim failed")
			return store.Post{}, false, err
		}
		if won {
			return post, true, nil
		}

		c.logger.WithFields(logging.Fields{
			"message_id": post.MessageID,
			"attempt":    attempt + 1,
		}).Debug("Lost claim race, re-selecting")
		pool = without(pool, post)
	}
	return store.Post{}, false, nil
}

// without returns a fresh slice, leaving the caller's pool untouched.
func without(pool []store.Post, post store.Post) []store.Post {
	out := make([]store.Post, 0, len(pool))
	for _, p := range pool {
		if p.MessageID == post.MessageID && p.ChannelID == post.ChannelID {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Status is the operational snapshot served by the status endpoint.
type Status struct {
	Database     string     `json:"database"`
	Platform     string     `json:"platform"`
	Unpublished  int        `json:"unpublished_posts"`
	Cursor       int64      `json:"cursor"`
	LastRepostAt *time.Time `json:"last_repost_at,omitempty"`
}

// Health gathers the snapshot within a 5 second budget. It reads state only
// and never triggers repost work.
func (c *Cycle) Health(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st := Status{Database: "ok", Platform: "ok"}

	if err := c.repo.Ping(ctx); err != nil {
		// The remaining reads would fail against the same store; skip them
		// and leave the platform explicitly unchecked rather than "ok".
		st.Database = err.Error()
		st.Platform = "unchecked"
		return st
	}
	if count, err := c.repo.CountUnpublished(ctx); err == nil {
		st.Unpublished = count
	}
	if cursor, err := c.repo.LoadCursor(ctx); err == nil {
		st.Cursor = cursor
	}
	if at, err := c.repo.LatestRepostTime(ctx); err == nil {
		st.LastRepostAt = at
	}
	if err := c.platform.Probe(ctx); err != nil {
		st.Platform = err.Error()
	}
	return st
}
