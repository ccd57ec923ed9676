package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"herald/internal/store"
	"herald/pkg/clients"
	"herald/pkg/logging"
)

// previewLength bounds the stored content preview. Longer texts are kept
// in full on the platform; the preview only exists for operator inspection.
const previewLength = 500

// Config describes the channels the client reads from and posts to, plus
// the date window of eligible posts and the retry budget for writes.
type Config struct {
	Token string

	// SourceChannel is either "@username" (or bare username) or a numeric
	// chat ID as a string.
	SourceChannel string

	// TargetChatID is the numeric chat ID reposts are copied into.
	TargetChatID int64

	// WindowStart and WindowEnd bound eligible posts by calendar day,
	// inclusive on both ends, evaluated in Location.
	WindowStart time.Time
	WindowEnd   time.Time
	Location    *time.Location

	MaxRetries int
	RetryDelay time.Duration

	// APIEndpoint overrides the Bot API endpoint, used by tests.
	APIEndpoint string
}

// Client talks to the Telegram Bot API: it pulls channel posts from the
// update stream and copies stored posts into the target chat.
type Client struct {
	bot    *tgbotapi.BotAPI
	cfg    Config
	logger logging.Logger
	retry  retrypolicy.RetryPolicy[any]

	// Exactly one of these is set, depending on how SourceChannel parses.
	sourceChatID   int64
	sourceUsername string
}

// NewClient connects to the Bot API and validates the token with a getMe
// call before returning.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.APIEndpoint == "" {
		cfg.APIEndpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, cfg.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", classify(err))
	}

	c := &Client{
		bot:    bot,
		cfg:    cfg,
		logger: logger,
		retry: clients.NewRetryPolicy(clients.RetryConfig{
			Name:        "telegram_api",
			MaxRetries:  cfg.MaxRetries,
			Delay:       cfg.RetryDelay,
			ShouldRetry: IsRetryable,
			Logger:      logger,
		}),
	}

	source := strings.TrimPrefix(strings.TrimSpace(cfg.SourceChannel), "@")
	if id, err := strconv.ParseInt(source, 10, 64); err == nil {
		c.sourceChatID = id
	} else {
		c.sourceUsername = strings.ToLower(source)
	}

	logger.WithFields(logging.Fields{
		"bot":    bot.Self.UserName,
		"source": cfg.SourceChannel,
		"target": cfg.TargetChatID,
	}).Info("Telegram client connected")
	return c, nil
}

// Probe verifies Bot API reachability and token validity.
func (c *Client) Probe(ctx context.Context) error {
	err := clients.Run(ctx, c.retry, func() error {
		_, err := c.bot.GetMe()
		return err
	})
	return classify(err)
}

// SyncChannelPosts drains the update stream starting after the given cursor
// and returns the in-window source-channel posts plus the new cursor. The
// cursor advances over every update observed, including ones filtered out,
// so filtered updates are never refetched.
func (c *Client) SyncChannelPosts(ctx context.Context, since int64) ([]store.Post, int64, error) {
	cursor := since
	var posts []store.Post

	// The Bot API returns at most 100 updates per call; loop until the
	// stream is drained.
	for {
		if err := ctx.Err(); err != nil {
			return posts, cursor, err
		}

		req := tgbotapi.NewUpdate(0)
		if cursor > 0 {
			req.Offset = int(cursor) + 1
		}
		req.Limit = 100
		req.AllowedUpdates = []string{"channel_post"}

		var updates []tgbotapi.Update
		err := clients.Run(ctx, c.retry, func() error {
			var callErr error
			updates, callErr = c.bot.GetUpdates(req)
			return callErr
		})
		if err != nil {
			return posts, cursor, fmt.Errorf("get updates: %w", classify(err))
		}
		if len(updates) == 0 {
			return posts, cursor, nil
		}

		for _, upd := range updates {
			if int64(upd.UpdateID) > cursor {
				cursor = int64(upd.UpdateID)
			}
			msg := upd.ChannelPost
			if msg == nil || msg.Chat == nil {
				continue
			}
			if !c.matchesSource(msg.Chat) {
				continue
			}
			postedAt := time.Unix(int64(msg.Date), 0).In(c.cfg.Location)
			if !c.inWindow(postedAt) {
				c.logger.WithFields(logging.Fields{
					"message_id": msg.MessageID,
					"post_date":  postedAt.Format("2006-01-02"),
				}).Debug("Skipping post outside date window")
				continue
			}
			posts = append(posts, store.Post{
				MessageID:      int64(msg.MessageID),
				ChannelID:      msg.Chat.ID,
				PostDate:       postedAt,
				ContentPreview: preview(msg),
			})
		}
	}
}

// CopyPost copies a stored source post into the target chat via the Bot
// API copyMessage primitive, retrying transient failures with a fixed
// delay. The copy carries no forward header.
func (c *Client) CopyPost(ctx context.Context, post store.Post) error {
	copyCfg := tgbotapi.NewCopyMessage(c.cfg.TargetChatID, post.ChannelID, int(post.MessageID))

	err := clients.Run(ctx, c.retry, func() error {
		_, callErr := c.bot.CopyMessage(copyCfg)
		return classify(callErr)
	})
	if err != nil {
		return fmt.Errorf("copy message %d: %w", post.MessageID, err)
	}
	return nil
}

func (c *Client) matchesSource(chat *tgbotapi.Chat) bool {
	if c.sourceChatID != 0 {
		return chat.ID == c.sourceChatID
	}
	return strings.ToLower(chat.UserName) == c.sourceUsername
}

// inWindow compares by calendar day in the configured timezone, inclusive
// on both bounds.
func (c *Client) inWindow(t time.Time) bool {
	day := dayOf(t, c.cfg.Location)
	start := dayOf(c.cfg.WindowStart, c.cfg.Location)
	end := dayOf(c.cfg.WindowEnd, c.cfg.Location)
	return !day.Before(start) && !day.After(end)
}

func dayOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func preview(msg *tgbotapi.Message) string {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return text
}
