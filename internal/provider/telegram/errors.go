package telegram

import (
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sentinel errors for the two Bot API failures that must not be retried.
// Everything else coming back from the platform is treated as transient.
var (
	// ErrPermission means the bot lacks read visibility on the source
	// channel or posting rights on the target. Operator attention needed.
	ErrPermission = errors.New("telegram: permission denied")

	// ErrNotFound means the source message vanished before it could be
	// copied.
	ErrNotFound = errors.New("telegram: message not found")
)

// IsPermission reports whether err is a fatal permission/configuration error.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsNotFound reports whether err is a vanished-source-message error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether err is worth retrying: network trouble, rate
// limits and server-side errors. Permission and not-found errors are final.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsPermission(err) || IsNotFound(err) {
		return false
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	msg := strings.ToLower(err.Error())
	retrySignals := []string{
		"timeout",
		"temporar",
		"too many requests",
		"connection reset",
		"connection refused",
		"service unavailable",
		"bad gateway",
		"eof",
	}
	for _, signal := range retrySignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	// Unknown transport errors default to retryable; a repeated failure is
	// bounded by the retry policy anyway.
	return true
}

// classify maps a raw Bot API error onto the sentinel taxonomy, keeping the
// platform description in the message.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 401 || apiErr.Code == 403:
			return wrap(ErrPermission, apiErr.Message)
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "not found"):
			return wrap(ErrNotFound, apiErr.Message)
		}
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "forbidden"):
		return wrap(ErrPermission, err.Error())
	case strings.Contains(msg, "message to copy not found"):
		return wrap(ErrNotFound, err.Error())
	}
	return err
}

func wrap(sentinel error, detail string) error {
	if detail == "" {
		return sentinel
	}
	return errors.Join(sentinel, errors.New(detail))
}
