package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultAPIBase   = "https://api.telegram.org"
	defaultRetryBase = time.Second
	maxRetryAfter    = 30 * time.Second
)

// SendError is a failed Bot API call. Status is zero when no response arrived.
type SendError struct {
	Method      string
	Status      int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *SendError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram %s: status %d: %s", e.Method, e.Status, e.Description)
	default:
		return fmt.Sprintf("telegram %s: status %d", e.Method, e.Status)
	}
}

func (e *SendError) Unwrap() error { return e.Err }

// Temporary reports whether repeating the call may succeed.
// Rejections such as a bad token or an unknown chat are permanent.
func (e *SendError) Temporary() bool {
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// apiReply is the envelope of every Bot API response.
type apiReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// TelegramNotifier talks to one chat through the Telegram Bot API.
type TelegramNotifier struct {
	BotToken string
	ChatID   string
	APIBase  string
	Client   *http.Client

	retryBase time.Duration
}

// NewTelegramNotifier creates a notifier. proxyURL may be empty.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		} else {
			log.Printf("[WARN] ignoring telegram proxy %q: %v", proxyURL, err)
		}
	}
	return &TelegramNotifier{
		BotToken:  botToken,
		ChatID:    chatID,
		APIBase:   defaultAPIBase,
		Client:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		retryBase: defaultRetryBase,
	}
}

// Enabled reports whether both a bot token and a chat are configured.
func (t *TelegramNotifier) Enabled() bool {
	return t != nil && t.BotToken != "" && t.ChatID != ""
}

func (t *TelegramNotifier) endpoint(method string) string {
	base := t.APIBase
	if base == "" {
		base = defaultAPIBase
	}
	return fmt.Sprintf("%s/bot%s/%s", base, t.BotToken, method)
}

// Send posts an HTML message to the configured chat. Failures are *SendError.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	const method = "sendMessage"
	body, err := json.Marshal(map[string]string{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return &SendError{Method: method, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(method), bytes.NewReader(body))
	if err != nil {
		return &SendError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return &SendError{Method: method, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	serr := &SendError{Method: method, Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var reply apiReply
	if json.Unmarshal(raw, &reply) == nil {
		serr.Description = reply.Description
		serr.RetryAfter = time.Duration(reply.Parameters.RetryAfter) * time.Second
	} else if len(raw) > 0 {
		serr.Description = string(raw)
	}
	return serr
}

// SendWithRetry sends text, retrying temporary failures with exponential
// backoff. A flood-control retry_after from the API replaces the backoff.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	base := t.retryBase
	if base <= 0 {
		base = defaultRetryBase
	}

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = t.Send(ctx, text); err == nil {
			return nil
		}
		var serr *SendError
		if errors.As(err, &serr) && !serr.Temporary() {
			return err
		}
		if attempt == maxRetries {
			break
		}

		wait := base << uint(attempt)
		if serr != nil && serr.RetryAfter > 0 {
			wait = min(serr.RetryAfter, maxRetryAfter)
		}
		log.Printf("[WARN] telegram send failed (attempt %d/%d): %v, retrying in %v", attempt+1, maxRetries+1, err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxRetries+1, err)
}
