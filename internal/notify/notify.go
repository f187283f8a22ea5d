// Package notify posts run summaries to an HTTP endpoint.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

const (
	retryAttempts = 3
	retryBase     = 500 * time.Millisecond
	retryCap      = 10 * time.Second
)

// Sender delivers JSON payloads to a fixed URL.
type Sender struct {
	URL    string
	Client *http.Client
	Log    *zap.SugaredLogger
	// sleep is replaced in tests.
	sleep func(context.Context, time.Duration)
}

// New validates rawURL and returns a Sender for it.
func New(rawURL string, log *zap.SugaredLogger) (*Sender, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Sender{
		URL:    rawURL,
		Client: &http.Client{Timeout: 30 * time.Second},
		Log:    log,
		sleep:  sleepCtx,
	}, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.Newf("unsupported scheme: %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.Newf("missing host in %q", rawURL)
	}
	return nil
}

// Send marshals v and POSTs it, retrying with full-jitter backoff on failure.
// It blocks until delivery succeeds, the attempts run out or ctx is done.
func (s *Sender) Send(ctx context.Context, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode notification")
	}

	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = s.post(ctx, payload)
		if lastErr == nil {
			return nil
		}
		s.Log.Warnw("Notification attempt failed", "attempt", attempt, "url", s.URL, "error", lastErr)
		if attempt < retryAttempts {
			s.sleep(ctx, jitter(attempt))
		}
	}
	return errors.Wrapf(lastErr, "notify %s: %d attempts failed", s.URL, retryAttempts)
}

// jitter returns a random duration between 0 and min(retryCap, retryBase * 2^attempt).
func jitter(attempt int) time.Duration {
	exp := retryBase * (1 << attempt)
	if exp > retryCap {
		exp = retryCap
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Sender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
