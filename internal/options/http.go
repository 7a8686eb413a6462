package options

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/matthewbaird/pgform/internal/schema"
)

// HTTPProvider fetches option lists from an HTTP endpoint. Transient
// failures are retried a bounded number of times; client errors are not.
type HTTPProvider struct {
	base     string
	client   *http.Client
	attempts uint64
	log      *logrus.Entry
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) HTTPOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithRetries sets how many times a failed fetch is retried.
func WithRetries(n uint64) HTTPOption {
	return func(p *HTTPProvider) { p.attempts = n }
}

// NewHTTPProvider returns a provider resolving URLs against base.
func NewHTTPProvider(base string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		base:     strings.TrimRight(base, "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 2,
		log:      logrus.WithField("component", "options"),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, rawURL string, params map[string]string) ([]schema.Option, error) {
	target := rawURL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		target = p.base + "/" + strings.TrimLeft(rawURL, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("options: bad url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	var out []schema.Option
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, rawURL))
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return backoff.Permanent(fmt.Errorf("options: %s: status %d", rawURL, resp.StatusCode))
		case resp.StatusCode >= 500:
			return fmt.Errorf("options: %s: status %d", rawURL, resp.StatusCode)
		}
		var body json.RawMessage
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return backoff.Permanent(fmt.Errorf("options: %s: decode: %w", rawURL, err))
		}
		out, err = Decode(body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("options: %s: %w", rawURL, err))
		}
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.attempts), ctx)
	notify := func(err error, wait time.Duration) {
		p.log.WithError(err).WithField("url", rawURL).Debugf("retrying in %s", wait)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode reads an option list. It accepts a bare array or an object with
// a "data" array. Rows without label or value fall back to "name".
func Decode(body []byte) ([]schema.Option, error) {
	var rows []map[string]any
	if err := json.Unmarshal(body, &rows); err != nil {
		var wrapped struct {
			Data []map[string]any `json:"data"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, fmt.Errorf("unexpected options payload: %w", err)
		}
		rows = wrapped.Data
	}
	out := make([]schema.Option, 0, len(rows))
	for _, r := range rows {
		opt := schema.Option{Value: r["value"]}
		if opt.Value == nil {
			opt.Value = r["name"]
		}
		if l, ok := r["label"].(string); ok {
			opt.Label = l
		} else if n, ok := r["name"].(string); ok {
			opt.Label = n
		} else {
			opt.Label = fmt.Sprint(opt.Value)
		}
		opt.Disabled, _ = r["disabled"].(bool)
		opt.Image, _ = r["image"].(string)
		out = append(out, opt)
	}
	return out, nil
}
