package persist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPProvider posts saves as JSON to an endpoint answering with a Result.
// Saves are never retried.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider returns a provider posting to url. A nil client gets a
// default one with a timeout.
func NewHTTPProvider(url string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPProvider{url: url, client: client}
}

// Save implements Provider.
func (p *HTTPProvider) Save(ctx context.Context, req Request) (Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("persist: encode: %w", err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(hreq)
	if err != nil {
		return Result{}, fmt.Errorf("persist: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, fmt.Errorf("persist: read response: %w", err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		if resp.StatusCode >= 300 {
			return Result{}, fmt.Errorf("persist: status %d", resp.StatusCode)
		}
		return Result{}, fmt.Errorf("persist: decode response: %w", err)
	}
	if resp.StatusCode >= 300 && res.Success {
		return Result{}, fmt.Errorf("persist: status %d", resp.StatusCode)
	}
	if !res.Success && res.ErrorMsg == "" {
		res.ErrorMsg = fmt.Sprintf("save failed with status %d", resp.StatusCode)
	}
	return res, nil
}
