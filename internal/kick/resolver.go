package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultAPIBase is the Kick v2 API root
const DefaultAPIBase = "https://kick.com/api/v2"

// ChannelResponse is the part of the Kick channel API response we use
type ChannelResponse struct {
	ID       int    `json:"id"`
	Slug     string `json:"slug"`
	Chatroom struct {
		ID int `json:"id"`
	} `json:"chatroom"`
}

// Resolver maps channel slugs to chatroom IDs through the Kick API
type Resolver struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewResolver creates a resolver against the public API
func NewResolver() *Resolver {
	return &Resolver{
		BaseURL:    DefaultAPIBase,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve returns the chatroom ID and canonical slug for a channel
func (r *Resolver) Resolve(ctx context.Context, slug string) (int, string, error) {
	base := r.BaseURL
	if base == "" {
		base = DefaultAPIBase
	}
	client := r.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	endpoint := strings.TrimRight(base, "/") + "/channels/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}

	// Kick sits behind Cloudflare, which rejects requests that do not look like a browser
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("request channel %q: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, "", fmt.Errorf("channel %q: API returned status %d: %s", slug, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info ChannelResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return 0, "", fmt.Errorf("decode channel %q: %w", slug, err)
	}
	if info.Chatroom.ID == 0 {
		return 0, "", fmt.Errorf("channel %q has no chatroom", slug)
	}
	if info.Slug == "" {
		info.Slug = slug
	}
	return info.Chatroom.ID, info.Slug, nil
}
