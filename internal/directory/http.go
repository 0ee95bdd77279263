package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/livecast/internal/models"
)

// HTTP reaches the directory through the signaling server's /api/live
// routes. Writes need a token; the server takes the identity from it.
type HTTP struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTP returns a client for the server at baseURL (http or ws scheme).
func NewHTTP(baseURL, token string) *HTTP {
	return &HTTP{
		BaseURL: HTTPBase(baseURL),
		Token:   token,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// HTTPBase maps a ws:// or wss:// server URL onto its http(s) equivalent.
func HTTPBase(raw string) string {
	raw = strings.TrimRight(raw, "/")
	switch {
	case strings.HasPrefix(raw, "ws://"):
		return "http://" + strings.TrimPrefix(raw, "ws://")
	case strings.HasPrefix(raw, "wss://"):
		return "https://" + strings.TrimPrefix(raw, "wss://")
	}
	return raw
}

func (d *HTTP) ListLive(ctx context.Context, excluding string) ([]models.DirectoryEntry, error) {
	endpoint := d.BaseURL + "/api/live"
	if excluding != "" {
		endpoint += "?exclude=" + url.QueryEscape(excluding)
	}

	var out models.LiveListResponse
	if err := d.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, fmt.Errorf("list live: %w", err)
	}
	return out.Entries, nil
}

func (d *HTTP) SetLive(ctx context.Context, id string, live bool, startedAt time.Time) error {
	if id == "" {
		return ErrNoIdentity
	}
	if err := d.do(ctx, http.MethodPost, d.BaseURL+"/api/live", models.SetLiveRequest{Live: &live}, nil); err != nil {
		return fmt.Errorf("set live %s: %w", id, err)
	}
	return nil
}

func (d *HTTP) do(ctx context.Context, method, endpoint string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", method, endpoint, resp.StatusCode, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
