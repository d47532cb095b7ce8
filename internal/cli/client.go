package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"landlord/internal/auth"
	"landlord/internal/syncq"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Offline reports whether err looks like the API being unreachable rather
// than a response it returned. Commands that fail offline can be queued.
func Offline(err error) bool {
	var uerr *url.Error
	return errors.As(err, &uerr)
}

func (c *Client) Signup(ctx context.Context, email, password, handle string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"handle":   handle,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Clock(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/clock", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) ListProperties(ctx context.Context, accessToken string, all bool) (map[string]any, error) {
	path := "/v1/properties"
	if all {
		path = "/v1/properties?all=1"
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PropertyDetail(ctx context.Context, accessToken string, propertyID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/properties/%d", propertyID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Invest(ctx context.Context, accessToken string, propertyID, units int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/properties/%d/invest", propertyID), accessToken, map[string]any{
		"units": units,
	}, &out, idem)
	return out, err
}

func (c *Client) Divest(ctx context.Context, accessToken string, propertyID, units int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/properties/%d/divest", propertyID), accessToken, map[string]any{
		"units": units,
	}, &out, idem)
	return out, err
}

func (c *Client) Escrows(ctx context.Context, accessToken string, all bool) (map[string]any, error) {
	path := "/v1/escrows"
	if all {
		path = "/v1/escrows?all=1"
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) EscrowDetail(ctx context.Context, accessToken string, escrowID int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/escrows/%d", escrowID), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CancelEscrow(ctx context.Context, accessToken string, escrowID int64, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, fmt.Sprintf("/v1/escrows/%d/cancel", escrowID), accessToken, map[string]any{}, &out, idem)
	return out, err
}

func (c *Client) Rents(ctx context.Context, accessToken string, limit int) (map[string]any, error) {
	path := "/v1/rents"
	if limit > 0 {
		path = fmt.Sprintf("/v1/rents?limit=%d", limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Ledger(ctx context.Context, accessToken string, limit int) (map[string]any, error) {
	path := "/v1/ledger"
	if limit > 0 {
		path = fmt.Sprintf("/v1/ledger?limit=%d", limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) SyncReplay(ctx context.Context, accessToken string, commands []syncq.Command) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/sync/replay", accessToken, map[string]any{
		"commands": commands,
	}, &out, "")
	return out, err
}

func (c *Client) AdminClock(ctx context.Context, adminToken, action string, timeScale float64) (map[string]any, error) {
	body := map[string]any{"action": action}
	if timeScale > 0 {
		body["time_scale"] = timeScale
	}
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/clock", adminToken, body, &out)
	return out, err
}

func (c *Client) AdminReplenish(ctx context.Context, adminToken string, minListed int) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/pool/replenish", adminToken, map[string]any{
		"min_listed": minListed,
	}, &out)
	return out, err
}

func (c *Client) AdminTick(ctx context.Context, adminToken string) (map[string]any, error) {
	var out map[string]any
	err := c.adminRequest(ctx, http.MethodPost, "/v1/admin/tick", adminToken, map[string]any{}, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	headers := map[string]string{}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	if idem != "" {
		headers["Idempotency-Key"] = idem
	}
	return c.request(ctx, method, path, headers, in, out)
}

func (c *Client) adminRequest(ctx context.Context, method, path, adminToken string, in any, out any) error {
	return c.request(ctx, method, path, map[string]string{"X-Admin-Token": adminToken}, in, out)
}

func (c *Client) request(ctx context.Context, method, path string, headers map[string]string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
