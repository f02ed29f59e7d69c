package identity

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

const (
	// DefaultAppViewURL is the public, unauthenticated AppView used for profile lookups.
	DefaultAppViewURL = "https://public.api.bsky.app"

	getProfilePath = "/xrpc/app.bsky.actor.getProfile"

	defaultLookupTimeout = 10 * time.Second
	maxProfileBytes      = 1 << 20
)

// ProfileClient fetches actor profiles over XRPC.
type ProfileClient struct {
	base string
	http *http.Client
}

// NewProfileClient returns a client for base (DefaultAppViewURL when empty).
// A nil hc gets a client with a 10s timeout.
func NewProfileClient(base string, hc *http.Client) *ProfileClient {
	if base == "" {
		base = DefaultAppViewURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultLookupTimeout}
	}
	return &ProfileClient{base: strings.TrimRight(base, "/"), http: hc}
}

type profileResponse struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

// Lookup returns the handle of did. Every failure wraps ErrLookup.
func (c *ProfileClient) Lookup(ctx context.Context, did string) (string, error) {
	const op = "identity.Lookup"

	if strings.TrimSpace(did) == "" {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "did is required"}
	}

	u := c.base + getProfilePath + "?actor=" + url.QueryEscape(did)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", OpError{Op: op, Kind: ErrLookup, Msg: err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", OpError{Op: op, Kind: ErrLookup, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProfileBytes))
		return "", OpError{Op: op, Kind: ErrLookup, Msg: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var p profileResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&p); err != nil {
		return "", OpError{Op: op, Kind: ErrLookup, Msg: "decode: " + err.Error()}
	}
	if p.Handle == "" {
		return "", OpError{Op: op, Kind: ErrLookup, Msg: "profile has no handle"}
	}
	return p.Handle, nil
}
