package atproto

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	nsidCreateSession  = "com.atproto.server.createSession"
	nsidRefreshSession = "com.atproto.server.refreshSession"
	nsidCreateRecord   = "com.atproto.repo.createRecord"

	defaultXRPCTimeout = 15 * time.Second
	maxResponseBytes   = 1 << 20
)

// xrpcClient issues XRPC procedure calls (HTTP POST with JSON bodies).
type xrpcClient struct {
	http *http.Client
}

func newXRPCClient(hc *http.Client) *xrpcClient {
	if hc == nil {
		hc = &http.Client{Timeout: defaultXRPCTimeout}
	}
	return &xrpcClient{http: hc}
}

// procedure POSTs in (may be nil) to {host}/xrpc/{nsid} and decodes the response into out
// (may be nil). bearer is sent as the Authorization token when non-empty.
func (c *xrpcClient) procedure(ctx context.Context, host, nsid, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", nsid, err)
		}
		body = bytes.NewReader(b)
	}

	u := strings.TrimRight(host, "/") + "/xrpc/" + nsid
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", nsid, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read: %w", nsid, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		xe := &XRPCError{NSID: nsid, Status: resp.StatusCode}
		_ = json.Unmarshal(raw, xe)
		return xe
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w", nsid, err)
	}
	return nil
}
