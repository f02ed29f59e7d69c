package atproto

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"thoughtstream/cmd/internal/storage"
)

const (
	// SessionKey is the storage key holding the persisted session.
	SessionKey = "thoughtstream_session"

	// DefaultService is the entryway used for login when no PDS is configured.
	DefaultService = "https://bsky.social"

	// expirySkew treats tokens about to expire as already expired.
	expirySkew = 30 * time.Second
)

// Session is an authenticated account. It is treated as immutable; refresh replaces it.
type Session struct {
	DID        string `json:"did"`
	Handle     string `json:"handle"`
	PDS        string `json:"pds"`
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
}

// Expired reports whether the access token's exp claim is at or before now (plus a small skew).
// The token is only inspected, never verified: the PDS is the authority.
// Tokens that do not parse, or carry no exp, are reported as not expired and left to the server.
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.AccessJwt == "" {
		return true
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessJwt, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !claims.ExpiresAt.Time.After(now.Add(expirySkew))
}

// SessionsOptions configures Sessions.
type SessionsOptions struct {
	// Service is the host used for createSession (DefaultService when empty).
	Service    string
	HTTPClient *http.Client
	Key        string
	Now        func() time.Time
}

// Sessions owns the current session and its persistence.
type Sessions struct {
	log     *slog.Logger
	blobs   storage.Blobs
	key     string
	service string
	xrpc    *xrpcClient
	now     func() time.Time

	mu      sync.RWMutex
	current *Session

	// refreshMu serializes token refreshes.
	refreshMu sync.Mutex
}

// NewSessions constructs Sessions. Call Load to restore a persisted session.
func NewSessions(log *slog.Logger, blobs storage.Blobs, opts SessionsOptions) *Sessions {
	if log == nil {
		log = slog.Default()
	}
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.Key == "" {
		opts.Key = SessionKey
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sessions{
		log:     log,
		blobs:   blobs,
		key:     opts.Key,
		service: strings.TrimRight(opts.Service, "/"),
		xrpc:    newXRPCClient(opts.HTTPClient),
		now:     opts.Now,
	}
}

// Current returns the signed-in session or nil.
func (s *Sessions) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// IsLoggedIn reports whether a session is present.
func (s *Sessions) IsLoggedIn() bool { return s.Current() != nil }

// Load restores the persisted session. A missing session is not an error; a corrupt one is
// discarded and logged.
func (s *Sessions) Load(ctx context.Context) error {
	if s.blobs == nil {
		return nil
	}
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || sess.DID == "" {
		s.log.Warn("session.load.corrupt", "key", s.key, "err", err)
		return nil
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	s.log.Info("session.load", "did", sess.DID, "handle", sess.Handle)
	return nil
}

type createSessionInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type sessionOutput struct {
	DID        string          `json:"did"`
	Handle     string          `json:"handle"`
	AccessJwt  string          `json:"accessJwt"`
	RefreshJwt string          `json:"refreshJwt"`
	DIDDoc     json.RawMessage `json:"didDoc,omitempty"`
}

// Login creates a session with an app password and persists it.
func (s *Sessions) Login(ctx context.Context, identifier, password string) (*Session, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, fmt.Errorf("login: %w: identifier and app password are required", ErrInvalidInput)
	}

	var out sessionOutput
	in := createSessionInput{Identifier: identifier, Password: password}
	if err := s.xrpc.procedure(ctx, s.service, nsidCreateSession, "", in, &out); err != nil {
		s.log.Warn("session.login.fail", "identifier", identifier, "err", err)
		return nil, fmt.Errorf("login: %w", err)
	}
	if out.DID == "" || out.AccessJwt == "" {
		return nil, fmt.Errorf("login: %s returned an incomplete session", nsidCreateSession)
	}

	sess := &Session{
		DID:        out.DID,
		Handle:     out.Handle,
		PDS:        pdsEndpoint(out.DIDDoc, s.service),
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
	}
	if err := s.set(ctx, sess); err != nil {
		return nil, err
	}
	s.log.Info("session.login", "did", sess.DID, "handle", sess.Handle, "pds", sess.PDS)
	return sess, nil
}

// Logout forgets the session locally.
func (s *Sessions) Logout(ctx context.Context) error {
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.mu.Unlock()

	if s.blobs != nil {
		if err := s.blobs.Delete(ctx, s.key); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	if prev != nil {
		s.log.Info("session.logout", "did", prev.DID)
	}
	return nil
}

// Fresh returns the current session, refreshing it first when its access token has expired.
func (s *Sessions) Fresh(ctx context.Context) (*Session, error) {
	sess := s.Current()
	if sess == nil {
		return nil, ErrNotAuthenticated
	}
	if !sess.Expired(s.now()) {
		return sess, nil
	}
	return s.Refresh(ctx, sess)
}

// Refresh exchanges stale's refresh token for new tokens. When another caller already replaced
// stale, the newer session is returned without a second refresh.
func (s *Sessions) Refresh(ctx context.Context, stale *Session) (*Session, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	cur := s.Current()
	if cur == nil {
		return nil, ErrNotAuthenticated
	}
	if stale != nil && cur.AccessJwt != stale.AccessJwt {
		return cur, nil
	}
	if cur.RefreshJwt == "" {
		return nil, fmt.Errorf("refresh: %w: no refresh token", ErrNotAuthenticated)
	}

	var out sessionOutput
	if err := s.xrpc.procedure(ctx, cur.PDS, nsidRefreshSession, cur.RefreshJwt, nil, &out); err != nil {
		s.log.Warn("session.refresh.fail", "did", cur.DID, "err", err)
		return nil, fmt.Errorf("refresh: %w", err)
	}

	next := &Session{
		DID:        cur.DID,
		Handle:     cur.Handle,
		PDS:        pdsEndpoint(out.DIDDoc, cur.PDS),
		AccessJwt:  out.AccessJwt,
		RefreshJwt: out.RefreshJwt,
	}
	if out.Handle != "" {
		next.Handle = out.Handle
	}
	if err := s.set(ctx, next); err != nil {
		return nil, err
	}
	s.log.Info("session.refresh", "did", next.DID)
	return next, nil
}

func (s *Sessions) set(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	s.current = sess
	s.mu.Unlock()

	if s.blobs == nil {
		return nil
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

type didDocument struct {
	Service []struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		ServiceEndpoint string `json:"serviceEndpoint"`
	} `json:"service"`
}

// pdsEndpoint extracts the #atproto_pds service endpoint from a DID document,
// returning fallback when there is none.
func pdsEndpoint(doc json.RawMessage, fallback string) string {
	if len(doc) == 0 {
		return fallback
	}
	var d didDocument
	if err := json.Unmarshal(doc, &d); err != nil {
		return fallback
	}
	for _, svc := range d.Service {
		if strings.HasSuffix(svc.ID, "#atproto_pds") && svc.ServiceEndpoint != "" {
			return strings.TrimRight(svc.ServiceEndpoint, "/")
		}
	}
	return fallback
}
