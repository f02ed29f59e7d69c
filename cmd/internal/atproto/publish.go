package atproto

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jetstreamv1 "thoughtstream/shared/contracts/jetstream/v1"
)

// RecordRef identifies a written record.
type RecordRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

type createRecordInput struct {
	Repo       string                 `json:"repo"`
	Collection string                 `json:"collection"`
	Record     jetstreamv1.BlipRecord `json:"record"`
}

// Publisher writes blips to the signed-in account's repository.
type Publisher struct {
	log      *slog.Logger
	sessions *Sessions
	now      func() time.Time
}

// NewPublisher returns a Publisher bound to sessions.
func NewPublisher(log *slog.Logger, sessions *Sessions) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{log: log, sessions: sessions, now: sessions.now}
}

// Publish writes content as a new blip record. Content is trimmed first; empty content is
// rejected with ErrEmptyContent and a missing session with ErrNotAuthenticated.
// The record is not added to the local log: it arrives through the firehose like any other.
func (p *Publisher) Publish(ctx context.Context, content string) (RecordRef, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return RecordRef{}, ErrEmptyContent
	}

	sess, err := p.sessions.Fresh(ctx)
	if err != nil {
		return RecordRef{}, fmt.Errorf("publish: %w", err)
	}

	in := createRecordInput{
		Repo:       sess.DID,
		Collection: jetstreamv1.BlipCollection,
		Record:     jetstreamv1.NewBlipRecord(content, p.now()),
	}

	ref, err := p.create(ctx, sess, in)
	if tokenExpired(err) {
		// The exp claim can lag server-side revocation; refresh once and retry.
		sess, err = p.sessions.Refresh(ctx, sess)
		if err != nil {
			return RecordRef{}, fmt.Errorf("publish: %w", err)
		}
		in.Repo = sess.DID
		ref, err = p.create(ctx, sess, in)
	}
	if err != nil {
		p.log.Warn("publish.fail", "did", sess.DID, "err", err)
		return RecordRef{}, fmt.Errorf("publish: %w", err)
	}

	p.log.Info("publish.ok", "did", sess.DID, "uri", ref.URI)
	return ref, nil
}

func (p *Publisher) create(ctx context.Context, sess *Session, in createRecordInput) (RecordRef, error) {
	var ref RecordRef
	err := p.sessions.xrpc.procedure(ctx, sess.PDS, nsidCreateRecord, sess.AccessJwt, in, &ref)
	return ref, err
}
