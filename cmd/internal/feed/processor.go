package feed

import (
	"context"
	"log/slog"
	"time"

	"thoughtstream/cmd/internal/stream"
	jetstreamv1 "thoughtstream/shared/contracts/jetstream/v1"
)

// Status texts appended as system messages on connection transitions.
const (
	ConnectedText    = "Connected to thought stream"
	DisconnectedText = "Disconnected from stream, reconnecting..."
)

// HandleResolver maps an author DID to a display handle. It never fails: implementations
// return a fallback string when the lookup cannot complete.
type HandleResolver interface {
	Resolve(ctx context.Context, did string) string
}

// Processor is the single consumer of stream events.
//
// HandleFrame must be invoked serially; Run does that for a stream.Client.
type Processor struct {
	log        *slog.Logger
	store      *Store
	resolver   HandleResolver
	collection string
	now        func() time.Time
	metrics    *Metrics
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithCollection overrides the target collection NSID.
func WithCollection(nsid string) ProcessorOption {
	return func(p *Processor) {
		if nsid != "" {
			p.collection = nsid
		}
	}
}

// WithClock overrides time.Now for missing timestamps and system messages.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

// WithProcessorMetrics attaches pipeline metrics.
func WithProcessorMetrics(m *Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor wires the pipeline stages.
func NewProcessor(log *slog.Logger, store *Store, resolver HandleResolver, opts ...ProcessorOption) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		log:        log,
		store:      store,
		resolver:   resolver,
		collection: jetstreamv1.BlipCollection,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// HandleFrame runs one raw frame through the pipeline and reports whether a message was stored.
// Every failure is contained here: the frame is dropped and the reason logged.
func (p *Processor) HandleFrame(ctx context.Context, raw []byte) (stored bool) {
	p.metrics.frame()

	defer func() {
		if r := recover(); r != nil {
			p.metrics.drop(dropPanic)
			p.log.Error("feed.frame.panic", "panic", r, "bytes", len(raw))
			stored = false
		}
	}()

	ev, err := jetstreamv1.Decode(raw)
	if err != nil {
		p.metrics.drop(dropParse)
		p.log.Warn("feed.frame.drop", "reason", dropParse, "err", err, "bytes", len(raw))
		return false
	}

	if ev.Kind != jetstreamv1.KindCommit || ev.Commit == nil {
		p.metrics.drop(dropNotCommit)
		return false
	}
	c := ev.Commit
	if c.Collection != p.collection {
		p.metrics.drop(dropCollection)
		return false
	}
	if c.Operation == jetstreamv1.OperationDelete {
		p.metrics.drop(dropDelete)
		return false
	}
	if c.Record == nil || c.Record.Content == "" {
		p.metrics.drop(dropEmptyContent)
		return false
	}

	handle := p.resolver.Resolve(ctx, ev.DID)
	m := NewRecordMessage(handle, c.Record.Content, p.createdAt(c.Record.CreatedAt))

	if !p.store.Append(ctx, m) {
		p.metrics.drop(dropDuplicate)
		p.log.Debug("feed.frame.duplicate", "did", ev.DID, "rkey", c.RKey)
		return false
	}
	p.log.Debug("feed.message.stored", "handle", handle, "rkey", c.RKey)
	return true
}

// createdAt returns the record timestamp verbatim. The local clock is used only when
// the record has none.
func (p *Processor) createdAt(raw string) string {
	if raw != "" {
		return raw
	}
	return FormatStamp(p.now())
}

// AppendStatus stores a local status message.
func (p *Processor) AppendStatus(ctx context.Context, text string) bool {
	return p.store.Append(ctx, SystemMessage(text, p.now()))
}

// Run consumes events until the channel closes or ctx is done.
func (p *Processor) Run(ctx context.Context, events <-chan stream.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case stream.EventConnected:
				p.AppendStatus(ctx, ConnectedText)
			case stream.EventDisconnected:
				p.AppendStatus(ctx, DisconnectedText)
			case stream.EventFrame:
				p.HandleFrame(ctx, ev.Data)
			}
		}
	}
}
