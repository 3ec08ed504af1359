// Package nats maps the stream.Log contract onto NATS JetStream: one stream
// per event-type log, one durable consumer per service group, explicit acks,
// and MaxMsgs-based trimming.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

// Config controls the JetStream connection and stream retention.
type Config struct {
	URL           string
	Name          string
	ConnTimeout   time.Duration
	MaxReconnects int

	// MaxMsgs caps each stream to an approximate maximum length with
	// oldest-first eviction. JetStream enforces retention as stream
	// configuration, so the cap is fixed at stream creation; the per-append
	// maxLen hint from the contract is ignored here.
	MaxMsgs int64
}

// Log is a JetStream-backed implementation of stream.Log.
type Log struct {
	js      nats.JetStreamContext
	maxMsgs int64

	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	pending map[string]*nats.Msg
}

var _ stream.Log = (*Log)(nil)

// NewWithNATS dials the server, opens a JetStream context, and returns the
// Log with a cleanup function.
func NewWithNATS(cfg Config) (*Log, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrAppendFailed)
	}

	opts := []nats.Option{}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrAppendFailed, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()

		return nil, nil, fmt.Errorf("%w: jetstream context: %w", berr.ErrAppendFailed, err)
	}

	l := &Log{
		js:      js,
		maxMsgs: cfg.MaxMsgs,
		subs:    make(map[string]*nats.Subscription),
		pending: make(map[string]*nats.Msg),
	}

	cleanup := func() {
		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return l, cleanup, nil
}

// sanitize maps log/group names onto JetStream's allowed name characters
// ("events:lead.created" -> "events_lead_created").
func sanitize(name string) string {
	r := strings.NewReplacer(":", "_", ".", "_", "*", "_", ">", "_", " ", "_")

	return r.Replace(name)
}

func subjectFor(logName string) string { return "tenantbus." + sanitize(logName) }

// EnsureGroup creates the stream and durable consumer. An existing consumer
// reports ErrGroupExists so callers can swallow the creation race.
func (l *Log) EnsureGroup(_ context.Context, logName, group string) error {
	sName, dName := sanitize(logName), sanitize(group)

	if _, err := l.js.StreamInfo(sName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("stream info %s: %w", logName, err)
		}

		_, err = l.js.AddStream(&nats.StreamConfig{
			Name:     sName,
			Subjects: []string{subjectFor(logName)},
			MaxMsgs:  l.maxMsgs,
			Discard:  nats.DiscardOld,
		})
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("add stream %s: %w", logName, err)
		}
	}

	if _, err := l.js.ConsumerInfo(sName, dName); err == nil {
		return fmt.Errorf("group %s on %s: %w", group, logName, berr.ErrGroupExists)
	}

	_, err := l.js.AddConsumer(sName, &nats.ConsumerConfig{
		Durable:       dName,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("add consumer %s on %s: %w", group, logName, err)
	}

	return nil
}

// Append publishes the entry to the log's subject. The returned ID is the
// stream sequence. Trimming is enforced by the stream's MaxMsgs config, not
// per append.
func (l *Log) Append(ctx context.Context, logName string, data []byte, _ int64) (string, error) {
	ack, err := l.js.Publish(subjectFor(logName), data, nats.Context(ctx))
	if err != nil {
		return "", fmt.Errorf("jetstream publish %s: %w", logName, errors.Join(berr.ErrAppendFailed, err))
	}

	return fmt.Sprintf("%d", ack.Sequence), nil
}

func (l *Log) subscription(logName, group string) (*nats.Subscription, error) {
	key := sanitize(logName) + "|" + sanitize(group)

	l.mu.Lock()
	defer l.mu.Unlock()

	if sub, ok := l.subs[key]; ok {
		return sub, nil
	}

	sub, err := l.js.PullSubscribe("", "", nats.Bind(sanitize(logName), sanitize(group)))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s/%s: %w", logName, group, err)
	}

	l.subs[key] = sub

	return sub, nil
}

// ReadGroup fetches up to count messages, waiting at most block. A timeout
// with no messages is not an error.
func (l *Log) ReadGroup(
	ctx context.Context,
	logName, group, _ string,
	count int64,
	block time.Duration,
) ([]stream.Entry, error) {
	sub, err := l.subscription(logName, group)
	if err != nil {
		return nil, err
	}

	msgs, err := sub.Fetch(int(count), nats.MaxWait(block))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}

		return nil, fmt.Errorf("fetch %s/%s: %w", logName, group, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]stream.Entry, 0, len(msgs))

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, m := range msgs {
		meta, merr := m.Metadata()
		if merr != nil {
			continue
		}

		id := fmt.Sprintf("%d", meta.Sequence.Stream)
		entries = append(entries, stream.Entry{ID: id, Data: m.Data})
		l.pending[pendingKey(logName, group, id)] = m
	}

	return entries, nil
}

// Ack acknowledges previously fetched messages by stream sequence.
func (l *Log) Ack(_ context.Context, logName, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error

	for _, id := range ids {
		key := pendingKey(logName, group, id)

		m, ok := l.pending[key]
		if !ok {
			continue
		}

		if err := m.Ack(); err != nil {
			errs = append(errs, fmt.Errorf("ack %s on %s: %w", id, logName, err))

			continue
		}

		delete(l.pending, key)
	}

	return errors.Join(errs...)
}

// Info reports stream length and consumer count. A missing stream yields a
// zero Info.
func (l *Log) Info(_ context.Context, logName string) (stream.Info, error) {
	si, err := l.js.StreamInfo(sanitize(logName))
	if err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			return stream.Info{}, nil
		}

		return stream.Info{}, fmt.Errorf("stream info %s: %w", logName, err)
	}

	return stream.Info{
		Name:         logName,
		Length:       int64(si.State.Msgs),
		GroupCount:   si.State.Consumers,
		FirstEntryID: fmt.Sprintf("%d", si.State.FirstSeq),
		LastEntryID:  fmt.Sprintf("%d", si.State.LastSeq),
	}, nil
}

// Pending lists messages fetched by this process and not yet acknowledged.
// Entries held by other instances of the group are not visible here; the
// group-wide count is available via the consumer info on the server.
func (l *Log) Pending(_ context.Context, logName, group string) ([]stream.PendingEntry, error) {
	prefix := pendingKey(logName, group, "")

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []stream.PendingEntry

	for key, m := range l.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		meta, err := m.Metadata()
		if err != nil {
			continue
		}

		out = append(out, stream.PendingEntry{
			ID:        fmt.Sprintf("%d", meta.Sequence.Stream),
			Consumer:  meta.Consumer,
			Delivered: meta.Timestamp,
			Retries:   int(meta.NumDelivered),
		})
	}

	return out, nil
}

func pendingKey(logName, group, id string) string {
	return sanitize(logName) + "|" + sanitize(group) + "|" + id
}
