// Package kafka maps the stream.Log contract onto Kafka topics and consumer
// groups. The Client interface stays decoupled from any concrete library;
// kgo_client.go provides a franz-go implementation behind the franz build tag.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

// Record is one consumed Kafka record with enough position data to commit it.
type Record struct {
	Partition int32
	Offset    int64
	Value     []byte
	Timestamp time.Time
}

// TopicStats is broker-side introspection for one topic.
type TopicStats struct {
	Exists       bool
	MessageCount int64
}

// Client is a minimal Kafka-like client interface. Users can adapt franz-go
// (see kgo_client.go) or any other client to this.
type Client interface {
	EnsureTopic(ctx context.Context, topic string) error
	Produce(ctx context.Context, topic string, value []byte) (partition int32, offset int64, err error)
	PollGroup(ctx context.Context, group, topic string, max int, wait time.Duration) ([]Record, error)
	CommitRecords(ctx context.Context, group, topic string, recs ...Record) error
	TopicStats(ctx context.Context, topic string) (TopicStats, error)
}

// Log adapts a Client to stream.Log. Entry IDs are "partition-offset".
// Trimming is a broker retention concern in Kafka, so the per-append maxLen
// hint is ignored; group counts reflect the groups this process has opened.
type Log struct {
	client Client

	mu      sync.Mutex
	groups  map[string]map[string]struct{} // topic -> groups seen locally
	pending map[string]Record              // topic|group|id -> record
}

var _ stream.Log = (*Log)(nil)

// New creates a Kafka-backed Log over the provided client.
func New(c Client) *Log {
	return &Log{
		client:  c,
		groups:  make(map[string]map[string]struct{}),
		pending: make(map[string]Record),
	}
}

// topicFor maps a log name onto Kafka's allowed topic characters
// ("events:lead.created" -> "events.lead.created").
func topicFor(logName string) string { return strings.ReplaceAll(logName, ":", ".") }

func groupFor(group string) string { return strings.ReplaceAll(group, ":", ".") }

// EnsureGroup creates the topic; Kafka groups materialize on first poll, so
// the adapter tracks them locally to report the creation race.
func (l *Log) EnsureGroup(ctx context.Context, logName, group string) error {
	if l.client == nil {
		return fmt.Errorf("kafka ensure group: %w", berr.ErrStreamNotFound)
	}

	topic := topicFor(logName)
	if err := l.client.EnsureTopic(ctx, topic); err != nil {
		return fmt.Errorf("ensure topic %s: %w", topic, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seen, ok := l.groups[topic]
	if !ok {
		seen = make(map[string]struct{})
		l.groups[topic] = seen
	}

	if _, ok := seen[group]; ok {
		return fmt.Errorf("group %s on %s: %w", group, logName, berr.ErrGroupExists)
	}

	seen[group] = struct{}{}

	return nil
}

func (l *Log) Append(ctx context.Context, logName string, data []byte, _ int64) (string, error) {
	if l.client == nil {
		return "", fmt.Errorf("kafka append: %w", berr.ErrAppendFailed)
	}

	part, off, err := l.client.Produce(ctx, topicFor(logName), data)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		return "", fmt.Errorf("kafka produce %s: %w", logName, errors.Join(berr.ErrAppendFailed, err))
	}

	return entryID(part, off), nil
}

func (l *Log) ReadGroup(
	ctx context.Context,
	logName, group, _ string,
	count int64,
	block time.Duration,
) ([]stream.Entry, error) {
	if l.client == nil {
		return nil, fmt.Errorf("kafka read: %w", berr.ErrStreamNotFound)
	}

	topic := topicFor(logName)

	recs, err := l.client.PollGroup(ctx, groupFor(group), topic, int(count), block)
	if err != nil {
		return nil, fmt.Errorf("kafka poll %s/%s: %w", logName, group, err)
	}

	entries := make([]stream.Entry, 0, len(recs))

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range recs {
		id := entryID(r.Partition, r.Offset)
		entries = append(entries, stream.Entry{ID: id, Data: r.Value})
		l.pending[pendingKey(topic, group, id)] = r
	}

	return entries, nil
}

func (l *Log) Ack(ctx context.Context, logName, group string, ids ...string) error {
	topic := topicFor(logName)

	l.mu.Lock()

	recs := make([]Record, 0, len(ids))
	keys := make([]string, 0, len(ids))

	for _, id := range ids {
		key := pendingKey(topic, group, id)
		if r, ok := l.pending[key]; ok {
			recs = append(recs, r)
			keys = append(keys, key)
		}
	}
	l.mu.Unlock()

	if len(recs) == 0 {
		return nil
	}

	if err := l.client.CommitRecords(ctx, groupFor(group), topic, recs...); err != nil {
		return fmt.Errorf("kafka commit %s/%s: %w", logName, group, err)
	}

	l.mu.Lock()
	for _, key := range keys {
		delete(l.pending, key)
	}
	l.mu.Unlock()

	return nil
}

func (l *Log) Info(ctx context.Context, logName string) (stream.Info, error) {
	if l.client == nil {
		return stream.Info{}, nil
	}

	topic := topicFor(logName)

	st, err := l.client.TopicStats(ctx, topic)
	if err != nil {
		return stream.Info{}, fmt.Errorf("kafka topic stats %s: %w", logName, err)
	}

	if !st.Exists {
		return stream.Info{}, nil
	}

	l.mu.Lock()
	groupCount := len(l.groups[topic])
	l.mu.Unlock()

	return stream.Info{
		Name:       logName,
		Length:     st.MessageCount,
		GroupCount: groupCount,
	}, nil
}

// Pending lists records polled by this process and not yet committed.
func (l *Log) Pending(_ context.Context, logName, group string) ([]stream.PendingEntry, error) {
	prefix := pendingKey(topicFor(logName), group, "")

	l.mu.Lock()
	defer l.mu.Unlock()

	var out []stream.PendingEntry

	for key, r := range l.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		out = append(out, stream.PendingEntry{
			ID:        entryID(r.Partition, r.Offset),
			Consumer:  groupFor(group),
			Delivered: r.Timestamp,
			Retries:   1,
		})
	}

	return out, nil
}

func entryID(partition int32, offset int64) string {
	return fmt.Sprintf("%d-%d", partition, offset)
}

func pendingKey(topic, group, id string) string {
	return topic + "|" + group + "|" + id
}
