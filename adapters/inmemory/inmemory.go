// Package inmemory provides thread-safe in-memory implementations of the
// stream.Log and stream.KV contracts for testing and examples.
package inmemory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"
	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

type entry struct {
	id   string
	data []byte
}

type group struct {
	// cursor indexes into the log's seq-ordered entries: first undelivered seq.
	cursor int64
	// pending maps entry id to delivery state awaiting ack.
	pending map[string]stream.PendingEntry
}

type logState struct {
	entries []entry
	nextSeq int64
	groups  map[string]*group
	// waiters are signalled on append so blocked group reads wake early.
	waiters []chan struct{}
}

// Log is an in-memory ordered log with consumer groups, acknowledgment, and
// approximate trimming. Safe for concurrent use.
type Log struct {
	mu   sync.Mutex
	logs map[string]*logState
}

var _ stream.Log = (*Log)(nil)

// NewLog creates an empty in-memory log backend.
func NewLog() *Log { return &Log{logs: make(map[string]*logState)} }

func (l *Log) state(name string, create bool) *logState {
	st, ok := l.logs[name]
	if !ok && create {
		st = &logState{groups: make(map[string]*group)}
		l.logs[name] = st
	}

	return st
}

// EnsureGroup creates the log and consumer group. Re-creating an existing
// group returns ErrGroupExists.
func (l *Log) EnsureGroup(_ context.Context, logName, groupName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, true)
	if _, ok := st.groups[groupName]; ok {
		return fmt.Errorf("group %s on %s: %w", groupName, logName, berr.ErrGroupExists)
	}

	st.groups[groupName] = &group{pending: make(map[string]stream.PendingEntry)}

	return nil
}

// Append adds an entry, trims to maxLen (approximate semantics are exact
// here), and wakes blocked readers.
func (l *Log) Append(_ context.Context, logName string, data []byte, maxLen int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, true)
	id := fmt.Sprintf("%d-0", st.nextSeq)
	st.nextSeq++
	st.entries = append(st.entries, entry{id: id, data: append([]byte(nil), data...)})

	if maxLen > 0 && int64(len(st.entries)) > maxLen {
		drop := int64(len(st.entries)) - maxLen
		st.entries = st.entries[drop:]

		for _, g := range st.groups {
			if g.cursor < drop {
				g.cursor = 0
			} else {
				g.cursor -= drop
			}
		}
	}

	for _, w := range st.waiters {
		close(w)
	}

	st.waiters = nil

	return id, nil
}

// ReadGroup delivers up to count unread entries to the consumer, blocking up
// to block when nothing is available.
func (l *Log) ReadGroup(
	ctx context.Context,
	logName, groupName, consumer string,
	count int64,
	block time.Duration,
) ([]stream.Entry, error) {
	deadline := time.Now().Add(block)

	for {
		entries, wait, err := l.tryRead(logName, groupName, consumer, count)
		if err != nil || len(entries) > 0 {
			return entries, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (l *Log) tryRead(logName, groupName, consumer string, count int64) ([]stream.Entry, chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, false)
	if st == nil {
		return nil, nil, fmt.Errorf("log %s: %w", logName, berr.ErrStreamNotFound)
	}

	g, ok := st.groups[groupName]
	if !ok {
		return nil, nil, fmt.Errorf("group %s on %s: %w", groupName, logName, berr.ErrStreamNotFound)
	}

	if g.cursor < int64(len(st.entries)) {
		end := g.cursor + count
		if end > int64(len(st.entries)) {
			end = int64(len(st.entries))
		}

		out := make([]stream.Entry, 0, end-g.cursor)

		for _, e := range st.entries[g.cursor:end] {
			out = append(out, stream.Entry{ID: e.id, Data: append([]byte(nil), e.data...)})
			g.pending[e.id] = stream.PendingEntry{
				ID:        e.id,
				Consumer:  consumer,
				Delivered: time.Now(),
				Retries:   1,
			}
		}

		g.cursor = end

		return out, nil, nil
	}

	wait := make(chan struct{})
	st.waiters = append(st.waiters, wait)

	return nil, wait, nil
}

// Ack removes entries from the group's pending set.
func (l *Log) Ack(_ context.Context, logName, groupName string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, false)
	if st == nil {
		return fmt.Errorf("log %s: %w", logName, berr.ErrStreamNotFound)
	}

	g, ok := st.groups[groupName]
	if !ok {
		return fmt.Errorf("group %s on %s: %w", groupName, logName, berr.ErrStreamNotFound)
	}

	for _, id := range ids {
		delete(g.pending, id)
	}

	return nil
}

// Info reports log length and group count. A missing log yields zero Info.
func (l *Log) Info(_ context.Context, logName string) (stream.Info, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, false)
	if st == nil {
		return stream.Info{}, nil
	}

	info := stream.Info{
		Name:       logName,
		Length:     int64(len(st.entries)),
		GroupCount: len(st.groups),
	}

	if len(st.entries) > 0 {
		info.FirstEntryID = st.entries[0].id
		info.LastEntryID = st.entries[len(st.entries)-1].id
	}

	return info, nil
}

// Pending lists unacknowledged entries for the group, oldest first. Missing
// log or group yields an empty result.
func (l *Log) Pending(_ context.Context, logName, groupName string) ([]stream.PendingEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(logName, false)
	if st == nil {
		return nil, nil
	}

	g, ok := st.groups[groupName]
	if !ok {
		return nil, nil
	}

	out := make([]stream.PendingEntry, 0, len(g.pending))
	for _, p := range g.pending {
		out = append(out, p)
	}

	return out, nil
}

type kvRecord struct {
	value   []byte
	counter int64
	expires time.Time
}

func (r kvRecord) expired(now time.Time) bool {
	return !r.expires.IsZero() && now.After(r.expires)
}

// KV is an in-memory key-value store with TTL support and atomic counters.
// Safe for concurrent use.
type KV struct {
	mu   sync.Mutex
	data map[string]kvRecord
	now  func() time.Time
}

var _ stream.KV = (*KV)(nil)

// NewKV creates an empty in-memory KV store.
func NewKV() *KV { return &KV{data: make(map[string]kvRecord), now: time.Now} }

// SetClock overrides the time source. Test hook for TTL expiry.
func (k *KV) SetClock(now func() time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.now = now
}

func (k *KV) Get(_ context.Context, key string) ([]byte, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	r, ok := k.data[key]
	if !ok || r.expired(k.now()) {
		return nil, false, nil
	}

	return append([]byte(nil), r.value...), true, nil
}

func (k *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	r := kvRecord{value: append([]byte(nil), value...)}
	if ttl > 0 {
		r.expires = k.now().Add(ttl)
	}

	k.data[key] = r

	return nil
}

func (k *KV) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	delete(k.data, key)

	return nil
}

func (k *KV) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()

	r, ok := k.data[key]
	if !ok || r.expired(now) {
		r = kvRecord{}
		if ttl > 0 {
			r.expires = now.Add(ttl)
		}
	}

	r.counter += delta
	k.data[key] = r

	return r.counter, nil
}

func (k *KV) ScanPrefix(_ context.Context, prefix string) (map[string][]byte, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	out := make(map[string][]byte)

	for key, r := range k.data {
		if strings.HasPrefix(key, prefix) && !r.expired(now) {
			out[key] = append([]byte(nil), r.value...)
		}
	}

	return out, nil
}
