//go:build franz

package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	berr "github.com/next-trace/scg-tenant-bus/contract/errors"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Concrete franz-go based Client and constructor.

type Config struct {
	Brokers    []string
	TLS        *tls.Config
	ClientID   string
	Partitions int32
}

type kgoClient struct {
	cfg      Config
	producer *kgo.Client
	admin    *kadm.Client

	mu        sync.Mutex
	consumers map[string]*kgo.Client // group|topic
}

// NewWithKgo builds a franz-go backed Log. The returned cleanup closes every
// client the adapter opened.
func NewWithKgo(cfg Config) (*Log, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrAppendFailed)
	}

	opts := []kgo.Opt{kgo.SeedBrokers(cfg.Brokers...)}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(cfg.TLS))
	}

	producer, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrAppendFailed, err)
	}

	c := &kgoClient{
		cfg:       cfg,
		producer:  producer,
		admin:     kadm.NewClient(producer),
		consumers: make(map[string]*kgo.Client),
	}

	log := New(c)
	cleanup := func() {
		c.mu.Lock()
		for _, cl := range c.consumers {
			cl.Close()
		}
		c.mu.Unlock()
		producer.Close()
	}

	return log, cleanup, nil
}

func (c *kgoClient) EnsureTopic(ctx context.Context, topic string) error {
	partitions := c.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}

	resp, err := c.admin.CreateTopics(ctx, partitions, 1, nil, topic)
	if err != nil {
		return err
	}

	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return r.Err
		}
	}

	return nil
}

func (c *kgoClient) Produce(ctx context.Context, topic string, value []byte) (int32, int64, error) {
	res := c.producer.ProduceSync(ctx, &kgo.Record{Topic: topic, Value: value})

	rec, err := res.First()
	if err != nil {
		return 0, 0, err
	}

	return rec.Partition, rec.Offset, nil
}

func (c *kgoClient) consumer(group, topic string) (*kgo.Client, error) {
	key := group + "|" + topic

	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.consumers[key]; ok {
		return cl, nil
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	}
	if c.cfg.TLS != nil {
		opts = append(opts, kgo.DialTLSConfig(c.cfg.TLS))
	}

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	c.consumers[key] = cl

	return cl, nil
}

func (c *kgoClient) PollGroup(ctx context.Context, group, topic string, max int, wait time.Duration) ([]Record, error) {
	cl, err := c.consumer(group, topic)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	fetches := cl.PollRecords(pollCtx, max)
	if fetches.IsClientClosed() {
		return nil, context.Canceled
	}

	var recs []Record

	fetches.EachRecord(func(r *kgo.Record) {
		recs = append(recs, Record{
			Partition: r.Partition,
			Offset:    r.Offset,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	})

	return recs, nil
}

func (c *kgoClient) CommitRecords(ctx context.Context, group, topic string, recs ...Record) error {
	cl, err := c.consumer(group, topic)
	if err != nil {
		return err
	}

	krecs := make([]*kgo.Record, 0, len(recs))
	for _, r := range recs {
		krecs = append(krecs, &kgo.Record{Topic: topic, Partition: r.Partition, Offset: r.Offset})
	}

	return cl.CommitRecords(ctx, krecs...)
}

func (c *kgoClient) TopicStats(ctx context.Context, topic string) (TopicStats, error) {
	starts, err := c.admin.ListStartOffsets(ctx, topic)
	if err != nil {
		return TopicStats{}, err
	}

	ends, err := c.admin.ListEndOffsets(ctx, topic)
	if err != nil {
		return TopicStats{}, err
	}

	var (
		count  int64
		exists bool
	)

	ends.Each(func(o kadm.ListedOffset) {
		exists = true

		if s, ok := starts.Lookup(o.Topic, o.Partition); ok {
			count += o.Offset - s.Offset
		}
	})

	return TopicStats{Exists: exists, MessageCount: count}, nil
}
