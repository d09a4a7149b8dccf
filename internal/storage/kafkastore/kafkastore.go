// Package kafkastore implements the log-backed store: a single-partition
// compacted Kafka topic is the only durable state. Every node tails the
// topic into the lookup cache; the elected leader is the only producer.
package kafkastore

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/axonops/kafka-schema-registry/internal/storage"
)

const logPartition = 0

// Config holds the Kafka connection and topic settings for the log store.
type Config struct {
	BootstrapServers  []string
	Topic             string
	ReplicationFactor int16
	Timeout           time.Duration
	InitTimeout       time.Duration

	SASLMechanism string
	SASLUser      string
	SASLPassword  string
	TLSEnabled    bool
	TLSSkipVerify bool
}

// Store implements storage.Store on top of a compacted Kafka topic.
type Store struct {
	cfg        Config
	serializer storage.Serializer
	cache      storage.LookupCache
	logger     *slog.Logger

	consumer *kgo.Client

	// writer is the fenced log producer. It exists only while this node is
	// leader; nil means every produce fails with ErrNotLeader.
	writerMu sync.RWMutex
	writer   *kgo.Client

	// appliedOffset is the offset of the last record applied to the cache.
	appliedOffset atomic.Int64
	// lastWrittenOffset caches the offset of this node's last produce so a
	// read barrier can skip writing a fresh noop. Negative means unknown.
	lastWrittenOffset atomic.Int64

	notifyMu sync.Mutex
	notifyCh chan struct{}

	locksMu      sync.Mutex
	subjectLocks map[string]*sync.Mutex

	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	closeOnce  sync.Once
}

// New builds a store over the given cache. Init must be called before use.
func New(cfg Config, cache storage.LookupCache, logger *slog.Logger) *Store {
	s := &Store{
		cfg:          cfg,
		serializer:   storage.NewJSONSerializer(),
		cache:        cache,
		logger:       logger.With("component", "kafkastore"),
		notifyCh:     make(chan struct{}),
		subjectLocks: make(map[string]*sync.Mutex),
		pollDone:     make(chan struct{}),
	}
	s.appliedOffset.Store(-1)
	s.lastWrittenOffset.Store(-1)
	return s
}

func (s *Store) clientOpts(extra ...kgo.Opt) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(s.cfg.BootstrapServers...),
	}
	switch s.cfg.SASLMechanism {
	case "PLAIN":
		opts = append(opts, kgo.SASL(plain.Auth{User: s.cfg.SASLUser, Pass: s.cfg.SASLPassword}.AsMechanism()))
	case "SCRAM-SHA-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: s.cfg.SASLUser, Pass: s.cfg.SASLPassword}.AsSha256Mechanism()))
	case "SCRAM-SHA-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: s.cfg.SASLUser, Pass: s.cfg.SASLPassword}.AsSha512Mechanism()))
	case "":
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", s.cfg.SASLMechanism)
	}
	if s.cfg.TLSEnabled {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			InsecureSkipVerify: s.cfg.TLSSkipVerify, // #nosec G402 -- user-controlled flag
		}))
	}
	return append(opts, extra...), nil
}

// Init ensures the topic exists, starts the log consumer and blocks until
// the cache has caught up with the end of the log.
func (s *Store) Init(ctx context.Context) error {
	initCtx := ctx
	if s.cfg.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, s.cfg.InitTimeout)
		defer cancel()
	}

	if err := s.ensureTopic(initCtx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInitialization, err)
	}

	consumerOpts, err := s.clientOpts(
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			s.cfg.Topic: {logPartition: kgo.NewOffset().AtStart()},
		}),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInitialization, err)
	}
	s.consumer, err = kgo.NewClient(consumerOpts...)
	if err != nil {
		return fmt.Errorf("%w: creating log consumer: %v", storage.ErrInitialization, err)
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	s.cancelPoll = cancel
	go s.pollLoop(pollCtx)

	end, err := s.endOffset(initCtx)
	if err != nil {
		return fmt.Errorf("%w: reading log end offset: %v", storage.ErrInitialization, err)
	}
	if end > 0 {
		if err := s.waitApplied(initCtx, end-1); err != nil {
			return fmt.Errorf("%w: catching up to offset %d: %v", storage.ErrInitialization, end-1, err)
		}
	}
	s.logger.Info("log store initialized", "topic", s.cfg.Topic, "end_offset", end)
	return nil
}

func (s *Store) ensureTopic(ctx context.Context) error {
	adminOpts, err := s.clientOpts()
	if err != nil {
		return err
	}
	client, err := kgo.NewClient(adminOpts...)
	if err != nil {
		return err
	}
	defer client.Close()
	adm := kadm.NewClient(client)

	topics, err := adm.ListTopics(ctx, s.cfg.Topic)
	if err != nil {
		return err
	}
	if t, ok := topics[s.cfg.Topic]; ok && t.Err == nil {
		if len(t.Partitions) != 1 {
			return fmt.Errorf("topic %s has %d partitions, the log requires exactly 1",
				s.cfg.Topic, len(t.Partitions))
		}
		return nil
	}

	compact := "compact"
	configs := map[string]*string{"cleanup.policy": &compact}
	_, err = adm.CreateTopic(ctx, 1, s.cfg.ReplicationFactor, configs, s.cfg.Topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return err
	}
	s.logger.Info("created log topic", "topic", s.cfg.Topic,
		"replication_factor", s.cfg.ReplicationFactor)
	return nil
}

func (s *Store) endOffset(ctx context.Context) (int64, error) {
	adm := kadm.NewClient(s.consumer)
	offsets, err := adm.ListEndOffsets(ctx, s.cfg.Topic)
	if err != nil {
		return 0, err
	}
	o, ok := offsets.Lookup(s.cfg.Topic, logPartition)
	if !ok {
		return 0, fmt.Errorf("no end offset for %s[%d]", s.cfg.Topic, logPartition)
	}
	return o.Offset, nil
}

// pollLoop tails the log and applies each record to the cache in order.
func (s *Store) pollLoop(ctx context.Context) {
	defer close(s.pollDone)
	for {
		fetches := s.consumer.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			s.logger.Error("log fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			s.apply(rec)
		})
	}
}

func (s *Store) apply(rec *kgo.Record) {
	key, err := s.serializer.DeserializeKey(rec.Key)
	if err != nil {
		// A corrupt record must not wedge the reader; state divergence is
		// logged loudly instead.
		s.logger.Error("skipping undecodable log record", "offset", rec.Offset, "error", err)
	} else if key.KeyType() != storage.KeyTypeNoop {
		value, err := s.serializer.DeserializeValue(key, rec.Value)
		switch {
		case err != nil:
			s.logger.Error("skipping undecodable log value", "offset", rec.Offset,
				"keytype", key.KeyType(), "error", err)
		case value == nil:
			if err := s.cache.Delete(key); err != nil {
				s.logger.Error("applying tombstone", "offset", rec.Offset, "error", err)
			}
		default:
			if err := s.cache.Put(key, value); err != nil {
				s.logger.Error("applying record", "offset", rec.Offset, "error", err)
			}
		}
	}

	s.appliedOffset.Store(rec.Offset)
	s.notifyMu.Lock()
	close(s.notifyCh)
	s.notifyCh = make(chan struct{})
	s.notifyMu.Unlock()
}

// waitApplied blocks until the local reader has applied the given offset.
func (s *Store) waitApplied(ctx context.Context, offset int64) error {
	for {
		s.notifyMu.Lock()
		ch := s.notifyCh
		s.notifyMu.Unlock()
		if s.appliedOffset.Load() >= offset {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for offset %d (applied %d)",
				storage.ErrStoreTimeout, offset, s.appliedOffset.Load())
		}
	}
}

// BecomeLeader opens the log writer for a new leadership term. The
// transactional id is fixed per topic, so initializing the new writer bumps
// the producer epoch on the broker and any writer of an earlier term is
// fenced: its in-flight and later produces fail and surface as ErrNotLeader.
func (s *Store) BecomeLeader(ctx context.Context) error {
	writerOpts, err := s.clientOpts(
		kgo.DefaultProduceTopic(s.cfg.Topic),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.TransactionalID(s.cfg.Topic+"-writer"),
	)
	if err != nil {
		return err
	}
	writer, err := kgo.NewClient(writerOpts...)
	if err != nil {
		return fmt.Errorf("%w: creating log writer: %v", storage.ErrInitialization, err)
	}

	s.writerMu.Lock()
	old := s.writer
	s.writer = writer
	s.writerMu.Unlock()
	if old != nil {
		old.Close()
	}
	s.logger.Info("log writer opened", "topic", s.cfg.Topic)
	return nil
}

// ResignLeader closes the log writer so every later produce fails with
// ErrNotLeader.
func (s *Store) ResignLeader() {
	s.writerMu.Lock()
	old := s.writer
	s.writer = nil
	s.writerMu.Unlock()
	if old != nil {
		old.Close()
		s.logger.Info("log writer closed", "topic", s.cfg.Topic)
	}
}

// produce writes one record to the log inside a transaction and blocks until
// the local reader has applied it, so a subsequent Get observes the write.
func (s *Store) produce(ctx context.Context, key storage.Key, value storage.Value) error {
	keyData, err := s.serializer.SerializeKey(key)
	if err != nil {
		return err
	}
	valueData, err := s.serializer.SerializeValue(value)
	if err != nil {
		return err
	}

	s.writerMu.RLock()
	writer := s.writer
	s.writerMu.RUnlock()
	if writer == nil {
		return fmt.Errorf("%w: the log writer is only open on the leader", storage.ErrNotLeader)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if err := writer.BeginTransaction(); err != nil {
		return s.writeError(err, key)
	}
	rec := &kgo.Record{Topic: s.cfg.Topic, Partition: logPartition, Key: keyData, Value: valueData}
	if err := writer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if abortErr := writer.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			s.logger.Error("aborting log transaction", "error", abortErr)
		}
		return s.writeError(err, key)
	}
	if err := writer.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return s.writeError(err, key)
	}
	s.lastWrittenOffset.Store(rec.Offset)
	return s.waitApplied(ctx, rec.Offset)
}

// writeError maps a produce failure to the store's error taxonomy. A fenced
// or closed writer means another node took over leadership.
func (s *Store) writeError(err error, key storage.Key) error {
	switch {
	case errors.Is(err, kerr.ProducerFenced) || errors.Is(err, kerr.InvalidProducerEpoch) ||
		errors.Is(err, kgo.ErrClientClosed):
		return fmt.Errorf("%w: writer fenced producing %s record", storage.ErrNotLeader, key.KeyType())
	case errors.Is(err, kerr.MessageTooLarge):
		return fmt.Errorf("%w: record for %s", storage.ErrSchemaTooLarge, key.KeyType())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: producing %s record", storage.ErrStoreTimeout, key.KeyType())
	default:
		return fmt.Errorf("%w: producing %s record: %v", storage.ErrStore, key.KeyType(), err)
	}
}

func (s *Store) Put(ctx context.Context, key storage.Key, value storage.Value) error {
	if value == nil {
		return s.Delete(ctx, key)
	}
	return s.produce(ctx, key, value)
}

func (s *Store) Delete(ctx context.Context, key storage.Key) error {
	return s.produce(ctx, key, nil)
}

func (s *Store) Get(key storage.Key) (storage.Value, error) {
	v := s.cache.Get(key)
	if v == nil {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) GetAll(from, to storage.Key) (storage.CloseableIterator, error) {
	return s.cache.Range(from, to), nil
}

// WaitForReader is the read barrier: it makes sure the local cache reflects
// every record committed to the log before the call. The noop barrier is
// keyed by subject so concurrent barriers on different subjects do not
// collide under compaction.
func (s *Store) WaitForReader(ctx context.Context, subj string) error {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	if offset := s.lastWrittenOffset.Load(); offset >= 0 {
		return s.waitApplied(ctx, offset)
	}
	// Offset unknown (fresh leader): write a noop to find the end of the log.
	return s.produce(ctx, storage.NewNoopKey(subj), nil)
}

// MarkLastWrittenOffsetInvalid forgets the cached produce offset. Called on
// leader transitions so the next barrier reads the true end of the log.
func (s *Store) MarkLastWrittenOffsetInvalid() {
	s.lastWrittenOffset.Store(-1)
}

func (s *Store) LockFor(subject string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.subjectLocks[subject]
	if !ok {
		l = &sync.Mutex{}
		s.subjectLocks[subject] = l
	}
	return l
}

func (s *Store) Cache() storage.LookupCache { return s.cache }

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.cancelPoll != nil {
			s.cancelPoll()
		}
		if s.consumer != nil {
			s.consumer.Close()
			<-s.pollDone
		}
		s.ResignLeader()
	})
	return nil
}
