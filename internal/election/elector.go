// Package election elects the single writer among registry nodes.
//
// Eligible nodes join a consumer group on a one-partition coordination
// topic; whoever is assigned the partition is the leader. The leader
// announces its identity as a compacted record on the same topic, and every
// node (eligible or not) tails the announcements to learn where to forward
// writes.
package election

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"

	"github.com/axonops/kafka-schema-registry/internal/cluster"
)

const coordinationPartition = 0

// leaderRecordKey is the single compacted key carrying the current leader.
var leaderRecordKey = []byte("leader")

// Config holds the coordination topic and connection settings.
type Config struct {
	BootstrapServers  []string
	Topic             string
	GroupID           string
	ReplicationFactor int16
	// ElectionTimeout bounds topic creation and the leader announcement.
	ElectionTimeout time.Duration
	// ElectionDelay postpones joining the election group after startup so a
	// node can finish catching up on the log before it can win leadership.
	ElectionDelay time.Duration

	SASLMechanism string
	SASLUser      string
	SASLPassword  string
	TLSEnabled    bool
	TLSSkipVerify bool
}

// LeaderCallback is invoked whenever the known leader changes. A nil
// identity means the leader is currently unknown.
type LeaderCallback func(ctx context.Context, leader *cluster.Identity) error

// Elector runs the election for one node.
type Elector struct {
	cfg      Config
	self     *cluster.Identity
	onLeader LeaderCallback
	logger   *slog.Logger

	group   *kgo.Client
	watcher *kgo.Client

	mu      sync.Mutex
	current *cluster.Identity

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New builds an elector for self. The callback receives every observed
// leader change, including this node's own promotion.
func New(cfg Config, self *cluster.Identity, onLeader LeaderCallback, logger *slog.Logger) *Elector {
	return &Elector{
		cfg:      cfg,
		self:     self,
		onLeader: onLeader,
		logger:   logger.With("component", "election"),
		done:     make(chan struct{}),
	}
}

func (e *Elector) clientOpts(extra ...kgo.Opt) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(e.cfg.BootstrapServers...),
	}
	switch e.cfg.SASLMechanism {
	case "PLAIN":
		opts = append(opts, kgo.SASL(plain.Auth{User: e.cfg.SASLUser, Pass: e.cfg.SASLPassword}.AsMechanism()))
	case "SCRAM-SHA-256":
		opts = append(opts, kgo.SASL(scram.Auth{User: e.cfg.SASLUser, Pass: e.cfg.SASLPassword}.AsSha256Mechanism()))
	case "SCRAM-SHA-512":
		opts = append(opts, kgo.SASL(scram.Auth{User: e.cfg.SASLUser, Pass: e.cfg.SASLPassword}.AsSha512Mechanism()))
	case "":
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", e.cfg.SASLMechanism)
	}
	if e.cfg.TLSEnabled {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{
			InsecureSkipVerify: e.cfg.TLSSkipVerify, // #nosec G402 -- user-controlled flag
		}))
	}
	return append(opts, extra...), nil
}

// Start creates the coordination topic if needed, begins tailing leader
// announcements and, on eligible nodes, joins the election group.
func (e *Elector) Start(ctx context.Context) error {
	if err := e.ensureTopic(ctx); err != nil {
		return err
	}

	watcherOpts, err := e.clientOpts(
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			e.cfg.Topic: {coordinationPartition: kgo.NewOffset().AtStart()},
		}),
	)
	if err != nil {
		return err
	}
	e.watcher, err = kgo.NewClient(watcherOpts...)
	if err != nil {
		return fmt.Errorf("creating election watcher: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	switch {
	case !e.self.LeaderEligibility:
		e.logger.Info("node is not leader eligible, watching only")
	case e.cfg.ElectionDelay > 0:
		e.logger.Info("delaying election join", "delay", e.cfg.ElectionDelay)
		go func() {
			select {
			case <-runCtx.Done():
				return
			case <-time.After(e.cfg.ElectionDelay):
			}
			if err := e.joinGroup(runCtx); err != nil {
				e.logger.Error("joining election group", "error", err)
			}
		}()
	default:
		if err := e.joinGroup(runCtx); err != nil {
			cancel()
			return err
		}
	}

	go e.run(runCtx)
	return nil
}

// joinGroup enters the election group and keeps its session alive until the
// client is closed.
func (e *Elector) joinGroup(ctx context.Context) error {
	groupOpts, err := e.clientOpts(
		kgo.ConsumeTopics(e.cfg.Topic),
		kgo.ConsumerGroup(e.cfg.GroupID),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(e.onAssigned),
		kgo.OnPartitionsRevoked(e.onRevoked),
		kgo.OnPartitionsLost(e.onRevoked),
	)
	if err != nil {
		return err
	}
	client, err := kgo.NewClient(groupOpts...)
	if err != nil {
		return fmt.Errorf("joining election group: %w", err)
	}

	e.mu.Lock()
	e.group = client
	e.mu.Unlock()

	go func() {
		for {
			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			// Announcements arrive via the watcher; group fetches only
			// maintain the session.
		}
	}()
	return nil
}

func (e *Elector) ensureTopic(ctx context.Context) error {
	if e.cfg.ElectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ElectionTimeout)
		defer cancel()
	}

	opts, err := e.clientOpts()
	if err != nil {
		return err
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return err
	}
	defer client.Close()
	adm := kadm.NewClient(client)

	topics, err := adm.ListTopics(ctx, e.cfg.Topic)
	if err != nil {
		return err
	}
	if t, ok := topics[e.cfg.Topic]; ok && t.Err == nil {
		if len(t.Partitions) != 1 {
			return fmt.Errorf("coordination topic %s has %d partitions, election requires exactly 1",
				e.cfg.Topic, len(t.Partitions))
		}
		return nil
	}

	compact := "compact"
	configs := map[string]*string{"cleanup.policy": &compact}
	_, err = adm.CreateTopic(ctx, 1, e.cfg.ReplicationFactor, configs, e.cfg.Topic)
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return err
	}
	return nil
}

// onAssigned fires when the group hands this node the coordination
// partition: this node is now the leader and must say so on the topic
// before serving writes.
func (e *Elector) onAssigned(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
	if !holdsPartition(assigned, e.cfg.Topic) {
		return
	}
	e.logger.Info("elected leader", "identity", e.self)
	if err := e.announce(ctx, e.self); err != nil {
		e.logger.Error("announcing leadership", "error", err)
	}
}

// onRevoked fires when the partition moves away, including during shutdown.
// The leader is unknown until the next announcement arrives.
func (e *Elector) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	if !holdsPartition(revoked, e.cfg.Topic) {
		return
	}
	e.logger.Info("leadership revoked")
	e.apply(ctx, nil)
}

func holdsPartition(m map[string][]int32, topic string) bool {
	for _, p := range m[topic] {
		if p == coordinationPartition {
			return true
		}
	}
	return false
}

// announce writes the leader record. Followers pick it up from the watcher.
func (e *Elector) announce(ctx context.Context, leader *cluster.Identity) error {
	if e.cfg.ElectionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ElectionTimeout)
		defer cancel()
	}
	value, err := json.Marshal(leader)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic:     e.cfg.Topic,
		Partition: coordinationPartition,
		Key:       leaderRecordKey,
		Value:     value,
	}
	return e.watcher.ProduceSync(ctx, rec).FirstErr()
}

// run tails announcements until Stop.
func (e *Elector) run(ctx context.Context) {
	defer close(e.done)
	e.watch(ctx)
}

func (e *Elector) watch(ctx context.Context) {
	for {
		fetches := e.watcher.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			e.logger.Error("election fetch error", "topic", topic, "partition", partition, "error", err)
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			leader, err := decodeAnnouncement(rec)
			if err != nil {
				e.logger.Error("skipping malformed leader record", "offset", rec.Offset, "error", err)
				return
			}
			e.apply(ctx, leader)
		})
	}
}

func decodeAnnouncement(rec *kgo.Record) (*cluster.Identity, error) {
	if string(rec.Key) != string(leaderRecordKey) {
		return nil, fmt.Errorf("unexpected key %q", rec.Key)
	}
	if len(rec.Value) == 0 {
		return nil, nil
	}
	var id cluster.Identity
	if err := json.Unmarshal(rec.Value, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// apply hands a leader change to the callback, deduplicating repeats so
// replaying the compacted topic does not retrigger transitions.
func (e *Elector) apply(ctx context.Context, leader *cluster.Identity) {
	e.mu.Lock()
	if leader.Equal(e.current) {
		e.mu.Unlock()
		return
	}
	e.current = leader
	e.mu.Unlock()

	if leader == nil {
		e.logger.Info("leader unknown")
	} else {
		e.logger.Info("observed leader", "identity", leader)
	}
	if err := e.onLeader(ctx, leader); err != nil {
		e.logger.Error("applying leader change", "leader", leader, "error", err)
	}
}

// Leader returns the last observed leader, or nil if unknown.
func (e *Elector) Leader() *cluster.Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Stop leaves the group, which triggers a rebalance so another eligible
// node can take over.
func (e *Elector) Stop() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		group := e.group
		e.mu.Unlock()
		if group != nil {
			group.Close()
		}
		if e.cancel != nil {
			e.cancel()
		}
		if e.watcher != nil {
			e.watcher.Close()
		}
		<-e.done
	})
}
