package election

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/axonops/kafka-schema-registry/internal/cluster"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecodeAnnouncement(t *testing.T) {
	rec := &kgo.Record{
		Key:   []byte("leader"),
		Value: []byte(`{"host":"node1","port":8081,"scheme":"http","leader_eligibility":true}`),
	}
	id, err := decodeAnnouncement(rec)
	if err != nil {
		t.Fatalf("decodeAnnouncement: %v", err)
	}
	if id.Host != "node1" || id.Port != 8081 || id.Scheme != "http" || !id.LeaderEligibility {
		t.Errorf("decoded identity = %+v", id)
	}

	if _, err := decodeAnnouncement(&kgo.Record{Key: []byte("other")}); err == nil {
		t.Error("unexpected key accepted")
	}
	if id, err := decodeAnnouncement(&kgo.Record{Key: []byte("leader")}); err != nil || id != nil {
		t.Errorf("empty value: id=%v err=%v", id, err)
	}
	if _, err := decodeAnnouncement(&kgo.Record{Key: []byte("leader"), Value: []byte("{")}); err == nil {
		t.Error("malformed value accepted")
	}
}

func TestHoldsPartition(t *testing.T) {
	if !holdsPartition(map[string][]int32{"_coordination": {0}}, "_coordination") {
		t.Error("partition 0 not recognized")
	}
	if holdsPartition(map[string][]int32{"_coordination": {1}}, "_coordination") {
		t.Error("wrong partition recognized")
	}
	if holdsPartition(map[string][]int32{"other": {0}}, "_coordination") {
		t.Error("wrong topic recognized")
	}
}

func TestApplyDeduplicatesTransitions(t *testing.T) {
	var calls []*cluster.Identity
	e := New(Config{Topic: "_coordination"}, &cluster.Identity{Host: "self", Port: 1, Scheme: "http"},
		func(ctx context.Context, leader *cluster.Identity) error {
			calls = append(calls, leader)
			return nil
		}, testLogger())

	ctx := context.Background()
	node1 := &cluster.Identity{Host: "node1", Port: 8081, Scheme: "http"}

	e.apply(ctx, node1)
	e.apply(ctx, &cluster.Identity{Host: "node1", Port: 8081, Scheme: "http"})
	e.apply(ctx, nil)
	e.apply(ctx, nil)
	e.apply(ctx, node1)

	if len(calls) != 3 {
		t.Fatalf("callback invoked %d times, want 3: %v", len(calls), calls)
	}
	if calls[0].Host != "node1" || calls[1] != nil || calls[2].Host != "node1" {
		t.Errorf("transitions = %v", calls)
	}
	if e.Leader() == nil || e.Leader().Host != "node1" {
		t.Errorf("Leader() = %v", e.Leader())
	}
}
