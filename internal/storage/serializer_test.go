package storage

import (
	"errors"
	"testing"
)

func TestSerializerSchemaRoundTrip(t *testing.T) {
	s := NewJSONSerializer()

	key := NewSchemaKey("orders-value", 3)
	value := &SchemaValue{
		Subject:    "orders-value",
		Version:    3,
		ID:         17,
		SchemaType: SchemaTypeAvro,
		References: []Reference{{Name: "com.example.Item", Subject: "item", Version: 1}},
		Schema:     `{"type":"record","name":"Order","fields":[]}`,
	}

	keyData, err := s.SerializeKey(key)
	if err != nil {
		t.Fatalf("SerializeKey: %v", err)
	}
	valueData, err := s.SerializeValue(value)
	if err != nil {
		t.Fatalf("SerializeValue: %v", err)
	}

	gotKey, err := s.DeserializeKey(keyData)
	if err != nil {
		t.Fatalf("DeserializeKey: %v", err)
	}
	sk, ok := gotKey.(SchemaKey)
	if !ok {
		t.Fatalf("expected SchemaKey, got %T", gotKey)
	}
	if sk.Subject != "orders-value" || sk.Version != 3 {
		t.Errorf("unexpected key: %+v", sk)
	}

	gotValue, err := s.DeserializeValue(gotKey, valueData)
	if err != nil {
		t.Fatalf("DeserializeValue: %v", err)
	}
	sv, ok := gotValue.(*SchemaValue)
	if !ok {
		t.Fatalf("expected *SchemaValue, got %T", gotValue)
	}
	if sv.ID != 17 || sv.SchemaType != SchemaTypeAvro || len(sv.References) != 1 {
		t.Errorf("unexpected value: %+v", sv)
	}
}

func TestSerializerKeytypeDispatch(t *testing.T) {
	s := NewJSONSerializer()

	keys := []Key{
		NewConfigKey("orders-value"),
		NewModeKey(""),
		NewContextKey("default", ".prod"),
		NewDeleteSubjectKey("orders-value"),
		NewClearSubjectKey("orders-value"),
		NewNoopKey("orders-value"),
	}
	for _, key := range keys {
		data, err := s.SerializeKey(key)
		if err != nil {
			t.Fatalf("SerializeKey(%s): %v", key.KeyType(), err)
		}
		got, err := s.DeserializeKey(data)
		if err != nil {
			t.Fatalf("DeserializeKey(%s): %v", key.KeyType(), err)
		}
		if got.KeyType() != key.KeyType() {
			t.Errorf("keytype %s round-tripped to %s", key.KeyType(), got.KeyType())
		}
	}
}

func TestSerializerUnknownKeytype(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.DeserializeKey([]byte(`{"keytype":"BOGUS","magic":0}`))
	if !errors.Is(err, ErrSerialization) {
		t.Fatalf("expected ErrSerialization, got %v", err)
	}
}

func TestSerializerTombstone(t *testing.T) {
	s := NewJSONSerializer()
	data, err := s.SerializeValue(nil)
	if err != nil {
		t.Fatalf("SerializeValue(nil): %v", err)
	}
	if data != nil {
		t.Fatalf("tombstone should serialize to nil, got %q", data)
	}
	v, err := s.DeserializeValue(NewSchemaKey("s", 1), nil)
	if err != nil {
		t.Fatalf("DeserializeValue(nil): %v", err)
	}
	if v != nil {
		t.Fatalf("tombstone should deserialize to nil, got %+v", v)
	}
}

func TestNoopKeysDistinctPerSubject(t *testing.T) {
	s := NewJSONSerializer()

	a, err := s.SerializeKey(NewNoopKey("orders-value"))
	if err != nil {
		t.Fatalf("SerializeKey: %v", err)
	}
	b, err := s.SerializeKey(NewNoopKey("payments-value"))
	if err != nil {
		t.Fatalf("SerializeKey: %v", err)
	}
	// Barriers on different subjects must not share a compaction key,
	// otherwise one subject's barrier could compact away another's.
	if string(a) == string(b) {
		t.Error("noop keys for different subjects serialized identically")
	}
	if CompareKeys(NewNoopKey("orders-value"), NewNoopKey("payments-value")) == 0 {
		t.Error("noop keys for different subjects should compare unequal")
	}
}

func TestCompareKeysOrdersSchemaScans(t *testing.T) {
	a := NewSchemaKey("orders", 1)
	b := NewSchemaKey("orders", 2)
	c := NewSchemaKey("payments", 1)

	if CompareKeys(a, b) >= 0 {
		t.Error("version 1 should sort before version 2")
	}
	if CompareKeys(b, c) >= 0 {
		t.Error("orders should sort before payments")
	}
	if CompareKeys(a, a) != 0 {
		t.Error("identical keys should compare equal")
	}
	if CompareKeys(NewConfigKey("zzz"), a) >= 0 {
		t.Error("config keys should sort before schema keys")
	}
}

func TestUpdateConfigMerges(t *testing.T) {
	older := &Config{CompatibilityLevel: "BACKWARD", CompatibilityGroup: "app"}
	newer := &Config{CompatibilityLevel: "FULL"}
	merged := UpdateConfig(older, newer)
	if merged.CompatibilityLevel != "FULL" {
		t.Errorf("expected FULL, got %s", merged.CompatibilityLevel)
	}
	if merged.CompatibilityGroup != "app" {
		t.Errorf("older group should survive, got %q", merged.CompatibilityGroup)
	}
}

func TestMergeMetadataOverlay(t *testing.T) {
	older := &Metadata{Properties: map[string]string{"owner": "a", "team": "x"}}
	newer := &Metadata{Properties: map[string]string{"owner": "b"}}
	merged := MergeMetadata(older, newer)
	if merged.Properties["owner"] != "b" {
		t.Errorf("newer property should win, got %q", merged.Properties["owner"])
	}
	if merged.Properties["team"] != "x" {
		t.Errorf("older property should survive, got %q", merged.Properties["team"])
	}
	if MergeMetadata(nil, newer) != newer {
		t.Error("nil older should pass newer through")
	}
}
