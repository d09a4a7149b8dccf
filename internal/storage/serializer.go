package storage

import (
	"encoding/json"
	"fmt"
)

// Serializer maps typed keys and values to the bytes stored on the log topic.
type Serializer interface {
	SerializeKey(key Key) ([]byte, error)
	SerializeValue(value Value) ([]byte, error)
	// DeserializeKey decodes a key by its keytype discriminator.
	DeserializeKey(data []byte) (Key, error)
	// DeserializeValue decodes a value; the key determines the concrete
	// type. A nil or empty payload is a tombstone and yields a nil Value.
	DeserializeValue(key Key, data []byte) (Value, error)
}

// JSONSerializer encodes records as JSON, compatible with the Confluent
// _schemas topic format.
type JSONSerializer struct{}

func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

func (s *JSONSerializer) SerializeKey(key Key) ([]byte, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s key: %v", ErrSerialization, key.KeyType(), err)
	}
	return data, nil
}

func (s *JSONSerializer) SerializeValue(value Value) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s value: %v", ErrSerialization, value.ValueType(), err)
	}
	return data, nil
}

func (s *JSONSerializer) DeserializeKey(data []byte) (Key, error) {
	var discriminator struct {
		Keytype KeyType `json:"keytype"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, fmt.Errorf("%w: decoding key: %v", ErrSerialization, err)
	}
	var key Key
	var err error
	switch discriminator.Keytype {
	case KeyTypeSchema:
		var k SchemaKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeConfig:
		var k ConfigKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeMode:
		var k ModeKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeContext:
		var k ContextKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeDeleteSubject:
		var k DeleteSubjectKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeClearSubject:
		var k ClearSubjectKey
		err = json.Unmarshal(data, &k)
		key = k
	case KeyTypeNoop:
		var k NoopKey
		err = json.Unmarshal(data, &k)
		key = k
	default:
		return nil, fmt.Errorf("%w: unknown keytype %q", ErrSerialization, discriminator.Keytype)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s key: %v", ErrSerialization, discriminator.Keytype, err)
	}
	return key, nil
}

func (s *JSONSerializer) DeserializeValue(key Key, data []byte) (Value, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var value Value
	switch key.KeyType() {
	case KeyTypeSchema:
		value = &SchemaValue{}
	case KeyTypeConfig:
		value = &ConfigValue{}
	case KeyTypeMode:
		value = &ModeValue{}
	case KeyTypeContext:
		value = &ContextValue{}
	case KeyTypeDeleteSubject:
		value = &DeleteSubjectValue{}
	case KeyTypeClearSubject:
		value = &ClearSubjectValue{}
	case KeyTypeNoop:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown keytype %q", ErrSerialization, key.KeyType())
	}
	if err := json.Unmarshal(data, value); err != nil {
		return nil, fmt.Errorf("%w: decoding %s value: %v", ErrSerialization, key.KeyType(), err)
	}
	return value, nil
}
