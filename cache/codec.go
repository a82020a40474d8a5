package cache

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec converts values to and from their stored form. Decoding must
// return a value that shares no memory with data.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// JSON encodes values with encoding/json.
type JSON[V any] struct{}

func (JSON[V]) Marshal(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// Msgpack encodes values with github.com/vmihailenco/msgpack/v5. It is
// more compact than JSON and keeps integer types exact.
type Msgpack[V any] struct{}

func (Msgpack[V]) Marshal(v V) ([]byte, error) { return msgpack.Marshal(v) }

func (Msgpack[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(data, &v)
	return v, err
}

// Bytes stores []byte values as is, copying on the way in and out.
type Bytes struct{}

func (Bytes) Marshal(v []byte) ([]byte, error) { return bytes.Clone(v), nil }

func (Bytes) Unmarshal(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

func defaultCodec[V any]() Codec[V] {
	var zero V
	if _, ok := any(zero).([]byte); ok {
		return any(Bytes{}).(Codec[V])
	}
	return JSON[V]{}
}
