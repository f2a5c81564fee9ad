// Package model provides a deliberately simple, in-memory model of kv's
// publicly observable behavior.
//
// The model keeps records as plain strings in physical order and favors
// clarity over performance. [Model.Encode] renders the records in the
// on-disk format so tests can compare whole snapshots byte for byte.
package model

import (
	"encoding/binary"
	"slices"

	"github.com/calvinalkan/bytekv/pkg/kv"
)

// Record is one key/value pair in physical order.
type Record struct {
	Key   string
	Value string
}

// Model is the committed state of a store.
type Model struct {
	Records []Record
}

// New returns an empty model.
func New() *Model {
	return &Model{}
}

// Clone returns a deep copy, used to fork state before a failing operation.
func (m *Model) Clone() *Model {
	return &Model{Records: slices.Clone(m.Records)}
}

func validKey(key []byte) bool {
	return len(key) > 0 && len(key) <= kv.MaxKeyLength
}

func (m *Model) find(key string) int {
	return slices.IndexFunc(m.Records, func(r Record) bool { return r.Key == key })
}

// Get returns the value for key.
func (m *Model) Get(key []byte) ([]byte, bool, error) {
	if !validKey(key) {
		return nil, false, kv.ErrInvalidArgument
	}

	i := m.find(string(key))
	if i < 0 {
		return nil, false, nil
	}

	return []byte(m.Records[i].Value), true, nil
}

// Put replaces the value of an existing key in place or appends a new record.
func (m *Model) Put(key, value []byte) error {
	return m.PutBatch(kv.Put(key, value))
}

// PutBatch applies pairs in order. Any invalid key rejects the whole batch.
func (m *Model) PutBatch(pairs ...kv.KV) error {
	for _, p := range pairs {
		if !validKey(p.Key) {
			return kv.ErrInvalidArgument
		}
	}

	for _, p := range pairs {
		i := m.find(string(p.Key))

		switch {
		case p.Delete && i >= 0:
			m.Records = slices.Delete(m.Records, i, i+1)
		case p.Delete:
		case i >= 0:
			m.Records[i].Value = string(p.Value)
		default:
			m.Records = append(m.Records, Record{Key: string(p.Key), Value: string(p.Value)})
		}
	}

	return nil
}

// Remove deletes key and reports whether it was present.
func (m *Model) Remove(key []byte) (bool, error) {
	if !validKey(key) {
		return false, kv.ErrInvalidArgument
	}

	i := m.find(string(key))
	if i < 0 {
		return false, nil
	}

	m.Records = slices.Delete(m.Records, i, i+1)

	return true, nil
}

// Clear drops every record.
func (m *Model) Clear() {
	m.Records = nil
}

// Len returns the number of records.
func (m *Model) Len() int {
	return len(m.Records)
}

// Keys returns every key in physical order.
func (m *Model) Keys() []string {
	keys := make([]string, 0, len(m.Records))
	for _, r := range m.Records {
		keys = append(keys, r.Key)
	}

	return keys
}

// Encode renders the records in the store file format.
func (m *Model) Encode() []byte {
	out := []byte{}

	for _, r := range m.Records {
		out = binary.BigEndian.AppendUint64(out, uint64(kv.Hash([]byte(r.Key))))
		out = binary.BigEndian.AppendUint16(out, uint16(len(r.Key)))
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Value)))
		out = append(out, r.Key...)
		out = append(out, r.Value...)
	}

	return out
}
