package persistence

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
)

// Property is a typed value preserved across restarts. It loads itself
// from the store on construction, falling back to the given default on
// a miss, and writes back on Set. The key is derived from the owning
// device's port and the property name, so the same name on different
// ports stays distinct.
type Property[T any] struct {
	store Store
	key   string
	value T
}

// Key derives the storage key for a property: the instance id in hex,
// a colon, and the crc32 of the name truncated to 16 bits, in hex.
func Key(instanceID uint16, name string) string {
	crc := uint16(crc32.ChecksumIEEE([]byte(name)))
	return fmt.Sprintf("%x:%x", instanceID, crc)
}

// NewProperty binds a property to a store and loads its value. A
// missing or undecodable stored value yields def.
func NewProperty[T any](store Store, instanceID uint16, name string, def T) *Property[T] {
	p := &Property[T]{
		store: store,
		key:   Key(instanceID, name),
		value: def,
	}
	data, err := store.Load(p.key)
	if err != nil {
		return p
	}
	var loaded T
	if err := cbor.Unmarshal(data, &loaded); err != nil {
		return p
	}
	p.value = loaded
	return p
}

// Get returns the current value.
func (p *Property[T]) Get() T {
	return p.value
}

// Set updates the value and persists it. Writing the value already held
// is elided: the encoded forms are compared first.
func (p *Property[T]) Set(value T) error {
	next, err := cbor.Marshal(value)
	if err != nil {
		return err
	}
	prev, err := cbor.Marshal(p.value)
	if err == nil && bytes.Equal(prev, next) {
		return nil
	}

	p.value = value
	return p.store.Save(p.key, next)
}
