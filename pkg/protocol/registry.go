// registry.go implements the default Protocol: a type registry that
// assigns each registered message type a stable tag, deterministically,
// so client and server agree on the mapping without exchanging a schema.
package protocol

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"

	qerrors "github.com/corvidnet/reliant/internal/errors"
)

// Registry is a Protocol backed by reflection and CBOR: each registered
// Go type is assigned a tag equal to its rank when every registered
// type's name is sorted lexically. Registering the same set of types on
// both endpoints, in any order, yields the same tag assignment.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byTag  map[uint16]reflect.Type
	tagOf  map[reflect.Type]uint16
	sealed bool
}

// NewRegistry creates an empty message registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]reflect.Type),
		byTag:  make(map[uint16]reflect.Type),
		tagOf:  make(map[reflect.Type]uint16),
	}
}

// Register adds a message type to the registry, keyed by its Go type
// name. sample must be a non-nil pointer to the message struct (e.g.
// &Join{}); only its type is retained. Register must be called for
// every message type, in the same set on both endpoints, before the
// first Encode/Decode — tags are only assigned once the set is sealed.
func (r *Registry) Register(sample interface{}) error {
	t := reflect.TypeOf(sample)
	if t == nil || t.Kind() != reflect.Ptr {
		return fmt.Errorf("protocol: Register requires a non-nil pointer, got %T", sample)
	}
	elem := t.Elem()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("protocol: Register called after the registry was sealed by use")
	}
	r.byName[elem.Name()] = elem
	return nil
}

// seal assigns tags in sorted-name order on first use. Called with the
// write lock held.
func (r *Registry) seal() {
	if r.sealed {
		return
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		tag := uint16(i + 1)
		t := r.byName[name]
		r.byTag[tag] = t
		r.tagOf[t] = tag
	}
	r.sealed = true
}

// Encode assigns message's tag and serializes it with CBOR.
func (r *Registry) Encode(message interface{}) (uint16, []byte, error) {
	t := reflect.TypeOf(message)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	r.mu.Lock()
	r.seal()
	tag, ok := r.tagOf[t]
	r.mu.Unlock()
	if !ok {
		return 0, nil, qerrors.ErrUnknownMessageType
	}

	payload, err := cbor.Marshal(message)
	if err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}

// Decode reconstructs the message registered under tag.
func (r *Registry) Decode(tag uint16, payload []byte) (interface{}, error) {
	r.mu.Lock()
	r.seal()
	t, ok := r.byTag[tag]
	r.mu.Unlock()
	if !ok {
		return nil, qerrors.ErrUnknownMessageType
	}

	value := reflect.New(t)
	if err := cbor.Unmarshal(payload, value.Interface()); err != nil {
		return nil, err
	}
	return value.Interface(), nil
}

// Tags returns a snapshot of the name-to-tag assignment, sealing the
// registry if it has not already been used. Intended for diagnostics
// and tests that want to assert on the deterministic assignment.
func (r *Registry) Tags() map[string]uint16 {
	r.mu.Lock()
	r.seal()
	out := make(map[string]uint16, len(r.byName))
	for name, t := range r.byName {
		out[name] = r.tagOf[t]
	}
	r.mu.Unlock()
	return out
}
