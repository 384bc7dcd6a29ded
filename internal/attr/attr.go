// Package attr holds the server's attribute table: a static set of records
// keyed by 16-bit handle, each with a fixed capacity and a mutable value.
package attr

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	ErrUnknownHandle  = errors.New("unknown attribute handle")
	ErrLengthExceeded = errors.New("value exceeds attribute capacity")
	ErrDuplicate      = errors.New("duplicate attribute handle")
)

// Perm is the access a client has to an attribute.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
)

func (p Perm) String() string {
	switch p {
	case PermRead:
		return "r"
	case PermWrite:
		return "w"
	case PermRead | PermWrite:
		return "rw"
	default:
		return "-"
	}
}

// Spec describes one attribute when building a Store.
type Spec struct {
	Handle uint16
	Type   ble.UUID
	MaxLen uint16
	Perm   Perm
	Value  []byte
}

// Record is a single attribute. The table shape (handle, type, capacity) is
// fixed; the value is replaced as a whole so readers never see a torn update.
type Record struct {
	Handle uint16
	Type   ble.UUID
	MaxLen uint16
	Perm   Perm

	value atomic.Pointer[[]byte]
}

// Value returns a copy of the current value.
func (r *Record) Value() []byte {
	cur := r.value.Load()
	out := make([]byte, len(*cur))
	copy(out, *cur)
	return out
}

// Len returns the current value length.
func (r *Record) Len() int {
	return len(*r.value.Load())
}

func (r *Record) Readable() bool { return r.Perm&PermRead != 0 }
func (r *Record) Writable() bool { return r.Perm&PermWrite != 0 }

// Set replaces the value. Values longer than MaxLen are rejected and the
// record is left untouched.
func (r *Record) Set(b []byte) error {
	if len(b) > int(r.MaxLen) {
		return fmt.Errorf("%w: handle 0x%04x holds %d bytes, got %d", ErrLengthExceeded, r.Handle, r.MaxLen, len(b))
	}
	v := make([]byte, len(b))
	copy(v, b)
	r.value.Store(&v)
	return nil
}

// Store is the attribute table, ordered by handle.
type Store struct {
	records []*Record
	index   map[uint16]*Record
}

// New builds a Store. Handles must be unique and initial values must fit.
func New(specs ...Spec) (*Store, error) {
	s := &Store{
		records: make([]*Record, 0, len(specs)),
		index:   make(map[uint16]*Record, len(specs)),
	}

	for _, spec := range specs {
		if _, ok := s.index[spec.Handle]; ok {
			return nil, fmt.Errorf("%w: 0x%04x", ErrDuplicate, spec.Handle)
		}
		r := &Record{
			Handle: spec.Handle,
			Type:   spec.Type,
			MaxLen: spec.MaxLen,
			Perm:   spec.Perm,
		}
		empty := []byte{}
		r.value.Store(&empty)
		if err := r.Set(spec.Value); err != nil {
			return nil, err
		}
		s.records = append(s.records, r)
		s.index[spec.Handle] = r
	}

	sort.Slice(s.records, func(i, j int) bool {
		return s.records[i].Handle < s.records[j].Handle
	})
	return s, nil
}

// Find looks a record up by handle.
func (s *Store) Find(h uint16) (*Record, bool) {
	r, ok := s.index[h]
	return r, ok
}

// Write replaces the value of handle h.
func (s *Store) Write(h uint16, b []byte) error {
	r, ok := s.index[h]
	if !ok {
		return fmt.Errorf("%w: 0x%04x", ErrUnknownHandle, h)
	}
	return r.Set(b)
}

// Value returns a copy of the value at handle h.
func (s *Store) Value(h uint16) ([]byte, error) {
	r, ok := s.index[h]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%04x", ErrUnknownHandle, h)
	}
	return r.Value(), nil
}

// FindFirstInRange returns the lowest-handle record within [start, end]
// whose type equals typ. Callers resume a scan by passing the previous
// handle + 1 as the next start.
func (s *Store) FindFirstInRange(start, end uint16, typ ble.UUID) (*Record, bool) {
	if start == 0 || start > end {
		return nil, false
	}
	i := sort.Search(len(s.records), func(i int) bool {
		return s.records[i].Handle >= start
	})
	for ; i < len(s.records) && s.records[i].Handle <= end; i++ {
		if s.records[i].Type.Equal(typ) {
			return s.records[i], true
		}
	}
	return nil, false
}

// Records returns the table in handle order.
func (s *Store) Records() []*Record {
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// Entry is the serialisable view of a record.
type Entry struct {
	Type   string `json:"type"`
	Perm   string `json:"perm"`
	MaxLen uint16 `json:"max_len"`
	Value  string `json:"value"`
}

// Dump snapshots the table keyed by "0x%04x" handle, in handle order.
func (s *Store) Dump() *orderedmap.OrderedMap[string, Entry] {
	om := orderedmap.New[string, Entry]()
	for _, r := range s.records {
		om.Set(fmt.Sprintf("0x%04x", r.Handle), Entry{
			Type:   r.Type.String(),
			Perm:   r.Perm.String(),
			MaxLen: r.MaxLen,
			Value:  fmt.Sprintf("%x", r.Value()),
		})
	}
	return om
}
