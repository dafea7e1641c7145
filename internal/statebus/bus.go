// Package statebus is the key/value and pub-sub surface the controller talks to:
// device telemetry arrives as acknowledged writes, commands leave as
// unacknowledged writes, and published controller values are retained here.
package statebus

import (
	"context"
	"log"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
)

// State is a retained value with its change metadata.
type State struct {
	Value      any
	LastChange time.Time
	Ack        bool
}

// Predicate filters which writes reach a handler.
type Predicate func(old, cur State) bool

// Handler receives matching writes. old is the zero State on first write.
type Handler func(key string, old, cur State)

// Bus is the Device & State Bus contract.
type Bus interface {
	Read(key string) (State, bool)
	Write(key string, value any, ack bool)
	Subscribe(pattern string, pred Predicate, h Handler) (unsubscribe func())
}

// Changed matches writes whose value differs from the previous one.
func Changed(old, cur State) bool {
	return !Equal(old.Value, cur.Value)
}

// AckChanged matches value changes reported by the device side.
func AckChanged(old, cur State) bool {
	return cur.Ack && Changed(old, cur)
}

// Acknowledged matches acknowledged writes that change the value or confirm a
// pending request for it.
func Acknowledged(old, cur State) bool {
	return cur.Ack && (!old.Ack || Changed(old, cur))
}

// CommandChanged matches value changes that are requests (not yet acknowledged).
func CommandChanged(old, cur State) bool {
	return !cur.Ack && Changed(old, cur)
}

// Commands matches every unacknowledged write, repeated values included.
func Commands(_, cur State) bool {
	return !cur.Ack
}

// Persistence stores retained values across restarts.
type Persistence interface {
	LoadAll(ctx context.Context) (map[string]State, error)
	Put(ctx context.Context, key string, st State) error
}

type subscription struct {
	pattern string
	pred    Predicate
	handler Handler
}

// Memory is an in-process Bus. Handlers run synchronously on the writer's
// goroutine after the bus lock has been released.
type Memory struct {
	now func() time.Time

	mu       sync.Mutex
	states   map[string]State
	subs     map[int]subscription
	nextID   int
	persist  Persistence
	prefixes []string
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:    now,
		states: make(map[string]State),
		subs:   make(map[int]subscription),
	}
}

// AttachPersistence restores retained values and stores future writes of keys
// matching one of prefixes.
func (m *Memory) AttachPersistence(ctx context.Context, p Persistence, prefixes ...string) error {
	stored, err := p.LoadAll(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, st := range stored {
		m.states[key] = st
	}
	m.persist = p
	m.prefixes = append([]string(nil), prefixes...)
	return nil
}

func (m *Memory) Read(key string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[key]
	return st, ok
}

func (m *Memory) Write(key string, value any, ack bool) {
	m.mu.Lock()
	old, exists := m.states[key]
	cur := State{Value: value, Ack: ack, LastChange: old.LastChange}
	if !exists || !Equal(old.Value, value) {
		cur.LastChange = m.now()
	}
	m.states[key] = cur

	var matched []subscription
	for _, id := range m.sortedIDs() {
		sub := m.subs[id]
		if matchPattern(sub.pattern, key) && (sub.pred == nil || sub.pred(old, cur)) {
			matched = append(matched, sub)
		}
	}
	persist := m.persist != nil && m.persisted(key)
	m.mu.Unlock()

	if persist {
		if err := m.persist.Put(context.Background(), key, cur); err != nil {
			log.Printf("statebus: persist %s: %v", key, err)
		}
	}
	for _, sub := range matched {
		sub.handler(key, old, cur)
	}
}

// Seed installs a state verbatim without notifying subscribers.
func (m *Memory) Seed(key string, st State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = st
}

func (m *Memory) Subscribe(pattern string, pred Predicate, h Handler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = subscription{pattern: pattern, pred: pred, handler: h}
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Memory) sortedIDs() []int {
	ids := make([]int, 0, len(m.subs))
	for id := 0; id < m.nextID; id++ {
		if _, ok := m.subs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Memory) persisted(key string) bool {
	for _, prefix := range m.prefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

// Equal compares bus values, treating all numeric kinds alike.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		if fb, ok := number(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Float coerces numeric values and numeric strings.
func Float(v any) (float64, bool) {
	if f, ok := number(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// String returns string values as-is and formats anything else.
func String(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	default:
		if f, ok := number(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return ""
	}
}

// Bool coerces booleans and their common textual/numeric forms.
func Bool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return err == nil && parsed
	default:
		f, ok := number(v)
		return ok && f != 0
	}
}

// Millis converts a timestamp to the Unix milliseconds published on the bus;
// the zero time maps to 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(v any) time.Time {
	f, ok := Float(v)
	if !ok || f <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(f))
}
