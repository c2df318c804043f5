package services

import (
	"math/rand"
	"sort"

	"github.com/PwzXxm/nrpc-lite/pstorage"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// Ledger is a key -> int store with set, incr and move. Every action
// carries the caller's id and a per-caller request id, so a retried
// action is applied once.
type Ledger struct {
	lock            deadlock.RWMutex
	data            map[string]int
	latestRequestID map[string]uint32
	storage         pstorage.PersistentStorage
}

// LedgerState is what a persistent ledger saves after every update
type LedgerState struct {
	Data            map[string]int
	LatestRequestID map[string]uint32
}

func NewLedger() *Ledger {
	return &Ledger{
		data:            make(map[string]int),
		latestRequestID: make(map[string]uint32),
	}
}

// NewPersistentLedger restores the ledger from storage and saves every
// successful update back to it
func NewPersistentLedger(storage pstorage.PersistentStorage) (*Ledger, error) {
	l := NewLedger()
	var state LedgerState
	ok, err := storage.Load(&state)
	if err != nil {
		return nil, err
	}
	if ok {
		for k, v := range state.Data {
			l.data[k] = v
		}
		for k, v := range state.LatestRequestID {
			l.latestRequestID[k] = v
		}
	}
	l.storage = storage
	return l, nil
}

type ActionType int

const (
	ActionSet ActionType = iota
	ActionIncr
	ActionMove
)

// Action is the argument of every ledger update
type Action struct {
	Type   ActionType
	Target string
	// Source is only used by ActionMove
	Source string
	Value  int
	// request info
	ClientID  string
	RequestID uint32
}

func (l *Ledger) Apply(a Action) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	// check duplicate
	if last, ok := l.latestRequestID[a.ClientID]; ok && last == a.RequestID {
		return nil
	}

	switch a.Type {
	case ActionSet:
		l.data[a.Target] = a.Value
	case ActionIncr:
		v, ok := l.data[a.Target]
		if !ok {
			return errors.Errorf("invalid key: %v", a.Target)
		}
		l.data[a.Target] = v + a.Value
	case ActionMove:
		sv, ok := l.data[a.Source]
		if !ok {
			return errors.Errorf("invalid key for source: %v", a.Source)
		}
		tv, ok := l.data[a.Target]
		if !ok {
			return errors.Errorf("invalid key for target: %v", a.Target)
		}
		if sv < a.Value {
			return errors.Errorf("insufficient value in %v: %v < %v", a.Source, sv, a.Value)
		}
		l.data[a.Source] = sv - a.Value
		l.data[a.Target] = tv + a.Value
	default:
		return errors.Errorf("unknown action %v", a.Type)
	}
	// failed actions may be retried with the same id
	l.latestRequestID[a.ClientID] = a.RequestID
	if l.storage != nil {
		return l.storage.Save(LedgerState{Data: l.data, LatestRequestID: l.latestRequestID})
	}
	return nil
}

func (l *Ledger) Get(key string) (int, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	v, ok := l.data[key]
	return v, ok
}

func (l *Ledger) LatestRequest(clientID string) (uint32, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	v, ok := l.latestRequestID[clientID]
	return v, ok
}

// Keys returns the stored keys in order
func (l *Ledger) Keys() []string {
	l.lock.RLock()
	defer l.lock.RUnlock()
	keys := make([]string, 0, len(l.data))
	for k := range l.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ActionBuilder stamps actions with a client id and increasing request ids
type ActionBuilder struct {
	lock          deadlock.Mutex
	clientID      string
	lastRequestID uint32
}

func NewActionBuilder(clientID string) *ActionBuilder {
	return &ActionBuilder{clientID: clientID, lastRequestID: rand.Uint32()}
}

func (b *ActionBuilder) build(a Action) Action {
	b.lock.Lock()
	b.lastRequestID++
	a.RequestID = b.lastRequestID
	b.lock.Unlock()
	a.ClientID = b.clientID
	return a
}

func (b *ActionBuilder) Set(key string, value int) Action {
	return b.build(Action{Type: ActionSet, Target: key, Value: value})
}

func (b *ActionBuilder) Incr(key string, value int) Action {
	return b.build(Action{Type: ActionIncr, Target: key, Value: value})
}

func (b *ActionBuilder) Move(source, target string, value int) Action {
	return b.build(Action{Type: ActionMove, Source: source, Target: target, Value: value})
}
