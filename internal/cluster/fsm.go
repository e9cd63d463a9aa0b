package cluster

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/dropDatabas3/streamhub/internal/transport"
)

// FSM mantiene el directorio de miembros replicado por Raft.
type FSM struct {
	mu      sync.RWMutex
	members map[transport.MemberID]MemberInfo
	notify  func(Event)
}

var _ raft.FSM = (*FSM)(nil)

func NewFSM() *FSM {
	return &FSM{members: make(map[transport.MemberID]MemberInfo)}
}

// OnEvent instala el callback de cambios. Se invoca fuera del lock del FSM.
func (f *FSM) OnEvent(fn func(Event)) {
	f.mu.Lock()
	f.notify = fn
	f.mu.Unlock()
}

// Apply decodifica la mutación y actualiza el directorio.
func (f *FSM) Apply(l *raft.Log) interface{} {
	if l == nil || len(l.Data) == 0 {
		return nil
	}
	var m Mutation
	if err := json.Unmarshal(l.Data, &m); err != nil {
		return err
	}
	if m.Member == "" {
		return fmt.Errorf("mutation %s without member", m.Type)
	}

	f.mu.Lock()
	var ev *Event
	switch m.Type {
	case MutationMemberJoin:
		if _, ok := f.members[m.Member]; !ok {
			ev = &Event{Member: m.Member, Joined: true}
		}
		f.members[m.Member] = MemberInfo{ID: m.Member, RaftAddr: m.RaftAddr, Since: m.TsUnix}
	case MutationMemberLeave:
		if _, ok := f.members[m.Member]; ok {
			delete(f.members, m.Member)
			ev = &Event{Member: m.Member}
		}
	default:
		f.mu.Unlock()
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
	notify := f.notify
	f.mu.Unlock()

	if ev != nil && notify != nil {
		notify(*ev)
	}
	return nil
}

// Members devuelve los ids del directorio ordenados.
func (f *FSM) Members() []transport.MemberID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]transport.MemberID, 0, len(f.members))
	for id := range f.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Member devuelve la entrada de id.
func (f *FSM) Member(id transport.MemberID) (MemberInfo, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.members[id]
	return m, ok
}

func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entries := make([]MemberInfo, 0, len(f.members))
	for _, m := range f.members {
		entries = append(entries, m)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return &dirSnap{members: entries}, nil
}

// Restore reemplaza el directorio y emite las diferencias con el estado previo.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var entries []MemberInfo
	if err := json.NewDecoder(rc).Decode(&entries); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	next := make(map[transport.MemberID]MemberInfo, len(entries))
	for _, m := range entries {
		next[m.ID] = m
	}

	f.mu.Lock()
	var events []Event
	for id := range f.members {
		if _, ok := next[id]; !ok {
			events = append(events, Event{Member: id})
		}
	}
	for id := range next {
		if _, ok := f.members[id]; !ok {
			events = append(events, Event{Member: id, Joined: true})
		}
	}
	f.members = next
	notify := f.notify
	f.mu.Unlock()

	if notify != nil {
		for _, ev := range events {
			notify(ev)
		}
	}
	return nil
}

type dirSnap struct{ members []MemberInfo }

func (s *dirSnap) Persist(sink raft.SnapshotSink) error {
	if err := json.NewEncoder(sink).Encode(s.members); err != nil {
		_ = sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *dirSnap) Release() {}
