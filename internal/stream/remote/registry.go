// Package remote es el lado miembro de los streams: registra los streams que
// abren los clientes y les empuja payloads.
package remote

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dropDatabas3/streamhub/internal/metrics"
	"github.com/dropDatabas3/streamhub/internal/transport"
)

// Stream es un stream físico abierto por un cliente remoto.
type Stream struct {
	ID         uuid.UUID
	Member     transport.MemberID
	StreamType []byte
	Metadata   []byte
}

type streamKey struct {
	member transport.MemberID
	id     uuid.UUID
}

// Registry indexa streams remotos por tipo. Thread-safe.
type Registry struct {
	mu     sync.RWMutex
	byKey  map[streamKey]Stream
	byType map[string][]streamKey
	cursor map[string]int
}

// NewRegistry crea un registry vacío.
func NewRegistry() *Registry {
	return &Registry{
		byKey:  make(map[streamKey]Stream),
		byType: make(map[string][]streamKey),
		cursor: make(map[string]int),
	}
}

// Add registra s. Devuelve false si ya estaba (add idempotente).
func (r *Registry) Add(s Stream) bool {
	k := streamKey{member: s.Member, id: s.ID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[k]; ok {
		return false
	}
	r.byKey[k] = s
	t := string(s.StreamType)
	r.byType[t] = append(r.byType[t], k)
	metrics.RemoteStreams.Inc()
	return true
}

// Remove elimina el stream id del miembro. Devuelve false si no existía.
func (r *Registry) Remove(member transport.MemberID, id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(streamKey{member: member, id: id})
}

// RemoveAll elimina todos los streams de member y devuelve cuántos había.
func (r *Registry) RemoveAll(member transport.MemberID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k := range r.byKey {
		if k.member == member && r.removeLocked(k) {
			n++
		}
	}
	return n
}

func (r *Registry) removeLocked(k streamKey) bool {
	s, ok := r.byKey[k]
	if !ok {
		return false
	}
	delete(r.byKey, k)
	t := string(s.StreamType)
	keys := r.byType[t]
	for i, other := range keys {
		if other == k {
			keys = append(keys[:i], keys[i+1:]...)
			break
		}
	}
	if len(keys) == 0 {
		delete(r.byType, t)
		delete(r.cursor, t)
	} else {
		r.byType[t] = keys
	}
	metrics.RemoteStreams.Dec()
	return true
}

// Streams devuelve los streams de streamType, rotando el punto de partida en
// cada llamada para repartir la carga entre clientes.
func (r *Registry) Streams(streamType []byte) []Stream {
	t := string(streamType)
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := r.byType[t]
	if len(keys) == 0 {
		return nil
	}
	start := r.cursor[t] % len(keys)
	r.cursor[t] = start + 1

	out := make([]Stream, 0, len(keys))
	for i := range keys {
		out = append(out, r.byKey[keys[(start+i)%len(keys)]])
	}
	return out
}

// Count devuelve el total de streams remotos.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
