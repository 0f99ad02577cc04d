package chat

import (
	"hash/fnv"
	"sync"
)

const registryShards = 32

// Registry is the directory of currently connected participants,
// client id to display name. Sharded so independent connection lifetimes
// never contend on one lock.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	clients map[string]string
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].clients = make(map[string]string)
	}
	return r
}

func (r *Registry) shard(clientID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(clientID))
	return &r.shards[h.Sum32()%registryShards]
}

func (r *Registry) Add(clientID, displayName string) {
	s := r.shard(clientID)
	s.mu.Lock()
	s.clients[clientID] = displayName
	s.mu.Unlock()
}

// Remove reports whether the id was present, so callers can run
// leave-side effects exactly once.
func (r *Registry) Remove(clientID string) bool {
	s := r.shard(clientID)
	s.mu.Lock()
	_, ok := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()
	return ok
}

func (r *Registry) Get(clientID string) (string, bool) {
	s := r.shard(clientID)
	s.mu.RLock()
	name, ok := s.clients[clientID]
	s.mu.RUnlock()
	return name, ok
}

func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.clients)
		s.mu.RUnlock()
	}
	return n
}

// Snapshot copies the registry contents. The copy is taken shard by shard,
// so it is consistent per shard but not across shards.
func (r *Registry) Snapshot() map[string]string {
	out := make(map[string]string)
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for id, name := range s.clients {
			out[id] = name
		}
		s.mu.RUnlock()
	}
	return out
}
