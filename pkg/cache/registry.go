package cache

import (
	"sort"
	"sync"
)

// registry 按实体和操作登记当前存在的键，失效时不需要扫描整个缓存
type registry struct {
	mu       sync.Mutex
	entities map[string]map[string]map[string]struct{}
	owners   map[string]Key
	// generations 每次实体失效递增，用于丢弃失效前发起的回填
	generations map[string]uint64
}

func newRegistry() *registry {
	return &registry{
		entities:    make(map[string]map[string]map[string]struct{}),
		owners:      make(map[string]Key),
		generations: make(map[string]uint64),
	}
}

func (r *registry) add(k Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addLocked(k)
}

func (r *registry) addLocked(k Key) {
	ops, ok := r.entities[k.Entity]
	if !ok {
		ops = make(map[string]map[string]struct{})
		r.entities[k.Entity] = ops
	}
	ids, ok := ops[k.Operation]
	if !ok {
		ids = make(map[string]struct{})
		ops[k.Operation] = ids
	}
	ids[k.ID] = struct{}{}
	r.owners[k.ID] = k
}

// addIfCurrent 实体在 gen 之后被失效过则不登记，返回是否登记
func (r *registry) addIfCurrent(k Key, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generations[k.Entity] != gen {
		return false
	}
	r.addLocked(k)
	return true
}

func (r *registry) generation(entity string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[entity]
}

func (r *registry) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k, ok := r.owners[id]
	if !ok {
		return
	}
	delete(r.owners, id)
	ops := r.entities[k.Entity]
	delete(ops[k.Operation], id)
	if len(ops[k.Operation]) == 0 {
		delete(ops, k.Operation)
	}
	if len(ops) == 0 {
		delete(r.entities, k.Entity)
	}
}

// removeEntity 移除实体的全部登记并推进其代数，返回被移除的键
func (r *registry) removeEntity(entity string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[entity]++
	ops := r.entities[entity]
	delete(r.entities, entity)

	var ids []string
	for _, set := range ops {
		for id := range set {
			ids = append(ids, id)
			delete(r.owners, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) keys(entity, operation string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for op, set := range r.entities[entity] {
		if operation != "" && op != operation {
			continue
		}
		for id := range set {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *registry) entityNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for entity := range r.entities {
		r.generations[entity]++
	}
	r.entities = make(map[string]map[string]map[string]struct{})
	r.owners = make(map[string]Key)
}
