package xsched

import "sync"

// groupRegistry 引擎持有的分组注册表。
// 工作项只保存分组 ID 弱引用，经注册表回查；分组销毁后回查
// 落空，终态通知自然跳过，不会复活已销毁的分组。
type groupRegistry struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

func newGroupRegistry() *groupRegistry {
	return &groupRegistry{groups: make(map[string]*Group)}
}

func (r *groupRegistry) add(g *Group) {
	r.mu.Lock()
	r.groups[g.id] = g
	r.mu.Unlock()
}

func (r *groupRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.groups, id)
	r.mu.Unlock()
}

func (r *groupRegistry) lookup(id string) *Group {
	r.mu.RLock()
	g := r.groups[id]
	r.mu.RUnlock()
	return g
}

func (r *groupRegistry) list() []*Group {
	r.mu.RLock()
	groups := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		groups = append(groups, g)
	}
	r.mu.RUnlock()
	return groups
}

func (r *groupRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
