package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

// Registry tracks live terminal connections per tenant. Each doctor identity
// holds at most one connection; receptionists may hold any number.
type Registry struct {
	mu            sync.RWMutex
	doctors       map[uuid.UUID]map[uuid.UUID]*client
	receptionists map[uuid.UUID][]*client
}

func newRegistry() *Registry {
	return &Registry{
		doctors:       make(map[uuid.UUID]map[uuid.UUID]*client),
		receptionists: make(map[uuid.UUID][]*client),
	}
}

// add registers c and returns the connection of the same doctor that it
// displaced, if any.
func (r *Registry) add(c *client) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant := c.actor.TenantID()
	if c.actor.Role() == tenancy.RoleDoctor {
		byID := r.doctors[tenant]
		if byID == nil {
			byID = make(map[uuid.UUID]*client)
			r.doctors[tenant] = byID
		}
		prev := byID[c.actor.ID()]
		byID[c.actor.ID()] = c
		return prev
	}
	r.receptionists[tenant] = append(r.receptionists[tenant], c)
	return nil
}

// remove unregisters c. It reports false when c was not registered, which
// happens when a replaced doctor connection closes after its successor joined.
func (r *Registry) remove(c *client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant := c.actor.TenantID()
	if c.actor.Role() == tenancy.RoleDoctor {
		byID := r.doctors[tenant]
		if byID[c.actor.ID()] != c {
			return false
		}
		delete(byID, c.actor.ID())
		if len(byID) == 0 {
			delete(r.doctors, tenant)
		}
		return true
	}

	list := r.receptionists[tenant]
	for i, existing := range list {
		if existing != c {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.receptionists, tenant)
		} else {
			r.receptionists[tenant] = list
		}
		return true
	}
	return false
}

// tenant returns a snapshot of the connections serving tenant.
func (r *Registry) tenant(id uuid.UUID) []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*client, 0, len(r.receptionists[id])+len(r.doctors[id]))
	out = append(out, r.receptionists[id]...)
	for _, doc := range r.doctors[id] {
		out = append(out, doc)
	}
	return out
}

func (r *Registry) all() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*client
	for _, byID := range r.doctors {
		for _, doc := range byID {
			out = append(out, doc)
		}
	}
	for _, list := range r.receptionists {
		out = append(out, list...)
	}
	return out
}

// Count reports the live doctor and receptionist connections of a tenant.
func (r *Registry) Count(tenant uuid.UUID) (doctors, receptionists int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.doctors[tenant]), len(r.receptionists[tenant])
}
