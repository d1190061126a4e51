package collab

import (
	"sync"

	"golang.org/x/exp/maps"
)

// EntityStore is the document-side surface this core mutates when remote
// edits arrive. The store owns widget truth; the session never keeps a
// second copy beyond transient message payloads.
//
// Implementations must be callable synchronously and must not broadcast
// back into the session on update, or remote mutations would echo.
type EntityStore interface {
	// InsertEntity adds a new entity. The entity map carries its own "id".
	InsertEntity(entity map[string]any)
	// UpdateEntity assigns the given fields on an existing entity.
	// Assignment, not increment: reapplying the same changes is a no-op.
	UpdateEntity(entityId string, changes map[string]any)
	// RemoveEntity drops the entity. Removing an unknown id is a no-op.
	RemoveEntity(entityId string)
	GetEntity(entityId string) (map[string]any, bool)
}

// MemoryStore is a map-backed EntityStore for tests and tooling.
type MemoryStore struct {
	mutex    sync.Mutex
	entities map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: map[string]map[string]any{},
	}
}

func (self *MemoryStore) InsertEntity(entity map[string]any) {
	entityId, ok := entity["id"].(string)
	if !ok || entityId == "" {
		return
	}
	self.mutex.Lock()
	defer self.mutex.Unlock()
	self.entities[entityId] = maps.Clone(entity)
}

func (self *MemoryStore) UpdateEntity(entityId string, changes map[string]any) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	entity, ok := self.entities[entityId]
	if !ok {
		return
	}
	for field, value := range changes {
		entity[field] = value
	}
}

func (self *MemoryStore) RemoveEntity(entityId string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.entities, entityId)
}

func (self *MemoryStore) GetEntity(entityId string) (map[string]any, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	entity, ok := self.entities[entityId]
	if !ok {
		return nil, false
	}
	return maps.Clone(entity), true
}

func (self *MemoryStore) Size() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.entities)
}
