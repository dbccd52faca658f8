package store

import (
	"fmt"
	"slices"
	"sync"
)

// Catalog holds the services of every entity sharing one adapter, plus the
// relationships declared between them. Rules resolve related entities
// through it with Service.Peer.
type Catalog struct {
	mu            sync.RWMutex
	services      map[string]*Service
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		services: make(map[string]*Service),
		byParent: make(map[string][]Relationship),
	}
}

// Register adds a service to the catalog and links the service back to it.
// Registering a second service under the same entity name is an error.
func (c *Catalog) Register(svc *Service) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.services[svc.name]; ok {
		return &ConfigurationError{Entity: svc.name, Reason: "entity registered twice in catalog"}
	}
	c.services[svc.name] = svc
	svc.catalog = c
	return nil
}

// Service returns the service registered for name.
func (c *Catalog) Service(name string) (*Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	svc, ok := c.services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
	return svc, nil
}

// Names returns the registered entity names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Relate records a relationship for introspection.
func (c *Catalog) Relate(rel Relationship) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.relationships = append(c.relationships, rel)
	c.byParent[rel.Parent] = append(c.byParent[rel.Parent], rel)
}

// ChildrenOf returns all relationships where parent is the referenced entity.
func (c *Catalog) ChildrenOf(parent string) []Relationship {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.byParent[parent])
}

// AllRelationships returns all recorded relationships.
func (c *Catalog) AllRelationships() []Relationship {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.relationships)
}

// HasChildren returns true if parent has any recorded child relationship.
func (c *Catalog) HasChildren(parent string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byParent[parent]) > 0
}
