package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/discoverly/edgeschema/internal/schema"
)

// DomainStore provides an in-memory schema.DomainStore implementation.
type DomainStore struct {
	mu      sync.RWMutex
	byID    map[int64]schema.Domain
	byName  map[string]int64
	nextID  int64
}

// NewDomainStore constructs a DomainStore.
func NewDomainStore() *DomainStore {
	return &DomainStore{
		byID:   make(map[int64]schema.Domain),
		byName: make(map[string]int64),
		nextID: 1,
	}
}

// GetDomain fetches a domain by ID.
func (s *DomainStore) GetDomain(_ context.Context, id int64) (schema.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return schema.Domain{}, schema.ErrDomainNotFound
	}
	return d, nil
}

// GetByHostname fetches a domain by its registered hostname.
func (s *DomainStore) GetByHostname(_ context.Context, name string) (schema.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return schema.Domain{}, schema.ErrDomainNotFound
	}
	return s.byID[id], nil
}

// CreateDomain registers a domain and assigns its ID.
func (s *DomainStore) CreateDomain(_ context.Context, domain schema.Domain) (schema.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToLower(domain.Name)
	if id, exists := s.byName[name]; exists {
		return s.byID[id], nil
	}
	domain.ID = s.nextID
	domain.Name = name
	s.nextID++
	s.byID[domain.ID] = domain
	s.byName[name] = domain.ID
	return domain, nil
}

// MarkAnalyzed increments the analyzed-page counter and stamps LastAnalyzed.
func (s *DomainStore) MarkAnalyzed(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return schema.ErrDomainNotFound
	}
	d.PagesAnalyzed++
	ts := at
	d.LastAnalyzed = &ts
	s.byID[id] = d
	return nil
}
