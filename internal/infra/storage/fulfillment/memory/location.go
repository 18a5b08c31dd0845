package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
)

var _ domain.LocationRepository = (*LocationStore)(nil)

// LocationStore is an in-memory location registry.
type LocationStore struct {
	mu        sync.Mutex
	locations map[uuid.UUID]*domain.Location
}

// NewLocationStore creates an empty in-memory location store.
func NewLocationStore() *LocationStore {
	return &LocationStore{locations: make(map[uuid.UUID]*domain.Location)}
}

// CreateLocation registers a new location.
func (s *LocationStore) CreateLocation(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.locations[loc.ID()] = snapshotLocation(loc)
	return nil
}

// UpdateLocation persists edits to an existing location.
func (s *LocationStore) UpdateLocation(ctx context.Context, loc *domain.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.locations[loc.ID()]; !ok {
		return domain.ErrLocationNotFound
	}
	s.locations[loc.ID()] = snapshotLocation(loc)
	return nil
}

// GetLocation retrieves a location by id.
func (s *LocationStore) GetLocation(ctx context.Context, locationID uuid.UUID) (*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[locationID]
	if !ok {
		return nil, domain.ErrLocationNotFound
	}
	return snapshotLocation(loc), nil
}

// ListActiveForRequestType returns active locations supporting the given
// request type, ordered by ascending priority.
func (s *LocationStore) ListActiveForRequestType(ctx context.Context, rt domain.RequestType) ([]*domain.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var locations []*domain.Location
	for _, loc := range s.locations {
		if loc.IsActive() && loc.Supports(rt) {
			locations = append(locations, snapshotLocation(loc))
		}
	}
	sort.Slice(locations, func(i, j int) bool {
		if locations[i].Priority() != locations[j].Priority() {
			return locations[i].Priority() < locations[j].Priority()
		}
		return locations[i].CreatedAt().Before(locations[j].CreatedAt())
	})
	return locations, nil
}

func snapshotLocation(loc *domain.Location) *domain.Location {
	types := make([]domain.RequestType, len(loc.SupportedRequestTypes()))
	copy(types, loc.SupportedRequestTypes())

	return domain.ReconstructLocation(
		loc.ID(),
		loc.Name(),
		loc.SystemType(),
		loc.ExecutionType(),
		types,
		loc.Priority(),
		loc.ActionConfig(),
		loc.IsActive(),
		loc.LastVerifiedAt(),
		loc.CreatedAt(),
		loc.UpdatedAt(),
	)
}
