package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/internal/infra/storage"
)

// Ensure locationStore implements domain.LocationRepository at compile time.
var _ domain.LocationRepository = (*locationStore)(nil)

// locationStore implements domain.LocationRepository using Postgres. The
// engine only reads the registry; the write methods exist for the host
// application's admin surface and for tests.
type locationStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewLocationStore creates a LocationRepository backed by PostgreSQL.
func NewLocationStore(pool *pgxpool.Pool, tracer trace.Tracer) *locationStore {
	return &locationStore{pool: pool, tracer: tracer}
}

const locationColumns = `id, name, system_type, execution_type, supported_request_types,
priority, action_config, is_active, last_verified_at, created_at, updated_at`

// CreateLocation registers a new location.
func (s *locationStore) CreateLocation(ctx context.Context, loc *domain.Location) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("location_id", loc.ID().String()),
		attribute.String("name", loc.Name()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.create_location", dbAttrs, func(ctx context.Context) error {
		configJSON, err := encodeActionConfig(loc.ActionConfig())
		if err != nil {
			return err
		}

		_, err = s.pool.Exec(ctx, `
			INSERT INTO locations (`+locationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			loc.ID(),
			loc.Name(),
			string(loc.SystemType()),
			string(loc.ExecutionType()),
			requestTypesToStrings(loc.SupportedRequestTypes()),
			loc.Priority(),
			configJSON,
			loc.IsActive(),
			nullableTime(loc.LastVerifiedAt()),
			loc.CreatedAt(),
			loc.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("create location insert error: %w", err)
		}
		return nil
	})
}

// UpdateLocation persists edits to an existing location.
func (s *locationStore) UpdateLocation(ctx context.Context, loc *domain.Location) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("location_id", loc.ID().String()),
		attribute.Bool("is_active", loc.IsActive()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_location", dbAttrs, func(ctx context.Context) error {
		configJSON, err := encodeActionConfig(loc.ActionConfig())
		if err != nil {
			return err
		}

		tag, err := s.pool.Exec(ctx, `
			UPDATE locations SET
				name = $1,
				system_type = $2,
				execution_type = $3,
				supported_request_types = $4,
				priority = $5,
				action_config = $6,
				is_active = $7,
				last_verified_at = $8,
				updated_at = $9
			WHERE id = $10`,
			loc.Name(),
			string(loc.SystemType()),
			string(loc.ExecutionType()),
			requestTypesToStrings(loc.SupportedRequestTypes()),
			loc.Priority(),
			configJSON,
			loc.IsActive(),
			nullableTime(loc.LastVerifiedAt()),
			loc.UpdatedAt(),
			loc.ID(),
		)
		if err != nil {
			return fmt.Errorf("update location error: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrLocationNotFound
		}
		return nil
	})
}

// GetLocation retrieves a location by id.
func (s *locationStore) GetLocation(ctx context.Context, locationID uuid.UUID) (*domain.Location, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("location_id", locationID.String()))

	var loc *domain.Location
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_location", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE id = $1`, locationID)
		l, err := scanLocation(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrLocationNotFound
			}
			return fmt.Errorf("get location query error: %w", err)
		}
		loc = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// GetLocationByName retrieves a location by its unique display name. Used by
// the registry seeder to keep startup idempotent.
func (s *locationStore) GetLocationByName(ctx context.Context, name string) (*domain.Location, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("name", name))

	var loc *domain.Location
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_location_by_name", dbAttrs, func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `SELECT `+locationColumns+` FROM locations WHERE name = $1`, name)
		l, err := scanLocation(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrLocationNotFound
			}
			return fmt.Errorf("get location by name query error: %w", err)
		}
		loc = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return loc, nil
}

// ListActiveForRequestType returns active locations supporting the given
// request type, ordered by ascending priority.
func (s *locationStore) ListActiveForRequestType(ctx context.Context, rt domain.RequestType) ([]*domain.Location, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("request_type", rt.String()))

	var locations []*domain.Location
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_active_for_request_type", dbAttrs, func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx, `
			SELECT `+locationColumns+` FROM locations
			WHERE is_active AND $1 = ANY(supported_request_types)
			ORDER BY priority, created_at`, rt.String())
		if err != nil {
			return fmt.Errorf("list active locations query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			l, err := scanLocation(rows)
			if err != nil {
				return fmt.Errorf("scan location row: %w", err)
			}
			locations = append(locations, l)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate location rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locations, nil
}

func scanLocation(row rowScanner) (*domain.Location, error) {
	var (
		id                        uuid.UUID
		name                      string
		systemType, executionType string
		requestTypes              []string
		priority                  int
		configJSON                []byte
		isActive                  bool
		lastVerifiedAt            pgtype.Timestamptz
		createdAt, updatedAt      pgtype.Timestamptz
	)

	if err := row.Scan(
		&id, &name, &systemType, &executionType, &requestTypes,
		&priority, &configJSON, &isActive, &lastVerifiedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	config, err := decodeActionConfig(configJSON)
	if err != nil {
		return nil, err
	}

	return domain.ReconstructLocation(
		id,
		name,
		domain.SystemType(systemType),
		domain.ExecutionType(executionType),
		stringsToRequestTypes(requestTypes),
		priority,
		config,
		isActive,
		lastVerifiedAt.Time,
		createdAt.Time,
		updatedAt.Time,
	), nil
}

// actionConfigDoc is the JSONB representation of the ActionConfig union,
// discriminated by kind.
type actionConfigDoc struct {
	Kind      string                  `json:"kind"`
	Automated *domain.AutomatedConfig `json:"automated,omitempty"`
	Manual    *domain.ManualConfig    `json:"manual,omitempty"`
}

const (
	actionConfigKindAutomated = "automated"
	actionConfigKindManual    = "manual"
)

func encodeActionConfig(config domain.ActionConfig) ([]byte, error) {
	var doc actionConfigDoc
	switch c := config.(type) {
	case domain.AutomatedConfig:
		doc = actionConfigDoc{Kind: actionConfigKindAutomated, Automated: &c}
	case domain.ManualConfig:
		doc = actionConfigDoc{Kind: actionConfigKindManual, Manual: &c}
	default:
		return nil, fmt.Errorf("unknown action config type %T", config)
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode action config: %w", err)
	}
	return b, nil
}

func decodeActionConfig(data []byte) (domain.ActionConfig, error) {
	var doc actionConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode action config: %w", err)
	}

	switch doc.Kind {
	case actionConfigKindAutomated:
		if doc.Automated == nil {
			return nil, fmt.Errorf("action config kind %q missing payload", doc.Kind)
		}
		return *doc.Automated, nil
	case actionConfigKindManual:
		if doc.Manual == nil {
			return nil, fmt.Errorf("action config kind %q missing payload", doc.Kind)
		}
		return *doc.Manual, nil
	default:
		return nil, fmt.Errorf("unknown action config kind %q", doc.Kind)
	}
}

func requestTypesToStrings(types []domain.RequestType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

func stringsToRequestTypes(values []string) []domain.RequestType {
	out := make([]domain.RequestType, len(values))
	for i, v := range values {
		out[i] = domain.RequestType(v)
	}
	return out
}
