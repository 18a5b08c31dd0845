package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

// SystemType categorizes the kind of system a location represents.
type SystemType string

const (
	SystemTypeDatabase    SystemType = "database"
	SystemTypeAPI         SystemType = "api"
	SystemTypeManual      SystemType = "manual"
	SystemTypeFileStorage SystemType = "file-storage"
	SystemTypeThirdParty  SystemType = "third-party"
)

// ExecutionType describes how a location executes fulfillment work.
type ExecutionType string

const (
	ExecutionTypeAutomated     ExecutionType = "automated"
	ExecutionTypeSemiAutomated ExecutionType = "semi-automated"
	ExecutionTypeManual        ExecutionType = "manual"
)

// DefaultMaxAttempts is used when a location's action config does not specify
// its own attempt limit.
const DefaultMaxAttempts = 3

// ActionConfig describes how work is carried out at a location. It is a
// closed union: exactly AutomatedConfig or ManualConfig. Execution strategy
// selection switches exhaustively on the concrete type.
type ActionConfig interface {
	isActionConfig()
}

// WebhookConfig controls asynchronous completion callbacks for automated
// locations.
type WebhookConfig struct {
	// Enabled marks the location as completing asynchronously: the executor
	// parks the task in awaiting_callback until the external system calls
	// back with the task's correlation id.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ExpectedWithin bounds how long a callback may take. The engine does not
	// run its own timers on it; the sweeper uses it to fail overdue tasks.
	ExpectedWithin time.Duration `yaml:"expected_within" json:"expectedWithin"`
}

// AutomatedConfig describes an API-endpoint execution strategy.
type AutomatedConfig struct {
	// Endpoint is the URL the executor calls to perform the action.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Method is the HTTP method used against the endpoint.
	Method string `yaml:"method" json:"method"`

	// AuthType names the credential scheme (e.g. "bearer", "basic", "hmac").
	// Credential material itself is resolved by the host application.
	AuthType string `yaml:"auth_type" json:"authType"`

	// SuccessCondition is an expression evaluated against the response to
	// decide whether execution succeeded (e.g. "status == 200").
	SuccessCondition string `yaml:"success_condition" json:"successCondition"`

	// MaxAttempts caps execution attempts for tasks at this location.
	// Zero means DefaultMaxAttempts.
	MaxAttempts int `yaml:"max_attempts" json:"maxAttempts"`

	// Webhook configures asynchronous completion, if any.
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

func (AutomatedConfig) isActionConfig() {}

// ManualConfig describes a human-operated execution strategy.
type ManualConfig struct {
	// Instructions tell the assignee what to do at this location.
	Instructions string `yaml:"instructions" json:"instructions"`

	// Checklist enumerates the steps the assignee confirms on completion.
	Checklist []string `yaml:"checklist" json:"checklist"`

	// Contact identifies who to reach when the instructions are unclear.
	Contact string `yaml:"contact" json:"contact"`
}

func (ManualConfig) isActionConfig() {}

// Location is a registered system believed to store personal data relevant to
// data-subject requests. Locations are administrated outside the engine; the
// engine reads them to plan fan-out and to parameterize task execution.
// Locations are never hard-deleted, deactivation is a soft flag.
type Location struct {
	id                    uuid.UUID
	name                  string
	systemType            SystemType
	executionType         ExecutionType
	supportedRequestTypes []RequestType
	priority              int
	actionConfig          ActionConfig
	isActive              bool
	lastVerifiedAt        time.Time
	createdAt             time.Time
	updatedAt             time.Time
}

// NewLocation creates a new Location. Any location expected to receive tasks
// must support at least one request type.
func NewLocation(
	name string,
	systemType SystemType,
	executionType ExecutionType,
	supportedRequestTypes []RequestType,
	priority int,
	actionConfig ActionConfig,
) (*Location, error) {
	if name == "" {
		return nil, NewValidationError("name", "must not be empty")
	}
	if len(supportedRequestTypes) == 0 {
		return nil, NewValidationError("supportedRequestTypes", "must not be empty")
	}
	if actionConfig == nil {
		return nil, NewValidationError("actionConfig", "must be set")
	}
	if _, ok := actionConfig.(ManualConfig); ok != (executionType == ExecutionTypeManual) {
		return nil, NewValidationError("actionConfig", "config kind must match execution type")
	}

	now := time.Now().UTC()
	return &Location{
		id:                    uuid.New(),
		name:                  name,
		systemType:            systemType,
		executionType:         executionType,
		supportedRequestTypes: supportedRequestTypes,
		priority:              priority,
		actionConfig:          actionConfig,
		isActive:              true,
		createdAt:             now,
		updatedAt:             now,
	}, nil
}

// ReconstructLocation creates a Location instance from persisted data without
// enforcing creation-time invariants. This should only be used by repositories
// when reconstructing from storage.
func ReconstructLocation(
	id uuid.UUID,
	name string,
	systemType SystemType,
	executionType ExecutionType,
	supportedRequestTypes []RequestType,
	priority int,
	actionConfig ActionConfig,
	isActive bool,
	lastVerifiedAt time.Time,
	createdAt time.Time,
	updatedAt time.Time,
) *Location {
	return &Location{
		id:                    id,
		name:                  name,
		systemType:            systemType,
		executionType:         executionType,
		supportedRequestTypes: supportedRequestTypes,
		priority:              priority,
		actionConfig:          actionConfig,
		isActive:              isActive,
		lastVerifiedAt:        lastVerifiedAt,
		createdAt:             createdAt,
		updatedAt:             updatedAt,
	}
}

// ID returns the unique identifier of this location.
func (l *Location) ID() uuid.UUID { return l.id }

// Name returns the display name of this location.
func (l *Location) Name() string { return l.name }

// SystemType returns the kind of system this location represents.
func (l *Location) SystemType() SystemType { return l.systemType }

// ExecutionType returns how this location executes fulfillment work.
func (l *Location) ExecutionType() ExecutionType { return l.executionType }

// SupportedRequestTypes returns the request types this location can fulfill.
func (l *Location) SupportedRequestTypes() []RequestType { return l.supportedRequestTypes }

// Priority returns the fan-out ordering priority, lower executes first.
func (l *Location) Priority() int { return l.priority }

// ActionConfig returns the execution strategy configuration.
func (l *Location) ActionConfig() ActionConfig { return l.actionConfig }

// IsActive reports whether this location participates in fan-out.
func (l *Location) IsActive() bool { return l.isActive }

// LastVerifiedAt returns when an administrator last verified this location's
// configuration.
func (l *Location) LastVerifiedAt() time.Time { return l.lastVerifiedAt }

// CreatedAt returns when this location was registered.
func (l *Location) CreatedAt() time.Time { return l.createdAt }

// UpdatedAt returns when this location was last edited.
func (l *Location) UpdatedAt() time.Time { return l.updatedAt }

// Supports reports whether this location can fulfill the given request type.
func (l *Location) Supports(rt RequestType) bool {
	for _, t := range l.supportedRequestTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// Deactivate soft-disables the location so future fan-outs skip it.
func (l *Location) Deactivate() {
	l.isActive = false
	l.updatedAt = time.Now().UTC()
}

// MarkVerified records an administrator's confirmation that the location's
// configuration is current.
func (l *Location) MarkVerified(at time.Time) {
	l.lastVerifiedAt = at
	l.updatedAt = time.Now().UTC()
}

// MaxAttempts returns the attempt cap tasks at this location inherit. Manual
// locations and automated configs without an explicit limit use
// DefaultMaxAttempts.
func (l *Location) MaxAttempts() int {
	if cfg, ok := l.actionConfig.(AutomatedConfig); ok && cfg.MaxAttempts > 0 {
		return cfg.MaxAttempts
	}
	return DefaultMaxAttempts
}

// WebhookEnabled reports whether tasks at this location complete via an
// asynchronous callback.
func (l *Location) WebhookEnabled() bool {
	cfg, ok := l.actionConfig.(AutomatedConfig)
	return ok && cfg.Webhook.Enabled
}

// CallbackWindow returns how long a callback may take before the task is
// considered overdue, and whether a window is configured at all.
func (l *Location) CallbackWindow() (time.Duration, bool) {
	cfg, ok := l.actionConfig.(AutomatedConfig)
	if !ok || !cfg.Webhook.Enabled || cfg.Webhook.ExpectedWithin <= 0 {
		return 0, false
	}
	return cfg.Webhook.ExpectedWithin, true
}
