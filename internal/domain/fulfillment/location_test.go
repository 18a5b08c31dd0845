package fulfillment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocation_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		locName       string
		executionType ExecutionType
		requestTypes  []RequestType
		actionConfig  ActionConfig
		wantErr       bool
	}{
		{
			name:          "valid automated location",
			locName:       "billing-api",
			executionType: ExecutionTypeAutomated,
			requestTypes:  []RequestType{RequestTypeErasure},
			actionConfig:  AutomatedConfig{Endpoint: "https://billing/privacy", Method: "POST"},
		},
		{
			name:          "valid manual location",
			locName:       "warehouse",
			executionType: ExecutionTypeManual,
			requestTypes:  []RequestType{RequestTypeAccess},
			actionConfig:  ManualConfig{Instructions: "pull records"},
		},
		{
			name:          "empty name",
			locName:       "",
			executionType: ExecutionTypeAutomated,
			requestTypes:  []RequestType{RequestTypeErasure},
			actionConfig:  AutomatedConfig{},
			wantErr:       true,
		},
		{
			name:          "no supported request types",
			locName:       "billing-api",
			executionType: ExecutionTypeAutomated,
			requestTypes:  nil,
			actionConfig:  AutomatedConfig{},
			wantErr:       true,
		},
		{
			name:          "nil action config",
			locName:       "billing-api",
			executionType: ExecutionTypeAutomated,
			requestTypes:  []RequestType{RequestTypeErasure},
			actionConfig:  nil,
			wantErr:       true,
		},
		{
			name:          "manual execution with automated config",
			locName:       "warehouse",
			executionType: ExecutionTypeManual,
			requestTypes:  []RequestType{RequestTypeErasure},
			actionConfig:  AutomatedConfig{},
			wantErr:       true,
		},
		{
			name:          "automated execution with manual config",
			locName:       "billing-api",
			executionType: ExecutionTypeAutomated,
			requestTypes:  []RequestType{RequestTypeErasure},
			actionConfig:  ManualConfig{},
			wantErr:       true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			loc, err := NewLocation(tt.locName, SystemTypeAPI, tt.executionType, tt.requestTypes, 10, tt.actionConfig)
			if tt.wantErr {
				var validation *ValidationError
				require.ErrorAs(t, err, &validation)
				return
			}
			require.NoError(t, err)
			assert.True(t, loc.IsActive())
		})
	}
}

func TestLocation_Supports(t *testing.T) {
	t.Parallel()

	loc, err := NewLocation("crm", SystemTypeDatabase, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure, RequestTypeAccess}, 5, AutomatedConfig{})
	require.NoError(t, err)

	assert.True(t, loc.Supports(RequestTypeErasure))
	assert.True(t, loc.Supports(RequestTypeAccess))
	assert.False(t, loc.Supports(RequestTypePortability))
}

func TestLocation_MaxAttempts(t *testing.T) {
	t.Parallel()

	withCap, err := NewLocation("a", SystemTypeAPI, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure}, 1, AutomatedConfig{MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, withCap.MaxAttempts())

	withoutCap, err := NewLocation("b", SystemTypeAPI, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure}, 1, AutomatedConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, withoutCap.MaxAttempts())

	manual, err := NewLocation("c", SystemTypeManual, ExecutionTypeManual,
		[]RequestType{RequestTypeErasure}, 1, ManualConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, manual.MaxAttempts())
}

func TestLocation_CallbackWindow(t *testing.T) {
	t.Parallel()

	enabled, err := NewLocation("a", SystemTypeAPI, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure}, 1,
		AutomatedConfig{Webhook: WebhookConfig{Enabled: true, ExpectedWithin: 2 * time.Hour}})
	require.NoError(t, err)

	window, ok := enabled.CallbackWindow()
	assert.True(t, ok)
	assert.Equal(t, 2*time.Hour, window)
	assert.True(t, enabled.WebhookEnabled())

	disabled, err := NewLocation("b", SystemTypeAPI, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure}, 1, AutomatedConfig{})
	require.NoError(t, err)

	_, ok = disabled.CallbackWindow()
	assert.False(t, ok)
	assert.False(t, disabled.WebhookEnabled())
}

func TestLocation_Deactivate(t *testing.T) {
	t.Parallel()

	loc, err := NewLocation("crm", SystemTypeDatabase, ExecutionTypeAutomated,
		[]RequestType{RequestTypeErasure}, 5, AutomatedConfig{})
	require.NoError(t, err)

	loc.Deactivate()
	assert.False(t, loc.IsActive())
}
