package fulfillment

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	domain "github.com/complykit/dsr-engine/internal/domain/fulfillment"
	"github.com/complykit/dsr-engine/pkg/common/logger"
)

func testAutomatedLocation(t *testing.T, webhook bool, window time.Duration) *domain.Location {
	t.Helper()
	loc, err := domain.NewLocation(
		"crm-api",
		domain.SystemTypeAPI,
		domain.ExecutionTypeAutomated,
		[]domain.RequestType{domain.RequestTypeErasure, domain.RequestTypeAccess},
		10,
		domain.AutomatedConfig{
			Endpoint:         "https://crm.internal/privacy",
			Method:           "POST",
			AuthType:         "bearer",
			SuccessCondition: "status == 200",
			Webhook: domain.WebhookConfig{
				Enabled:        webhook,
				ExpectedWithin: window,
			},
		},
	)
	require.NoError(t, err)
	return loc
}

func testManualLocation(t *testing.T) *domain.Location {
	t.Helper()
	loc, err := domain.NewLocation(
		"paper-archive",
		domain.SystemTypeManual,
		domain.ExecutionTypeManual,
		[]domain.RequestType{domain.RequestTypeErasure},
		20,
		domain.ManualConfig{
			Instructions: "Purge subject files from the archive room",
			Contact:      "records@corp.example",
		},
	)
	require.NoError(t, err)
	return loc
}

func testPendingTask(t *testing.T) *domain.Task {
	t.Helper()
	return domain.NewTask(uuid.New(), testAutomatedLocation(t, false, 0), domain.RequestTypeErasure)
}

func testInProgressTask(t *testing.T) *domain.Task {
	t.Helper()
	task := testPendingTask(t)
	require.NoError(t, task.Start("worker-1"))
	return task
}

func testCompletedTask(t *testing.T) *domain.Task {
	t.Helper()
	task := testInProgressTask(t)
	require.NoError(t, task.Complete(map[string]any{"recordsDeleted": 42}))
	return task
}

func noopLogger() *logger.Logger { return logger.Noop() }
