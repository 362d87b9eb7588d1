package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func seedDefinition(t *testing.T, store *SQLStore, id string) *Definition {
	t.Helper()
	def := &Definition{
		ID:              id,
		TenantID:        "acme",
		IntegrationID:   "int-" + id,
		IntegrationType: "jira",
		ProcessorName:   "jira.issues",
		IsActive:        true,
		DefaultPriority: 5,
	}
	require.NoError(t, store.CreateDefinition(context.Background(), def))
	return def
}

func seedInstance(t *testing.T, store *SQLStore, defID string, status Status, priority int, start time.Time) *Instance {
	t.Helper()
	inst := &Instance{
		ID:                 NewInstanceID(),
		DefinitionID:       defID,
		Status:             status,
		Priority:           priority,
		ScheduledStartTime: start,
		Payload:            []byte(`{"since":"2024-01-01"}`),
	}
	require.NoError(t, store.CreateInstance(context.Background(), inst))
	return inst
}
