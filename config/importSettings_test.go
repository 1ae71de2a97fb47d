package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func clearPubSubEnv(t *testing.T) {
	t.Setenv("PUBSUB_PROJECT_ID", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GCP_PROJECT", "")
}

func TestLoadImportSettingsDefaults(t *testing.T) {
	clearPubSubEnv(t)
	t.Setenv("IMPORT_EXECUTION_MODE", "")
	assert.Equal(t, DefaultImportSettings(), LoadImportSettings())
}

func TestLoadImportSettingsFromEnv(t *testing.T) {
	clearPubSubEnv(t)
	t.Setenv("IMPORT_CONFIDENCE_WEIGHTS", "0.1, 0.2, 0.3, 0.4")
	t.Setenv("IMPORT_AUTO_APPROVE_THRESHOLD", "0.9")
	t.Setenv("IMPORT_TAX_TOLERANCE", "0.02")
	t.Setenv("IMPORT_STREAM_BATCH_SIZE", "250")
	t.Setenv("IMPORT_CHUNK_SESSION_TTL", "2h")
	t.Setenv("IMPORT_JANITOR_SCHEDULE", "@every 1m")
	t.Setenv("IMPORT_EXECUTION_MODE", "PubSub")
	t.Setenv("IMPORT_ITEM_TOPIC", "items-eu")
	t.Setenv("OUTBOX_PROCESS_MAX_ATTEMPTS", "3")
	t.Setenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS", "1")

	s := LoadImportSettings()
	assert.Equal(t, 0.1, s.WeightParser)
	assert.Equal(t, 0.4, s.WeightValidation)
	assert.Equal(t, 0.9, s.AutoApproveThreshold)
	assert.Equal(t, 0.70, s.ConfirmThreshold)
	assert.Equal(t, 0.02, s.TaxTolerance)
	assert.Equal(t, 250, s.StreamBatchSize)
	assert.Equal(t, 2*time.Hour, s.ChunkSessionTTL)
	assert.Equal(t, "@every 1m", s.JanitorSchedule)
	assert.Equal(t, ExecutionModePubSub, s.ExecutionMode)
	assert.Equal(t, "items-eu", s.ItemTopic)
	assert.Equal(t, 3, s.OutboxMaxAttempts)
	assert.Equal(t, time.Second, s.OutboxBaseBackoff)
	assert.Equal(t, 10*time.Minute, s.OutboxMaxBackoff)
}

func TestLoadImportSettingsIgnoresBadValues(t *testing.T) {
	clearPubSubEnv(t)
	t.Setenv("IMPORT_CONFIDENCE_WEIGHTS", "0.1,0.2,-0.3,0.4")
	t.Setenv("IMPORT_FACET_THRESHOLD", "high")
	t.Setenv("IMPORT_ITEM_LOCK_TTL", "-5s")
	t.Setenv("IMPORT_EXECUTION_MODE", "kafka")

	def := DefaultImportSettings()
	s := LoadImportSettings()
	assert.Equal(t, def.WeightParser, s.WeightParser)
	assert.Equal(t, def.WeightValidation, s.WeightValidation)
	assert.Equal(t, def.FacetThreshold, s.FacetThreshold)
	assert.Equal(t, def.ItemLockTTL, s.ItemLockTTL)
	assert.Equal(t, ExecutionModeInline, s.ExecutionMode)
}

func TestExecutionModeFollowsPubSubProject(t *testing.T) {
	clearPubSubEnv(t)
	t.Setenv("IMPORT_EXECUTION_MODE", "")
	t.Setenv("PUBSUB_PROJECT_ID", "books-prod")
	assert.Equal(t, ExecutionModePubSub, LoadImportSettings().ExecutionMode)
}
