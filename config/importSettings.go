package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ExecutionModeInline = "inline"
	ExecutionModePubSub = "pubsub"
)

// ImportSettings carries every tunable of the import pipeline. Values come
// from the environment (see LoadImportSettings); zero values are never used
// directly, defaults are applied at load time.
type ImportSettings struct {
	// Confidence weights in parser, doc-type, mapping, validation order.
	WeightParser     float64
	WeightDocType    float64
	WeightMapping    float64
	WeightValidation float64

	AutoApproveThreshold float64
	ConfirmThreshold     float64
	FacetThreshold       float64

	TaxTolerance float64

	StreamBatchSize int
	ChunkSize       int64
	ChunkSessionTTL time.Duration
	JanitorSchedule string

	ExecutionMode     string
	ItemTopic         string
	ItemSubscription  string
	WorkerConcurrency int
	ItemLockTTL       time.Duration

	OutboxTopic        string
	OutboxMaxAttempts  int
	OutboxBaseBackoff  time.Duration
	OutboxMaxBackoff   time.Duration
	OutboxPollInterval time.Duration
}

func DefaultImportSettings() ImportSettings {
	return ImportSettings{
		WeightParser:         0.20,
		WeightDocType:        0.25,
		WeightMapping:        0.30,
		WeightValidation:     0.25,
		AutoApproveThreshold: 0.85,
		ConfirmThreshold:     0.70,
		FacetThreshold:       0.70,
		TaxTolerance:         0.05,
		StreamBatchSize:      500,
		ChunkSize:            5 * 1024 * 1024,
		ChunkSessionTTL:      24 * time.Hour,
		JanitorSchedule:      "@every 15m",
		ExecutionMode:        ExecutionModeInline,
		ItemTopic:            "import-items",
		ItemSubscription:     "import-items-worker",
		WorkerConcurrency:    10,
		ItemLockTTL:          5 * time.Minute,
		OutboxTopic:          "import-postings",
		OutboxMaxAttempts:    10,
		OutboxBaseBackoff:    5 * time.Second,
		OutboxMaxBackoff:     10 * time.Minute,
		OutboxPollInterval:   2 * time.Second,
	}
}

// LoadImportSettings reads:
//   - IMPORT_CONFIDENCE_WEIGHTS="0.20,0.25,0.30,0.25"
//   - IMPORT_AUTO_APPROVE_THRESHOLD, IMPORT_CONFIRM_THRESHOLD, IMPORT_FACET_THRESHOLD
//   - IMPORT_TAX_TOLERANCE
//   - IMPORT_STREAM_BATCH_SIZE, IMPORT_CHUNK_SIZE_BYTES, IMPORT_CHUNK_SESSION_TTL, IMPORT_JANITOR_SCHEDULE
//   - IMPORT_EXECUTION_MODE (inline|pubsub; defaults to pubsub when a Pub/Sub project is configured)
//   - IMPORT_ITEM_TOPIC, IMPORT_ITEM_SUBSCRIPTION, IMPORT_WORKER_CONCURRENCY, IMPORT_ITEM_LOCK_TTL
//   - IMPORT_OUTBOX_TOPIC, OUTBOX_PROCESS_MAX_ATTEMPTS, OUTBOX_PROCESS_BASE_BACKOFF_SECONDS,
//     OUTBOX_PROCESS_MAX_BACKOFF_SECONDS
func LoadImportSettings() ImportSettings {
	s := DefaultImportSettings()

	if raw := strings.TrimSpace(os.Getenv("IMPORT_CONFIDENCE_WEIGHTS")); raw != "" {
		parts := strings.Split(raw, ",")
		if len(parts) == 4 {
			var w [4]float64
			ok := true
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil || f < 0 {
					ok = false
					break
				}
				w[i] = f
			}
			if ok {
				s.WeightParser, s.WeightDocType, s.WeightMapping, s.WeightValidation = w[0], w[1], w[2], w[3]
			}
		}
	}

	s.AutoApproveThreshold = floatFromEnv("IMPORT_AUTO_APPROVE_THRESHOLD", s.AutoApproveThreshold)
	s.ConfirmThreshold = floatFromEnv("IMPORT_CONFIRM_THRESHOLD", s.ConfirmThreshold)
	s.FacetThreshold = floatFromEnv("IMPORT_FACET_THRESHOLD", s.FacetThreshold)
	s.TaxTolerance = floatFromEnv("IMPORT_TAX_TOLERANCE", s.TaxTolerance)

	s.StreamBatchSize = intFromEnv("IMPORT_STREAM_BATCH_SIZE", s.StreamBatchSize)
	s.ChunkSize = int64(intFromEnv("IMPORT_CHUNK_SIZE_BYTES", int(s.ChunkSize)))
	s.ChunkSessionTTL = durationFromEnv("IMPORT_CHUNK_SESSION_TTL", s.ChunkSessionTTL)
	if v := strings.TrimSpace(os.Getenv("IMPORT_JANITOR_SCHEDULE")); v != "" {
		s.JanitorSchedule = v
	}

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("IMPORT_EXECUTION_MODE")))
	switch mode {
	case ExecutionModeInline, ExecutionModePubSub:
		s.ExecutionMode = mode
	default:
		if PubSubConfigured() {
			s.ExecutionMode = ExecutionModePubSub
		}
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_ITEM_TOPIC")); v != "" {
		s.ItemTopic = v
	}
	if v := strings.TrimSpace(os.Getenv("IMPORT_ITEM_SUBSCRIPTION")); v != "" {
		s.ItemSubscription = v
	}
	s.WorkerConcurrency = intFromEnv("IMPORT_WORKER_CONCURRENCY", s.WorkerConcurrency)
	s.ItemLockTTL = durationFromEnv("IMPORT_ITEM_LOCK_TTL", s.ItemLockTTL)

	if v := strings.TrimSpace(os.Getenv("IMPORT_OUTBOX_TOPIC")); v != "" {
		s.OutboxTopic = v
	}
	if n := intFromEnv("OUTBOX_PROCESS_MAX_ATTEMPTS", 0); n > 0 {
		s.OutboxMaxAttempts = n
	}
	if n := intFromEnv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS", 0); n > 0 {
		s.OutboxBaseBackoff = time.Duration(n) * time.Second
	}
	if n := intFromEnv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS", 0); n > 0 {
		s.OutboxMaxBackoff = time.Duration(n) * time.Second
	}

	return s
}

func floatFromEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
