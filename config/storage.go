package config

import (
	"context"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// NewGCSClient initializes a Google Cloud Storage client.
// Prefers ADC; set GCS_CREDENTIALS_JSON to provide explicit JSON (e.g. locally).
func NewGCSClient(ctx context.Context) (*storage.Client, error) {
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

func GCSBucket() string {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET"))
}
