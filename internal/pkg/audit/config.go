package audit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/paysettle/internal/pkg/env"
)

// Config holds the S3 audit archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads the audit archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_AUDIT_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_AUDIT_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_AUDIT_REGION", "us-west-001"),
		BucketName:      env.GetEnv("S3_AUDIT_BUCKET", ""),
		EndpointURL:     env.GetEnv("S3_AUDIT_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_AUDIT_PREFIX", "payment-audit"), "/"),
		Enabled:         env.GetEnv("S3_AUDIT_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_AUDIT_ACCESS_KEY_ID is required when the audit archive is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_AUDIT_SECRET_ACCESS_KEY is required when the audit archive is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_AUDIT_BUCKET is required when the audit archive is enabled")
		}
	}

	return config, nil
}

// ObjectKey builds the key for one archived record.
// Format: <prefix>/<kind>/YYYY/MM/DD/<id>.json
func (c *Config) ObjectKey(kind, id string, at time.Time) string {
	at = at.UTC()
	key := fmt.Sprintf("%s/%04d/%02d/%02d/%s.json", kind, at.Year(), int(at.Month()), at.Day(), id)
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}
