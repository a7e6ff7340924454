package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// ObjectPutter is the part of the S3 client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes settlement audit records as JSON objects to S3.
type Archiver struct {
	client ObjectPutter
	config *Config
	now    func() time.Time
	newID  func() string
}

// Record is the envelope stored for every archived event.
type Record struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ArchivedAt time.Time `json:"archived_at"`
	Payload    any       `json:"payload"`
}

// NewArchiver creates an archiver backed by a real S3 client.
func NewArchiver(cfg *Config) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("audit archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(cfg.BucketName),
	}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[Audit] Archiving settlement audit records to bucket: %s", cfg.BucketName)
	return NewArchiverWithClient(s3Client, cfg), nil
}

// NewArchiverWithClient wires an existing client, e.g. a fake in tests.
func NewArchiverWithClient(client ObjectPutter, cfg *Config) *Archiver {
	return &Archiver{
		client: client,
		config: cfg,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// FromEnv returns nil when the archive is disabled or misconfigured.
func FromEnv() *Archiver {
	cfg, err := LoadConfig()
	if err != nil {
		log.Warnf("[Audit] Invalid configuration, archive disabled: %v", err)
		return nil
	}
	if !cfg.Enabled {
		return nil
	}
	a, err := NewArchiver(cfg)
	if err != nil {
		log.Warnf("[Audit] Archive disabled: %v", err)
		return nil
	}
	return a
}

// Archive stores payload under kind.
func (a *Archiver) Archive(ctx context.Context, kind string, payload any) error {
	rec := Record{
		ID:         a.newID(),
		Kind:       kind,
		ArchivedAt: a.now().UTC(),
		Payload:    payload,
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	key := a.config.ObjectKey(kind, rec.ID, rec.ArchivedAt)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"audit-kind":    kind,
			"upload-source": "paysettle-audit",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload audit record: %w", err)
	}
	log.Infof("[Audit] Archived %s record: s3://%s/%s", kind, a.config.BucketName, key)
	return nil
}
