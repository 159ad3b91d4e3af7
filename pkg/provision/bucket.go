package provision

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/engine"
)

// bucketAPI is the slice of the minio client the provisioner uses.
type bucketAPI interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
}

// BucketConfig locates the S3-compatible object store.
type BucketConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// BucketProvisioner creates object storage buckets on a MinIO or other
// S3-compatible endpoint.
type BucketProvisioner struct {
	client bucketAPI
	region string
}

// NewBucketProvisioner builds a provisioner over a minio client.
func NewBucketProvisioner(cfg BucketConfig) (*BucketProvisioner, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &BucketProvisioner{client: client, region: cfg.Region}, nil
}

// Exists reports whether the bucket behind the task key is present.
func (p *BucketProvisioner) Exists(ctx context.Context, task engine.ProvisionTask) (bool, error) {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return false, err
	}

	exists, err := p.client.BucketExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check bucket %s: %w", name, err)
	}
	return exists, nil
}

// Create makes the bucket, in the task's region when one is given and
// the configured default otherwise. A bucket that appeared since the
// existence check is not an error.
func (p *BucketProvisioner) Create(ctx context.Context, task engine.ProvisionTask) error {
	_, name, err := ParseKey(task.Key)
	if err != nil {
		return err
	}

	region := task.Params["region"]
	if region == "" {
		region = p.region
	}

	err = p.client.MakeBucket(ctx, name, minio.MakeBucketOptions{Region: region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", name, err)
	}

	log.Info().Str("bucket", name).Str("region", region).Msg("bucket created")
	return nil
}
