package replication

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// S3Stats measures destination bucket sizes through the AWS SDK using the
// same named profile the sync runs under.
type S3Stats struct {
	client *s3.Client
	logger zerolog.Logger
}

// NewS3Stats creates an S3Stats for the given shared-config profile.
func NewS3Stats(ctx context.Context, profile string, logger zerolog.Logger) (*S3Stats, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithSharedConfigProfile(profile),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config for profile %s: %w", profile, err)
	}

	return &S3Stats{
		client: s3.NewFromConfig(cfg),
		logger: logger.With().Str("component", "s3_stats").Logger(),
	}, nil
}

// TotalSize returns the summed object size of the bucket in bytes.
func (s *S3Stats) TotalSize(ctx context.Context, bucket string) (int64, error) {
	var total int64

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &bucket,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list objects in %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			if obj.Size != nil {
				total += *obj.Size
			}
		}
	}

	s.logger.Debug().
		Str("bucket", bucket).
		Int64("total_bytes", total).
		Msg("bucket size measured")
	return total, nil
}
