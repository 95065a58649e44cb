package s3store

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
)

// ClientConfig holds the connection settings for the object store.
type ClientConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the AWS endpoint for S3-compatible stores such as
	// MinIO; path-style addressing is enabled alongside it because virtual
	// host addressing rarely works against such endpoints.
	Endpoint string
}

// NewClient creates an S3 client for the configured store.
func NewClient(ctx context.Context, cfg ClientConfig, logger log.Logger) (*s3.Client, error) {
	awsConfig, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(*awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return client, nil
}

func loadAWSConfig(ctx context.Context, cfg ClientConfig, logger log.Logger) (*aws.Config, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		)
	} else {
		logger.Debugf("No static credentials provided, using the default AWS credential chain...")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}
	return &awsConfig, nil
}
