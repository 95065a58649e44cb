package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/vinylhound/discogs-etl/dump"
)

// EnsureBucket checks that the bucket exists and creates it when missing.
// A 403 from HeadBucket means the bucket exists but belongs to another
// account; that is logged and treated as existing so shared dump buckets
// keep working with scoped credentials.
func EnsureBucket(ctx context.Context, client BucketAPI, bucket, region string, logger log.Logger) error {
	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		logger.Debugf("Bucket %s exists", bucket)
		return nil
	}

	var apiError smithy.APIError
	if !errors.As(err, &apiError) {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}

	switch apiError.(type) {
	case *types.NotFound:
		return createBucket(ctx, client, bucket, region, logger)
	default:
		if apiError.ErrorCode() == "Forbidden" {
			logger.Warnf("Bucket %s exists but is not readable with these credentials", bucket)
			return nil
		}
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
}

func createBucket(ctx context.Context, client BucketAPI, bucket, region string, logger log.Logger) error {
	logger.Infof("Creating bucket %s...", bucket)

	input := &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	}
	// us-east-1 rejects an explicit location constraint.
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			logger.Debugf("Bucket %s was created concurrently", bucket)
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}

	// Creation is eventually consistent on some stores, poll until visible.
	err := retry.Times(3).Wait(2 * time.Second).Try(func(attempt uint) error {
		_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
			Bucket: aws.String(bucket),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("bucket %s is not visible after create: %w", bucket, err)
	}

	logger.Donef("Bucket %s ready", bucket)
	return nil
}

// InitLayout creates an empty marker object for each record family prefix so
// the partition layout is browsable before the first dump is converted.
// Prefixes that already hold objects are left alone.
func InitLayout(ctx context.Context, client BucketAPI, bucket string, logger log.Logger) error {
	for _, dataType := range dump.All() {
		prefix := dataType.ContainerTag() + "/"

		list, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return fmt.Errorf("list prefix %s: %w", prefix, err)
		}
		if aws.ToInt32(list.KeyCount) > 0 {
			logger.Debugf("Prefix %s already populated", prefix)
			continue
		}

		if _, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(prefix),
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		}); err != nil {
			return fmt.Errorf("create prefix marker %s: %w", prefix, err)
		}
		logger.Debugf("Created prefix marker %s", prefix)
	}
	return nil
}
