package s3store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// StageParams ...
type StageParams struct {
	Bucket          string
	Key             string
	DestinationPath string
	PartSize        int64
	Workers         int
}

// StageObject downloads an input object to a local file using concurrent
// ranged GETs, for dumps that live in object storage instead of on the
// public download host.
func StageObject(ctx context.Context, client manager.DownloadAPIClient, params StageParams, logger log.Logger) error {
	startTime := time.Now()

	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		if params.PartSize > 0 {
			d.PartSize = params.PartSize
		}
		if params.Workers > 0 {
			d.Concurrency = params.Workers
		}
	})

	file, err := os.Create(params.DestinationPath)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	n, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
	})
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close staging file: %w", closeErr)
	}
	if err != nil {
		if removeErr := os.Remove(params.DestinationPath); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			logger.Warnf("Failed to remove %s: %s", params.DestinationPath, removeErr)
		}
		return fmt.Errorf("download s3://%s/%s: %w", params.Bucket, params.Key, err)
	}

	logger.Donef("Fetched s3://%s/%s (%s) in %s", params.Bucket, params.Key,
		units.HumanSizeWithPrecision(float64(n), 3), time.Since(startTime).Round(time.Second))
	return nil
}
