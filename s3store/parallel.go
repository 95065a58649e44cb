package s3store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const numUploadRetries = 3

// ParallelUploadParams ...
type ParallelUploadParams struct {
	Bucket      string
	Key         string
	PartSize    int64
	Workers     int
	ContentType string
}

type partResult struct {
	partNumber int32
	etag       *string
	err        error
}

// Uploader uploads finished local files to the object store with concurrent
// part transfers. Unlike MultipartWriter it needs the whole file on disk
// first, in exchange for uploading parts in parallel.
type Uploader struct {
	client    S3API
	logger    log.Logger
	retryWait time.Duration
}

// NewUploader ...
func NewUploader(client S3API, logger log.Logger) *Uploader {
	return &Uploader{
		client:    client,
		logger:    logger,
		retryWait: 5 * time.Second,
	}
}

// UploadFile uploads the file at filePath as a multipart upload with
// concurrent part workers. Files below the S3 minimum part size are uploaded
// with a single PutObject. The upload is aborted on failure so partial parts
// do not linger.
func (u *Uploader) UploadFile(ctx context.Context, filePath string, params ParallelUploadParams) error {
	startTime := time.Now()

	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open upload file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			u.logger.Warnf("Failed to close %s: %s", filePath, err)
		}
	}()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat upload file: %w", err)
	}
	size := info.Size()

	if size < MinPartSize {
		return u.putFile(ctx, file, size, params)
	}

	partSize := params.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize {
		partSize = MinPartSize
	}
	// Grow parts for huge files so the count stays under the S3 ceiling.
	if minSize := (size + MaxParts - 1) / MaxParts; partSize < minSize {
		partSize = minSize
	}
	partCount := int((size + partSize - 1) / partSize)

	workers := params.Workers
	if workers < 1 {
		workers = 4
	}

	u.logger.Infof("Uploading %s (%s) in %d parts across %d workers...",
		filepath.Base(filePath), units.HumanSizeWithPrecision(float64(size), 3), partCount, workers)

	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(params.Bucket),
		Key:    aws.String(params.Key),
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}
	create, err := u.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}
	uploadID := create.UploadId

	completed, err := u.uploadParts(ctx, file, size, partSize, partCount, workers, uploadID, params)
	if err != nil {
		if _, abortErr := u.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(params.Bucket),
			Key:      aws.String(params.Key),
			UploadId: uploadID,
		}); abortErr != nil {
			u.logger.Warnf("Failed to abort multipart upload %s: %s", aws.ToString(uploadID), abortErr)
		}
		return err
	}

	if _, err := u.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(params.Bucket),
		Key:             aws.String(params.Key),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	}); err != nil {
		return fmt.Errorf("complete multipart upload: %w", err)
	}

	u.logger.Donef("Uploaded s3://%s/%s (%s in %d parts) in %s", params.Bucket, params.Key,
		units.HumanSizeWithPrecision(float64(size), 3), partCount, time.Since(startTime).Round(time.Second))
	return nil
}

func (u *Uploader) uploadParts(ctx context.Context, file *os.File, size, partSize int64, partCount, workers int, uploadID *string, params ParallelUploadParams) ([]types.CompletedPart, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultChan := make(chan partResult, partCount)
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i := 0; i < partCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
			case <-ctx.Done():
				resultChan <- partResult{err: ctx.Err()}
				return
			}
			defer func() { <-semaphore }()

			offset := int64(i) * partSize
			length := partSize
			if remaining := size - offset; remaining < length {
				length = remaining
			}
			partNumber := int32(i + 1)

			etag, err := u.uploadPartWithRetry(ctx, file, offset, length, partNumber, uploadID, params)
			if err != nil {
				cancel()
			}
			resultChan <- partResult{partNumber: partNumber, etag: etag, err: err}
		}(i)
	}

	completed := make([]types.CompletedPart, 0, partCount)
	var firstErr error
	for i := 0; i < partCount; i++ {
		result := <-resultChan
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		completed = append(completed, types.CompletedPart{
			ETag:       result.etag,
			PartNumber: aws.Int32(result.partNumber),
		})
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	// Workers finish out of order; S3 requires the completion list sorted.
	sort.Slice(completed, func(i, j int) bool {
		return aws.ToInt32(completed[i].PartNumber) < aws.ToInt32(completed[j].PartNumber)
	})
	return completed, nil
}

func (u *Uploader) uploadPartWithRetry(ctx context.Context, file *os.File, offset, length int64, partNumber int32, uploadID *string, params ParallelUploadParams) (*string, error) {
	var etag *string
	err := retry.Times(numUploadRetries).Wait(u.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		if ctx.Err() != nil {
			return ctx.Err(), true
		}
		if attempt > 0 {
			u.logger.Debugf("Retrying part %d (attempt %d)...", partNumber, attempt+1)
		}

		out, err := u.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(params.Bucket),
			Key:           aws.String(params.Key),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(partNumber),
			Body:          io.NewSectionReader(file, offset, length),
			ContentLength: aws.Int64(length),
		})
		if err != nil {
			return fmt.Errorf("upload part %d: %w", partNumber, err), false
		}
		etag = out.ETag
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	return etag, nil
}

func (u *Uploader) putFile(ctx context.Context, file *os.File, size int64, params ParallelUploadParams) error {
	u.logger.Debugf("File is below the minimum part size, uploading directly")

	input := &s3.PutObjectInput{
		Bucket:        aws.String(params.Bucket),
		Key:           aws.String(params.Key),
		Body:          file,
		ContentLength: aws.Int64(size),
	}
	if params.ContentType != "" {
		input.ContentType = aws.String(params.ContentType)
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	u.logger.Donef("Uploaded s3://%s/%s (%s)", params.Bucket, params.Key, units.HumanSizeWithPrecision(float64(size), 3))
	return nil
}
