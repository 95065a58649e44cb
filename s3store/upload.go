package s3store

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const (
	// MinPartSize is the smallest part S3 accepts for any part but the last.
	MinPartSize = 5 * 1024 * 1024
	// MaxParts is the S3 ceiling on part numbers in a single upload.
	MaxParts = 10000
	// DefaultPartSize is used when no part size is configured.
	DefaultPartSize = 16 * 1024 * 1024
)

// UploadState tracks the multipart transfer lifecycle.
type UploadState int

const (
	StateNotStarted UploadState = iota
	StateInProgress
	StateCompleted
	StateAborted
)

func (s UploadState) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateInProgress:
		return "in progress"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MultipartWriterParams ...
type MultipartWriterParams struct {
	Bucket      string
	Key         string
	PartSize    int64
	ContentType string
}

// MultipartWriter is an io.WriteCloser that streams into an S3 multipart
// upload. Bytes are buffered until a part's worth is available, so memory
// use stays at roughly one part regardless of object size. An object that
// never reaches the part size is written with a single PutObject on Close
// instead of becoming a multipart upload at all.
type MultipartWriter struct {
	ctx      context.Context
	client   S3API
	params   MultipartWriterParams
	partSize int64
	logger   log.Logger

	state    UploadState
	uploadID *string
	parts    []types.CompletedPart
	buf      bytes.Buffer
	written  int64
	err      error
}

// NewMultipartWriter creates a writer that uploads to the given bucket and
// key. The requested part size is floored at the S3 minimum.
func NewMultipartWriter(ctx context.Context, client S3API, params MultipartWriterParams, logger log.Logger) *MultipartWriter {
	partSize := params.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	if partSize < MinPartSize {
		logger.Debugf("Requested part size %d is below the S3 minimum, using %d", partSize, int64(MinPartSize))
		partSize = MinPartSize
	}

	return &MultipartWriter{
		ctx:      ctx,
		client:   client,
		params:   params,
		partSize: partSize,
		logger:   logger,
	}
}

// Write buffers p and flushes a part once a part's worth has accumulated.
// The first error aborts the server-side upload and is returned from every
// later call.
func (w *MultipartWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.state == StateCompleted || w.state == StateAborted {
		return 0, fmt.Errorf("write to %s upload", w.state)
	}

	w.buf.Write(p)

	// Part number MaxParts is reserved for the final flush in Close: past
	// that point the buffer has to keep growing.
	if int64(w.buf.Len()) >= w.partSize && len(w.parts)+1 < MaxParts {
		if err := w.flushPart(); err != nil {
			w.fail(err)
			return 0, w.err
		}
	}
	return len(p), nil
}

// Close finishes the transfer. An object smaller than one part is written
// with a single PutObject; otherwise the buffered remainder becomes the
// final part and the upload is completed with its parts in number order.
func (w *MultipartWriter) Close() error {
	switch w.state {
	case StateCompleted:
		return nil
	case StateAborted:
		return w.err
	}

	if w.state == StateNotStarted {
		if err := w.putDirect(); err != nil {
			w.fail(err)
			return w.err
		}
		w.state = StateCompleted
		w.logger.Donef("Uploaded s3://%s/%s (%s)", w.params.Bucket, w.params.Key, units.HumanSizeWithPrecision(float64(w.written), 3))
		return nil
	}

	// The final part is allowed to be smaller than the minimum.
	if w.buf.Len() > 0 {
		if err := w.flushPart(); err != nil {
			w.fail(err)
			return w.err
		}
	}

	sort.Slice(w.parts, func(i, j int) bool {
		return aws.ToInt32(w.parts[i].PartNumber) < aws.ToInt32(w.parts[j].PartNumber)
	})

	_, err := w.client.CompleteMultipartUpload(w.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(w.params.Bucket),
		Key:             aws.String(w.params.Key),
		UploadId:        w.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: w.parts},
	})
	if err != nil {
		w.fail(fmt.Errorf("complete multipart upload: %w", err))
		return w.err
	}

	w.state = StateCompleted
	w.logger.Donef("Uploaded s3://%s/%s (%s in %d parts)", w.params.Bucket, w.params.Key,
		units.HumanSizeWithPrecision(float64(w.written), 3), len(w.parts))
	return nil
}

// Abort cancels the transfer and discards any uploaded parts. It is safe to
// call in any state; aborting a completed upload does nothing.
func (w *MultipartWriter) Abort() {
	if w.state == StateCompleted || w.state == StateAborted {
		return
	}
	w.fail(fmt.Errorf("upload aborted"))
}

// State reports the transfer lifecycle state.
func (w *MultipartWriter) State() UploadState {
	return w.state
}

// BytesWritten reports how many bytes have been uploaded so far.
func (w *MultipartWriter) BytesWritten() int64 {
	return w.written
}

func (w *MultipartWriter) begin() error {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(w.params.Bucket),
		Key:    aws.String(w.params.Key),
	}
	if w.params.ContentType != "" {
		input.ContentType = aws.String(w.params.ContentType)
	}

	out, err := w.client.CreateMultipartUpload(w.ctx, input)
	if err != nil {
		return fmt.Errorf("create multipart upload: %w", err)
	}

	w.uploadID = out.UploadId
	w.state = StateInProgress
	w.logger.Debugf("Started multipart upload %s for s3://%s/%s", aws.ToString(out.UploadId), w.params.Bucket, w.params.Key)
	return nil
}

func (w *MultipartWriter) flushPart() error {
	if w.state == StateNotStarted {
		if err := w.begin(); err != nil {
			return err
		}
	}

	partNumber := int32(len(w.parts) + 1)
	body := w.buf.Bytes()

	out, err := w.client.UploadPart(w.ctx, &s3.UploadPartInput{
		Bucket:        aws.String(w.params.Bucket),
		Key:           aws.String(w.params.Key),
		UploadId:      w.uploadID,
		PartNumber:    aws.Int32(partNumber),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	w.parts = append(w.parts, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	w.written += int64(len(body))
	w.logger.Debugf("Uploaded part %d (%s)", partNumber, units.HumanSizeWithPrecision(float64(len(body)), 3))
	w.buf.Reset()
	return nil
}

func (w *MultipartWriter) putDirect() error {
	body := w.buf.Bytes()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(w.params.Bucket),
		Key:           aws.String(w.params.Key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	}
	if w.params.ContentType != "" {
		input.ContentType = aws.String(w.params.ContentType)
	}

	if _, err := w.client.PutObject(w.ctx, input); err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	w.written = int64(len(body))
	w.buf.Reset()
	return nil
}

// fail records the first error and aborts the server-side upload so that no
// orphaned parts keep accruing storage.
func (w *MultipartWriter) fail(err error) {
	if w.err == nil {
		w.err = err
	}
	if w.state != StateInProgress {
		w.state = StateAborted
		return
	}

	if _, abortErr := w.client.AbortMultipartUpload(w.ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(w.params.Bucket),
		Key:      aws.String(w.params.Key),
		UploadId: w.uploadID,
	}); abortErr != nil {
		w.logger.Warnf("Failed to abort multipart upload %s: %s", aws.ToString(w.uploadID), abortErr)
	}
	w.state = StateAborted
}
