package etl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// fakeStore is an in-memory object store covering the pipeline's client
// surface: bucket bootstrap, direct and multipart uploads, and ranged GETs
// for staging.
type fakeStore struct {
	mu sync.Mutex

	buckets map[string]bool
	objects map[string][]byte
	uploads map[string]*fakeStoreUpload
	nextID  int

	createBucketCalls int
	uploadsCreated    int
	putKeys           []string
}

type fakeStoreUpload struct {
	key   string
	parts map[int32][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		uploads: map[string]*fakeStoreUpload{},
	}
}

func (f *fakeStore) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	f.objects[key] = data
	f.putKeys = append(f.putKeys, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploadsCreated++
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeStoreUpload{
		key:   aws.ToString(params.Key),
		parts: map[int32][]byte{},
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeStore) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	upload, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "no such upload"}
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	partNumber := aws.ToInt32(params.PartNumber)
	upload.parts[partNumber] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("\"etag-%d\"", partNumber))}, nil
}

func (f *fakeStore) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.UploadId)
	upload, ok := f.uploads[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "no such upload"}
	}

	var assembled []byte
	for _, part := range params.MultipartUpload.Parts {
		data, ok := upload.parts[aws.ToInt32(part.PartNumber)]
		if !ok {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: "part not found"}
		}
		assembled = append(assembled, data...)
	}
	f.objects[upload.key] = assembled
	delete(f.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeStore) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.uploads, aws.ToString(params.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeStore) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.buckets[aws.ToString(params.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeStore) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createBucketCalls++
	f.buckets[aws.ToString(params.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeStore) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := int32(0)
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) {
			count++
		}
	}
	return &s3.ListObjectsV2Output{KeyCount: aws.Int32(count)}, nil
}

func (f *fakeStore) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "no such key"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ContentRange:  aws.String(fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data))),
	}, nil
}
