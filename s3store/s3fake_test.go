package s3store

import (
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

type fakePart struct {
	data []byte
	etag string
}

type fakeUpload struct {
	key   string
	parts map[int32]fakePart
}

// fakeS3 is an in-memory object store covering the client surface the
// uploaders use. Completed multipart uploads are assembled into objects the
// same way S3 does, including the part order check.
type fakeS3 struct {
	mu sync.Mutex

	objects map[string][]byte
	uploads map[string]*fakeUpload
	nextID  int

	createErr    error
	putErr       error
	partErr      error
	completeErr  error
	partFailures map[int32]int

	putCalls    int
	partCalls   int
	createCalls int
	aborted     []string
	completed   []string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:      map[string][]byte{},
		uploads:      map[string]*fakeUpload{},
		partFailures: map[int32]int{},
	}
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.putCalls++
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = &fakeUpload{
		key:   aws.ToString(params.Key),
		parts: map[int32]fakePart{},
	}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.partCalls++
	if f.partErr != nil {
		return nil, f.partErr
	}
	partNumber := aws.ToInt32(params.PartNumber)
	if f.partFailures[partNumber] > 0 {
		f.partFailures[partNumber]--
		return nil, &smithy.GenericAPIError{Code: "InternalError", Message: "injected part failure"}
	}

	upload, ok := f.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "no such upload"}
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	etag := fmt.Sprintf("\"etag-%d-%d\"", partNumber, len(data))
	upload.parts[partNumber] = fakePart{data: data, etag: etag}
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.completeErr != nil {
		return nil, f.completeErr
	}
	id := aws.ToString(params.UploadId)
	upload, ok := f.uploads[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchUpload", Message: "no such upload"}
	}

	var assembled []byte
	prev := int32(0)
	for _, part := range params.MultipartUpload.Parts {
		partNumber := aws.ToInt32(part.PartNumber)
		if partNumber <= prev {
			return nil, &smithy.GenericAPIError{Code: "InvalidPartOrder", Message: "parts are not in ascending order"}
		}
		prev = partNumber
		stored, ok := upload.parts[partNumber]
		if !ok || stored.etag != aws.ToString(part.ETag) {
			return nil, &smithy.GenericAPIError{Code: "InvalidPart", Message: fmt.Sprintf("part %d not found", partNumber)}
		}
		assembled = append(assembled, stored.data...)
	}

	f.objects[upload.key] = assembled
	f.completed = append(f.completed, id)
	delete(f.uploads, id)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(params.UploadId)
	delete(f.uploads, id)
	f.aborted = append(f.aborted, id)
	return &s3.AbortMultipartUploadOutput{}, nil
}

// fakeBucketAPI is an in-memory bucket registry for the bootstrap helpers.
type fakeBucketAPI struct {
	mu sync.Mutex

	buckets   map[string]bool
	objects   map[string][]byte
	forbidden bool
	headErr   error

	createCalls  int
	lastCreate   *s3.CreateBucketInput
	markerPuts   []string
	listPrefixes []string
}

func newFakeBucketAPI() *fakeBucketAPI {
	return &fakeBucketAPI{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
	}
}

func (f *fakeBucketAPI) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.headErr != nil {
		return nil, f.headErr
	}
	if f.forbidden {
		return nil, &smithy.GenericAPIError{Code: "Forbidden", Message: "Forbidden"}
	}
	if !f.buckets[aws.ToString(params.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeBucketAPI) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	f.lastCreate = params
	f.buckets[aws.ToString(params.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeBucketAPI) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := aws.ToString(params.Prefix)
	f.listPrefixes = append(f.listPrefixes, prefix)
	count := int32(0)
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			count++
		}
	}
	return &s3.ListObjectsV2Output{KeyCount: aws.Int32(count)}, nil
}

func (f *fakeBucketAPI) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(params.Key)
	f.objects[key] = data
	f.markerPuts = append(f.markerPuts, key)
	return &s3.PutObjectOutput{}, nil
}
