package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// mockS3Client implements S3API for unit testing.
type mockS3Client struct {
	// objects stores all objects keyed by their S3 key.
	objects map[string][]byte
	// putObjectCalls tracks the number of PutObject calls for verification.
	putObjectCalls int
	// deleteObjectCalls tracks the number of DeleteObject calls.
	deleteObjectCalls int
	// headObjectCalls tracks the number of HeadObject calls.
	headObjectCalls int
	// failHead makes HeadObject and HeadBucket return a server error.
	failHead bool
	// staleHead makes HeadObject report every key as missing, as if another
	// writer stored it after the check.
	staleHead bool
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{
		objects: make(map[string][]byte),
	}
}

func (m *mockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.putObjectCalls++
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	if _, ok := m.objects[aws.ToString(params.Key)]; ok && aws.ToString(params.IfNoneMatch) == "*" {
		return nil, &mockAPIError{code: "PreconditionFailed", message: "At least one of the pre-conditions you specified did not hold", httpStatus: 412}
	}
	m.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &mockAPIError{code: "NoSuchKey", message: "The specified key does not exist.", httpStatus: 404}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.deleteObjectCalls++
	delete(m.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.headObjectCalls++
	if m.failHead {
		return nil, &mockAPIError{code: "InternalError", message: "boom", httpStatus: 500}
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok || m.staleHead {
		return nil, &mockAPIError{code: "NotFound", message: "Not Found", httpStatus: 404}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (m *mockS3Client) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.failHead {
		return nil, &mockAPIError{code: "InternalError", message: "boom", httpStatus: 500}
	}
	return &s3.HeadBucketOutput{}, nil
}

// mockAPIError implements smithy.APIError for testing error handling.
type mockAPIError struct {
	code       string
	message    string
	httpStatus int
}

func (e *mockAPIError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *mockAPIError) ErrorCode() string {
	return e.code
}

func (e *mockAPIError) ErrorMessage() string {
	return e.message
}

func (e *mockAPIError) ErrorFault() smithy.ErrorFault {
	if e.httpStatus >= 500 {
		return smithy.FaultServer
	}
	return smithy.FaultClient
}

// Ensure mockAPIError satisfies smithy.APIError.
var _ smithy.APIError = (*mockAPIError)(nil)

func newTestS3Backend() (*S3Backend, *mockS3Client) {
	mock := newMockS3Client()
	b := NewS3BackendWithClient("gallery-bucket", "eu-west-1", "media/", "https://cdn.example.com", mock)
	return b, mock
}

func TestS3SaveAndOpen(t *testing.T) {
	b, mock := newTestS3Backend()
	ctx := context.Background()

	name, err := b.Save(ctx, "images/beach.jpg", strings.NewReader("jpeg bytes"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name != "images/beach.jpg" {
		t.Errorf("stored name = %q, want images/beach.jpg", name)
	}
	if _, ok := mock.objects["media/images/beach.jpg"]; !ok {
		t.Errorf("object not stored under prefixed key, have %v", mock.objects)
	}

	rc, err := b.Open(ctx, name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "jpeg bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestS3SaveNeverOverwrites(t *testing.T) {
	b, mock := newTestS3Backend()
	ctx := context.Background()

	first, err := b.Save(ctx, "beach.jpg", strings.NewReader("one"))
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second, err := b.Save(ctx, "beach.jpg", strings.NewReader("two"))
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	if first == second {
		t.Fatalf("second Save reused name %q", second)
	}
	if string(mock.objects["media/"+first]) != "one" {
		t.Errorf("original content overwritten: %q", mock.objects["media/"+first])
	}
}

func TestS3SaveConditionalWriteKeepsRacingObject(t *testing.T) {
	b, mock := newTestS3Backend()
	ctx := context.Background()
	mock.objects["media/beach.jpg"] = []byte("other upload")
	mock.staleHead = true

	name, err := b.Save(ctx, "beach.jpg", strings.NewReader("mine"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name == "beach.jpg" {
		t.Fatal("Save claimed a key that already exists")
	}
	if string(mock.objects["media/beach.jpg"]) != "other upload" {
		t.Errorf("existing object overwritten: %q", mock.objects["media/beach.jpg"])
	}
	if string(mock.objects["media/"+name]) != "mine" {
		t.Errorf("content under %q = %q", name, mock.objects["media/"+name])
	}
	if mock.putObjectCalls != 2 {
		t.Errorf("putObjectCalls = %d, want 2", mock.putObjectCalls)
	}
}

func TestIsAWSPreconditionFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"precondition", &mockAPIError{code: "PreconditionFailed", httpStatus: 412}, true},
		{"conflict", &mockAPIError{code: "ConditionalRequestConflict", httpStatus: 409}, true},
		{"not found", &mockAPIError{code: "NoSuchKey", httpStatus: 404}, false},
		{"plain", errors.New("network down"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAWSPreconditionFailed(tt.err); got != tt.want {
				t.Errorf("isAWSPreconditionFailed(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestS3OpenMissing(t *testing.T) {
	b, _ := newTestS3Backend()
	_, err := b.Open(context.Background(), "missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open missing: err = %v, want ErrNotFound", err)
	}
}

func TestS3ExistsPropagatesServerErrors(t *testing.T) {
	b, mock := newTestS3Backend()
	mock.failHead = true
	if _, err := b.Exists(context.Background(), "x.jpg"); err == nil {
		t.Fatal("expected error from Exists")
	}
	if err := b.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected error from HealthCheck")
	}
}

func TestS3DeleteAndURL(t *testing.T) {
	b, mock := newTestS3Backend()
	ctx := context.Background()
	name, _ := b.Save(ctx, "a b.jpg", strings.NewReader("x"))

	if got, want := b.URL(name), "https://cdn.example.com/media/a%20b.jpg"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if err := b.Delete(ctx, name); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Delete(ctx, name); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if len(mock.objects) != 0 {
		t.Errorf("objects left after delete: %v", mock.objects)
	}
	if b.Class() != ClassS3 {
		t.Errorf("Class = %q", b.Class())
	}
}

func TestIsAWSNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"NoSuchKey", &mockAPIError{code: "NoSuchKey"}, true},
		{"NotFound", &mockAPIError{code: "NotFound"}, true},
		{"wrapped", fmt.Errorf("op: %w", &mockAPIError{code: "NoSuchKey"}), true},
		{"AccessDenied", &mockAPIError{code: "AccessDenied"}, false},
		{"plain", errors.New("network down"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAWSNotFound(tt.err); got != tt.want {
				t.Errorf("isAWSNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
