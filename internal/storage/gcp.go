// Google Cloud Storage backend.
//
// Files are stored in a single GCS bucket under an optional prefix. Credentials
// are resolved via Application Default Credentials
// (GOOGLE_APPLICATION_CREDENTIALS, gcloud auth, metadata server).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSAPI defines the subset of the GCS client interface that the backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer that creates the given GCS object. Close
	// fails if the object already exists.
	NewWriter(ctx context.Context, bucket, object string) io.WriteCloser
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Exists reports whether the given GCS object exists.
	Exists(ctx context.Context, bucket, object string) (bool, error)
	// ListObjects lists object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string) io.WriteCloser {
	return c.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Exists(ctx context.Context, bucket, object string) (bool, error) {
	_, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// GCSBackend implements Backend on top of a Google Cloud Storage bucket.
type GCSBackend struct {
	// Bucket is the upstream GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	// Prefix is the object name prefix for all files.
	Prefix string

	publicURL string
	client    GCSAPI
}

// NewGCSBackend creates a GCSBackend using Application Default Credentials
// and verifies the bucket is reachable.
func NewGCSBackend(ctx context.Context, bucket, project, prefix, publicURL string) (*GCSBackend, error) {
	if bucket == "" {
		return nil, errors.New("gcs backend requires a bucket")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}
	b := NewGCSBackendWithClient(bucket, project, prefix, publicURL, &realGCSClient{client: client})

	if _, err := b.client.ListObjects(ctx, bucket, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", bucket, err)
	}

	slog.Info("GCS backend initialized", "bucket", bucket, "project", project, "prefix", prefix)
	return b, nil
}

// NewGCSBackendWithClient creates a GCSBackend with a pre-configured client.
// This is primarily used for testing with mock clients.
func NewGCSBackendWithClient(bucket, project, prefix, publicURL string, client GCSAPI) *GCSBackend {
	return &GCSBackend{
		Bucket:    bucket,
		Project:   project,
		Prefix:    prefix,
		publicURL: publicURL,
		client:    client,
	}
}

// Class implements Backend.
func (b *GCSBackend) Class() string { return ClassGCS }

func (b *GCSBackend) object(name string) string {
	return b.Prefix + name
}

// Save uploads the content to the bucket. Writes are preconditioned on the
// object not existing, so a concurrent Save of the same name picks a
// suffixed name instead of replacing the object.
func (b *GCSBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	// Buffered so a retry under a new name can resend the content.
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading file data: %w", err)
	}

	return claimName(ctx, b, name, func(candidate string) error {
		w := b.client.NewWriter(ctx, b.Bucket, b.object(candidate))
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return fmt.Errorf("uploading to GCS: %w", err)
		}
		if err := w.Close(); err != nil {
			if isGCSPreconditionFailed(err) {
				return errNameTaken
			}
			return fmt.Errorf("finalizing GCS upload: %w", err)
		}
		return nil
	})
}

// Open downloads the file from the bucket.
func (b *GCSBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	reader, err := b.client.NewReader(ctx, b.Bucket, b.object(name))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("getting object from GCS: %w", err)
	}
	return reader, nil
}

// URL implements Backend.
func (b *GCSBackend) URL(name string) string {
	return joinURL(b.publicURL, b.object(name))
}

// Delete removes the file. Idempotent: GCS reports 404 on missing objects,
// which is swallowed.
func (b *GCSBackend) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := b.client.Delete(ctx, b.Bucket, b.object(name)); err != nil {
		if isGCSNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// Exists checks whether the object exists in the bucket.
func (b *GCSBackend) Exists(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	ok, err := b.client.Exists(ctx, b.Bucket, b.object(name))
	if err != nil {
		return false, fmt.Errorf("checking object existence in GCS: %w", err)
	}
	return ok, nil
}

// HealthCheck verifies that the bucket can be listed.
func (b *GCSBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, "\x00nonexistent\x00")
	return err
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

func isGCSPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}

var _ Backend = (*GCSBackend)(nil)
