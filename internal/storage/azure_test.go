package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// mockAzureClient implements AzureBlobAPI for unit testing.
type mockAzureClient struct {
	// blobs stores all blobs keyed by blob name.
	blobs map[string][]byte
	// uploadCalls tracks the number of UploadBlob calls.
	uploadCalls int
	// staleExists makes BlobExists report every blob as missing, as if
	// another writer stored it after the check.
	staleExists bool
}

func newMockAzureClient() *mockAzureClient {
	return &mockAzureClient{blobs: make(map[string][]byte)}
}

func notFoundResponse() error {
	return &azcore.ResponseError{ErrorCode: "BlobNotFound", StatusCode: http.StatusNotFound}
}

func (m *mockAzureClient) UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error {
	m.uploadCalls++
	if _, ok := m.blobs[blobName]; ok {
		return &azcore.ResponseError{ErrorCode: "BlobAlreadyExists", StatusCode: http.StatusConflict}
	}
	m.blobs[blobName] = append([]byte(nil), data...)
	return nil
}

func (m *mockAzureClient) DownloadBlob(ctx context.Context, containerName, blobName string) (io.ReadCloser, error) {
	data, ok := m.blobs[blobName]
	if !ok {
		return nil, notFoundResponse()
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *mockAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	if _, ok := m.blobs[blobName]; !ok {
		return notFoundResponse()
	}
	delete(m.blobs, blobName)
	return nil
}

func (m *mockAzureClient) BlobExists(ctx context.Context, containerName, blobName string) (bool, error) {
	_, ok := m.blobs[blobName]
	return ok && !m.staleExists, nil
}

func TestAzureSaveOpenDelete(t *testing.T) {
	mock := newMockAzureClient()
	b := NewAzureBackendWithClient("gallery", "https://acct.blob.core.windows.net", "p/", "https://acct.blob.core.windows.net/gallery", mock)
	ctx := context.Background()

	name, err := b.Save(ctx, "beach.jpg", strings.NewReader("pixels"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, ok := mock.blobs["p/beach.jpg"]; !ok {
		t.Fatalf("blob not stored under prefix: %v", mock.blobs)
	}

	rc, err := b.Open(ctx, name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "pixels" {
		t.Errorf("content = %q", data)
	}

	if got, want := b.URL(name), "https://acct.blob.core.windows.net/gallery/p/beach.jpg"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}

	if err := b.Delete(ctx, name); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := b.Delete(ctx, name); err != nil {
		t.Fatalf("Delete of missing blob should be idempotent: %v", err)
	}
	if _, err := b.Open(ctx, name); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Open after delete: err = %v, want ErrNotFound", err)
	}
}

func TestAzureSaveNeverOverwrites(t *testing.T) {
	mock := newMockAzureClient()
	b := NewAzureBackendWithClient("gallery", "", "", "", mock)
	ctx := context.Background()

	first, _ := b.Save(ctx, "x.png", strings.NewReader("1"))
	second, _ := b.Save(ctx, "x.png", strings.NewReader("2"))
	if first == second {
		t.Fatalf("name reused: %q", first)
	}
	if mock.uploadCalls != 2 {
		t.Errorf("uploadCalls = %d, want 2", mock.uploadCalls)
	}
}

func TestAzureSaveConditionalWriteKeepsRacingBlob(t *testing.T) {
	mock := newMockAzureClient()
	b := NewAzureBackendWithClient("gallery", "", "", "", mock)
	mock.blobs["x.png"] = []byte("other upload")
	mock.staleExists = true

	name, err := b.Save(context.Background(), "x.png", strings.NewReader("mine"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if name == "x.png" {
		t.Fatal("Save claimed a blob that already exists")
	}
	if string(mock.blobs["x.png"]) != "other upload" {
		t.Errorf("existing blob overwritten: %q", mock.blobs["x.png"])
	}
	if string(mock.blobs[name]) != "mine" {
		t.Errorf("content under %q = %q", name, mock.blobs[name])
	}
}

func TestIsAzureNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"response 404", notFoundResponse(), true},
		{"wrapped 404", fmt.Errorf("download: %w", notFoundResponse()), true},
		{"response 403", &azcore.ResponseError{StatusCode: http.StatusForbidden}, false},
		{"message", errors.New("BlobNotFound: The specified blob does not exist."), true},
		{"other", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAzureNotFound(tt.err); got != tt.want {
				t.Errorf("isAzureNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
