// Azure Blob Storage backend.
//
// Files are stored in a single container under an optional prefix:
//
//	{prefix}{name}
//
// Credentials come from a connection string, managed identity, or
// DefaultAzureCredential (env vars, Azure CLI, etc.), in that order.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadBlob uploads data to a new blob. It fails if the blob already
	// exists.
	UploadBlob(ctx context.Context, containerName, blobName string, data []byte) error
	// DownloadBlob streams a blob's contents.
	DownloadBlob(ctx context.Context, containerName, blobName string) (io.ReadCloser, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
}

// AzureOptions configures an AzureBackend.
type AzureOptions struct {
	Container          string
	AccountURL         string
	ConnectionString   string
	UseManagedIdentity bool
	Prefix             string
	PublicURL          string
}

// AzureBackend implements Backend on top of an Azure Blob container.
type AzureBackend struct {
	// Container is the upstream Azure Blob container name.
	Container string
	// AccountURL is the storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is the name prefix for all blobs in the container.
	Prefix string

	publicURL string
	client    AzureBlobAPI
}

// NewAzureBackend creates an AzureBackend and verifies the container is
// reachable.
func NewAzureBackend(ctx context.Context, opts AzureOptions) (*AzureBackend, error) {
	if opts.Container == "" {
		return nil, errors.New("azure backend requires a container")
	}
	if opts.AccountURL == "" && opts.ConnectionString == "" {
		return nil, errors.New("azure backend requires account_url or connection_string")
	}
	client, err := newRealAzureClient(opts.AccountURL, opts.ConnectionString, opts.UseManagedIdentity)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	publicURL := opts.PublicURL
	if publicURL == "" && opts.AccountURL != "" {
		publicURL = strings.TrimSuffix(opts.AccountURL, "/") + "/" + opts.Container
	}
	b := NewAzureBackendWithClient(opts.Container, opts.AccountURL, opts.Prefix, publicURL, client)

	if _, err := b.client.BlobExists(ctx, opts.Container, "\x00nonexistent\x00"); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", opts.Container, err)
	}

	slog.Info("Azure backend initialized", "container", opts.Container, "account", opts.AccountURL, "prefix", opts.Prefix)
	return b, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(container, accountURL, prefix, publicURL string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		publicURL:  publicURL,
		client:     client,
	}
}

// Class implements Backend.
func (b *AzureBackend) Class() string { return ClassAzure }

func (b *AzureBackend) blobName(name string) string {
	return b.Prefix + name
}

// Save uploads the content as a block blob. The upload carries
// If-None-Match: *, so a concurrent Save of the same name picks a suffixed
// name instead of replacing the blob.
func (b *AzureBackend) Save(ctx context.Context, name string, content io.Reader) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return "", fmt.Errorf("reading file data: %w", err)
	}
	return claimName(ctx, b, name, func(candidate string) error {
		if err := b.client.UploadBlob(ctx, b.Container, b.blobName(candidate), data); err != nil {
			if isAzureBlobExists(err) {
				return errNameTaken
			}
			return fmt.Errorf("uploading to Azure Blob: %w", err)
		}
		return nil
	})
}

// Open streams the blob.
func (b *AzureBackend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	rc, err := b.client.DownloadBlob(ctx, b.Container, b.blobName(name))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("getting blob from Azure: %w", err)
	}
	return rc, nil
}

// URL implements Backend.
func (b *AzureBackend) URL(name string) string {
	return joinURL(b.publicURL, b.blobName(name))
}

// Delete removes the blob. Idempotent: not-found is swallowed.
func (b *AzureBackend) Delete(ctx context.Context, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	if err := b.client.DeleteBlob(ctx, b.Container, b.blobName(name)); err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// Exists checks whether the blob exists.
func (b *AzureBackend) Exists(ctx context.Context, name string) (bool, error) {
	name, err := cleanName(name)
	if err != nil {
		return false, err
	}
	ok, err := b.client.BlobExists(ctx, b.Container, b.blobName(name))
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure: %w", err)
	}
	return ok, nil
}

// HealthCheck verifies that the container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.BlobExists(ctx, b.Container, "\x00nonexistent\x00")
	return err
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound ||
			respErr.ErrorCode == "BlobNotFound" || respErr.ErrorCode == "ContainerNotFound"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist")
}

func isAzureBlobExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusPreconditionFailed ||
			respErr.ErrorCode == "BlobAlreadyExists" || respErr.ErrorCode == "ConditionNotMet"
	}
	return false
}

var _ Backend = (*AzureBackend)(nil)
