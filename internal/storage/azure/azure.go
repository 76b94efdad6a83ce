// Package azure implements the Azure Blob Storage export store. Downloads are
// served through short-lived SAS URLs (or a CDN when configured) rather than
// proxied through the register service.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/storage"
)

func init() {
	storage.Register("azure", func(cfg *config.Config) (storage.Storage, error) {
		return New(&cfg.Export.Azure)
	})
}

// AzureStorage stores exported documents as block blobs in one container
type AzureStorage struct {
	client        *azblob.Client
	containerName string
	accountName   string
	accountKey    string
	cdnURL        string
}

// New creates the Azure export store using shared key credentials
func New(cfg *config.AzureStorageConfig) (*AzureStorage, error) {
	if cfg.AccountName == "" {
		return nil, fmt.Errorf("azure storage account name is required")
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("azure storage account key is required")
	}
	if cfg.ContainerName == "" {
		return nil, fmt.Errorf("azure storage container name is required")
	}

	credential, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Blob client: %w", err)
	}

	return &AzureStorage{
		client:        client,
		containerName: cfg.ContainerName,
		accountName:   cfg.AccountName,
		accountKey:    cfg.AccountKey,
		cdnURL:        strings.TrimSuffix(cfg.CDNURL, "/"),
	}, nil
}

func (s *AzureStorage) container() *container.Client {
	return s.client.ServiceClient().NewContainerClient(s.containerName)
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// checksumFrom reads the checksum metadata; the service may change the key's case
func checksumFrom(meta map[string]*string) string {
	for k, v := range meta {
		if strings.EqualFold(k, storage.ChecksumMetadataKey) && v != nil {
			return *v
		}
	}
	return ""
}

// Put uploads the document as a block blob carrying its SHA256 as metadata
func (s *AzureStorage) Put(ctx context.Context, key string, body []byte, contentType string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	checksum := storage.Checksum(body)
	opts := &blockblob.UploadOptions{
		Metadata: map[string]*string{storage.ChecksumMetadataKey: &checksum},
	}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}

	blobClient := s.container().NewBlockBlobClient(key)
	if _, err := blobClient.Upload(ctx, streaming.NopCloser(bytes.NewReader(body)), opts); err != nil {
		return nil, fmt.Errorf("failed to upload to Azure Blob: %w", err)
	}

	return &storage.Object{
		Key:          key,
		Size:         int64(len(body)),
		Checksum:     checksum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Get downloads the whole blob
func (s *AzureStorage) Get(ctx context.Context, key string) ([]byte, *storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, nil, err
	}

	resp, err := s.container().NewBlobClient(key).DownloadStream(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, storage.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to download from Azure Blob: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read Azure blob: %w", err)
	}

	obj := &storage.Object{
		Key:      key,
		Size:     int64(len(body)),
		Checksum: checksumFrom(resp.Metadata),
	}
	if obj.Checksum == "" {
		obj.Checksum = storage.Checksum(body)
	}
	if resp.ContentType != nil {
		obj.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		obj.LastModified = *resp.LastModified
	}
	return body, obj, nil
}

// Stat reads the blob properties
func (s *AzureStorage) Stat(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	props, err := s.container().NewBlobClient(key).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get blob properties: %w", err)
	}

	obj := &storage.Object{Key: key, Checksum: checksumFrom(props.Metadata)}
	if props.ContentLength != nil {
		obj.Size = *props.ContentLength
	}
	if props.ContentType != nil {
		obj.ContentType = *props.ContentType
	}
	if props.LastModified != nil {
		obj.LastModified = *props.LastModified
	}
	return obj, nil
}

// List pages through the flat blob listing below prefix
func (s *AzureStorage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	pager := s.container().NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})

	var out []storage.Object
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			obj := storage.Object{Key: *item.Name}
			if p := item.Properties; p != nil {
				if p.ContentLength != nil {
					obj.Size = *p.ContentLength
				}
				if p.ContentType != nil {
					obj.ContentType = *p.ContentType
				}
				if p.LastModified != nil {
					obj.LastModified = *p.LastModified
				}
			}
			out = append(out, obj)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the blob; a missing blob is not an error
func (s *AzureStorage) Delete(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	if _, err := s.container().NewBlobClient(key).Delete(ctx, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from Azure Blob: %w", err)
	}
	return nil
}

// URL returns the CDN URL when configured, otherwise a read-only SAS URL valid for ttl
func (s *AzureStorage) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	key, _ = storage.CleanKey(key)

	if s.cdnURL != "" {
		return fmt.Sprintf("%s/%s", s.cdnURL, key), nil
	}

	credential, err := azblob.NewSharedKeyCredential(s.accountName, s.accountKey)
	if err != nil {
		return "", fmt.Errorf("failed to create credential for SAS: %w", err)
	}

	now := time.Now().UTC()
	params, err := sas.BlobSignatureValues{
		Protocol: sas.ProtocolHTTPS,
		// tolerate clock skew between us and the storage service
		StartTime:     now.Add(-5 * time.Minute),
		ExpiryTime:    now.Add(ttl),
		Permissions:   (&sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.containerName,
		BlobName:      key,
	}.SignWithSharedKey(credential)
	if err != nil {
		return "", fmt.Errorf("failed to generate SAS token: %w", err)
	}

	blobURL := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		s.accountName, s.containerName, url.PathEscape(key))
	return blobURL + "?" + params.Encode(), nil
}

// EnsureBucket creates the container, ignoring "already exists"
func (s *AzureStorage) EnsureBucket(ctx context.Context) error {
	if _, err := s.container().Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("failed to create container: %w", err)
	}
	return nil
}
