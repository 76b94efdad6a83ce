// Package gcs implements the Google Cloud Storage export store. Downloads use V4
// signed URLs. Supports Application Default Credentials, service account keys and
// Workload Identity Federation; "none" disables authentication for emulators.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	appconfig "github.com/openregister/openregister/internal/config"
	appstorage "github.com/openregister/openregister/internal/storage"
)

func init() {
	appstorage.Register("gcs", func(cfg *appconfig.Config) (appstorage.Storage, error) {
		return New(&cfg.Export.GCS)
	})
}

// GCSStorage stores exported documents as objects in one bucket
type GCSStorage struct {
	client    *storage.Client
	bucket    string
	projectID string
}

// New creates the GCS export store.
//
// Authentication methods:
//   - "default" / "workload_identity" or empty: Application Default Credentials
//   - "service_account": a service account key file or inline JSON
//   - "none": unauthenticated, only meaningful together with a custom endpoint
func New(cfg *appconfig.GCSStorageConfig) (*GCSStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.CredentialsFile != "" || cfg.CredentialsJSON != "" {
			authMethod = "service_account"
		} else {
			authMethod = "default"
		}
	}

	switch authMethod {
	case "service_account":
		switch {
		case cfg.CredentialsJSON != "":
			opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
		case cfg.CredentialsFile != "":
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		default:
			return nil, fmt.Errorf("credentials_file or credentials_json is required for service_account auth")
		}
	case "none":
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("auth_method none requires a custom endpoint")
		}
		opts = append(opts, option.WithoutAuthentication())
	case "workload_identity", "default":
		// ADC resolves GOOGLE_APPLICATION_CREDENTIALS, the metadata server and gcloud logins
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'service_account', 'workload_identity', or 'none')", authMethod)
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
	}, nil
}

// Close closes the GCS client
func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) object(key string) (string, *storage.ObjectHandle, error) {
	key, err := appstorage.CleanKey(key)
	if err != nil {
		return "", nil, err
	}
	return key, s.client.Bucket(s.bucket).Object(key), nil
}

func toObject(attrs *storage.ObjectAttrs) *appstorage.Object {
	return &appstorage.Object{
		Key:          attrs.Name,
		Size:         attrs.Size,
		Checksum:     attrs.Metadata[appstorage.ChecksumMetadataKey],
		ContentType:  attrs.ContentType,
		LastModified: attrs.Updated,
	}
}

// Put writes the document with its SHA256 as custom metadata
func (s *GCSStorage) Put(ctx context.Context, key string, body []byte, contentType string) (*appstorage.Object, error) {
	key, obj, err := s.object(key)
	if err != nil {
		return nil, err
	}

	checksum := appstorage.Checksum(body)
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = map[string]string{appstorage.ChecksumMetadataKey: checksum}

	if _, err := writer.Write(body); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close GCS writer: %w", err)
	}

	if attrs := writer.Attrs(); attrs != nil {
		return toObject(attrs), nil
	}
	return &appstorage.Object{
		Key:          key,
		Size:         int64(len(body)),
		Checksum:     checksum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Get reads the whole document
func (s *GCSStorage) Get(ctx context.Context, key string) ([]byte, *appstorage.Object, error) {
	_, obj, err := s.object(key)
	if err != nil {
		return nil, nil, err
	}

	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, nil, appstorage.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer reader.Close()

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read GCS object: %w", err)
	}

	meta, err := s.Stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	if meta.Checksum == "" {
		meta.Checksum = appstorage.Checksum(body)
	}
	return body, meta, nil
}

// Stat reads the object attributes
func (s *GCSStorage) Stat(ctx context.Context, key string) (*appstorage.Object, error) {
	_, obj, err := s.object(key)
	if err != nil {
		return nil, err
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, appstorage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}
	return toObject(attrs), nil
}

// List iterates the objects below prefix
func (s *GCSStorage) List(ctx context.Context, prefix string) ([]appstorage.Object, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var out []appstorage.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		out = append(out, *toObject(attrs))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the object; a missing object is not an error
func (s *GCSStorage) Delete(ctx context.Context, key string) error {
	_, obj, err := s.object(key)
	if err != nil {
		return err
	}

	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// URL returns a V4 signed URL. The credentials must be able to sign blobs
// (a service account key or iam.serviceAccountTokenCreator for ADC).
func (s *GCSStorage) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	key, _ = appstorage.CleanKey(key)

	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}

// EnsureBucket creates the bucket in the configured project when it is missing
func (s *GCSStorage) EnsureBucket(ctx context.Context) error {
	bucket := s.client.Bucket(s.bucket)

	_, err := bucket.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if s.projectID == "" {
		return fmt.Errorf("project_id is required to create a bucket")
	}
	if err := bucket.Create(ctx, s.projectID, nil); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
