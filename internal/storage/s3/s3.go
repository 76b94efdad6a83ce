// Package s3 implements the S3-compatible export store (AWS S3, MinIO and other
// services reachable through a custom endpoint). Downloads are handed out as
// pre-signed URLs. Supported authentication: the default AWS credential chain,
// static key/secret, OIDC web identity and AssumeRole.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	appconfig "github.com/openregister/openregister/internal/config"
	"github.com/openregister/openregister/internal/storage"
)

func init() {
	storage.Register("s3", func(cfg *appconfig.Config) (storage.Storage, error) {
		return New(&cfg.Export.S3)
	})
}

// S3Storage stores exported documents as objects in one bucket
type S3Storage struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	region        string
}

// New creates the S3 export store.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env, shared config, IAM role)
//   - "static": explicit access key and secret key
//   - "oidc": web identity token exchanged through STS (EKS, CI runners)
//   - "assume_role": STS AssumeRole, optionally with an external ID
func New(cfg *appconfig.S3StorageConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}

	authMethod := cfg.AuthMethod
	if authMethod == "" {
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			authMethod = "static"
		} else {
			authMethod = "default"
		}
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	switch authMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "oidc", "assume_role", "default":
		// role based methods are layered on top of the base config below
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default', 'static', 'oidc', or 'assume_role')", authMethod)
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	switch authMethod {
	case "oidc":
		provider, err := webIdentityProvider(awsCfg, cfg)
		if err != nil {
			return nil, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	case "assume_role":
		provider, err := assumeRoleProvider(awsCfg, cfg)
		if err != nil {
			return nil, err
		}
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return &S3Storage{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		region:        cfg.Region,
	}, nil
}

func webIdentityProvider(awsCfg aws.Config, cfg *appconfig.S3StorageConfig) (aws.CredentialsProvider, error) {
	if cfg.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required for OIDC auth")
	}
	if cfg.WebIdentityTokenFile == "" {
		return nil, fmt.Errorf("web_identity_token_file is required for OIDC auth")
	}

	var webOpts []func(*stscreds.WebIdentityRoleOptions)
	if cfg.RoleSessionName != "" {
		webOpts = append(webOpts, func(o *stscreds.WebIdentityRoleOptions) {
			o.RoleSessionName = cfg.RoleSessionName
		})
	}
	return stscreds.NewWebIdentityRoleProvider(
		sts.NewFromConfig(awsCfg),
		cfg.RoleARN,
		stscreds.IdentityTokenFile(cfg.WebIdentityTokenFile),
		webOpts...,
	), nil
}

func assumeRoleProvider(awsCfg aws.Config, cfg *appconfig.S3StorageConfig) (aws.CredentialsProvider, error) {
	if cfg.RoleARN == "" {
		return nil, fmt.Errorf("role_arn is required for assume_role auth")
	}

	var roleOpts []func(*stscreds.AssumeRoleOptions)
	if cfg.RoleSessionName != "" {
		roleOpts = append(roleOpts, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = cfg.RoleSessionName
		})
	}
	if cfg.ExternalID != "" {
		roleOpts = append(roleOpts, func(o *stscreds.AssumeRoleOptions) {
			o.ExternalID = aws.String(cfg.ExternalID)
		})
	}
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, roleOpts...), nil
}

// isNotFound recognises the typed and untyped 404 errors returned by the SDK
func isNotFound(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	var status interface{ HTTPStatusCode() int }
	return errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound
}

// Put uploads the document with its SHA256 stored as object metadata
func (s *S3Storage) Put(ctx context.Context, key string, body []byte, contentType string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	checksum := storage.Checksum(body)
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata:      map[string]string{storage.ChecksumMetadataKey: checksum},
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &storage.Object{
		Key:          key,
		Size:         int64(len(body)),
		Checksum:     checksum,
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

// Get downloads the whole document
func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, *storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, nil, err
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil, storage.ErrNotExist
		}
		return nil, nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	obj := &storage.Object{
		Key:         key,
		Size:        int64(len(body)),
		Checksum:    result.Metadata[storage.ChecksumMetadataKey],
		ContentType: aws.ToString(result.ContentType),
	}
	if obj.Checksum == "" {
		obj.Checksum = storage.Checksum(body)
	}
	if result.LastModified != nil {
		obj.LastModified = *result.LastModified
	}
	return body, obj, nil
}

// Stat issues a HEAD request for the document
func (s *S3Storage) Stat(ctx context.Context, key string) (*storage.Object, error) {
	key, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}

	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotExist
		}
		return nil, fmt.Errorf("failed to get object metadata: %w", err)
	}

	obj := &storage.Object{
		Key:         key,
		Size:        aws.ToInt64(result.ContentLength),
		Checksum:    result.Metadata[storage.ChecksumMetadataKey],
		ContentType: aws.ToString(result.ContentType),
	}
	if result.LastModified != nil {
		obj.LastModified = *result.LastModified
	}
	return obj, nil
}

// List pages through ListObjectsV2 below prefix
func (s *S3Storage) List(ctx context.Context, prefix string) ([]storage.Object, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var out []storage.Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, item := range page.Contents {
			if item.Key == nil {
				continue
			}
			obj := storage.Object{Key: *item.Key, Size: aws.ToInt64(item.Size)}
			if item.LastModified != nil {
				obj.LastModified = *item.LastModified
			}
			out = append(out, obj)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the document; S3 treats missing keys as success
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	key, err := storage.CleanKey(key)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}
	return nil
}

// URL returns a pre-signed GET URL valid for ttl
func (s *S3Storage) URL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.Stat(ctx, key); err != nil {
		return "", err
	}
	key, _ = storage.CleanKey(key)

	request, err := s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = ttl
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return request.URL, nil
}

// EnsureBucket creates the bucket when it does not exist yet
func (s *S3Storage) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}
