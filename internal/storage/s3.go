// Package storage hands out presigned S3 URLs for message attachments.
// Clients upload and download directly; the API only stores object keys.
package storage

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/oggyb/chaperone/internal/config"
	svcErr "github.com/oggyb/chaperone/internal/errors"
)

// KeyPrefix is the folder every attachment lives under.
const KeyPrefix = "attachments/"

// Presigner signs upload and read URLs for one bucket.
type Presigner struct {
	client *s3.PresignClient
	bucket string
	expiry time.Duration
}

// New loads the AWS config (env, shared files) for the configured region.
// A non-empty Storage.Endpoint targets an S3-compatible store with path-style
// addressing. Extra load options are applied last.
func New(ctx context.Context, cfg *config.Config, optFns ...func(*awsconfig.LoadOptions) error) (*Presigner, error) {
	opts := append([]func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.Region)}, optFns...)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.Storage.Endpoint
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	expiry := cfg.Storage.PresignExpiry
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &Presigner{
		client: s3.NewPresignClient(client),
		bucket: cfg.Storage.Bucket,
		expiry: expiry,
	}, nil
}

// UploadURL signs a PUT for a fresh key owned by ownerID.
func (p *Presigner) UploadURL(ctx context.Context, ownerID uint64, fileName, contentType string) (string, string, error) {
	name := path.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == "/" {
		return "", "", fmt.Errorf("file name is required: %w", svcErr.ErrInvalidArgument)
	}
	key := fmt.Sprintf("%s%d/%s-%s", KeyPrefix, ownerID, uuid.NewString(), name)

	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", "", fmt.Errorf("presign upload: %w", err)
	}
	return req.URL, key, nil
}

// ReadURL signs a GET for an existing attachment key.
func (p *Presigner) ReadURL(ctx context.Context, key string) (string, error) {
	if !IsAttachmentKey(key) {
		return "", fmt.Errorf("attachment key %q: %w", key, svcErr.ErrInvalidArgument)
	}
	req, err := p.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.expiry))
	if err != nil {
		return "", fmt.Errorf("presign read: %w", err)
	}
	return req.URL, nil
}

// IsAttachmentKey reports whether key looks like one UploadURL handed out.
func IsAttachmentKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && !strings.Contains(key, "..") && len(key) > len(KeyPrefix)
}

// OwnerOf returns the account id encoded in an attachment key.
func OwnerOf(key string) (uint64, bool) {
	if !IsAttachmentKey(key) {
		return 0, false
	}
	owner, _, found := strings.Cut(strings.TrimPrefix(key, KeyPrefix), "/")
	if !found {
		return 0, false
	}
	id, err := strconv.ParseUint(owner, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
