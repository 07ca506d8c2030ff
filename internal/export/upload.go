package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/url"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectStore is the subset of *minio.Client the uploader uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

type UploaderConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Uploader publishes export results to S3-compatible storage.
type Uploader struct {
	client objectStore
	bucket string
	expiry time.Duration
}

type Upload struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

func NewUploader(cfg UploaderConfig) (*Uploader, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return newUploader(client, cfg.Bucket), nil
}

func newUploader(client objectStore, bucket string) *Uploader {
	return &Uploader{client: client, bucket: bucket, expiry: 24 * time.Hour}
}

// Upload stores result under drafts/<draftID>/ and returns a presigned link.
func (u *Uploader) Upload(ctx context.Context, draftID string, result *Result) (Upload, error) {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return Upload{}, fmt.Errorf("check bucket %s: %w", u.bucket, err)
	}
	if !exists {
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			return Upload{}, fmt.Errorf("create bucket %s: %w", u.bucket, err)
		}
		log.Printf("export: created bucket %s", u.bucket)
	}

	key := path.Join("drafts", draftID, result.Filename)
	info, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(result.Data), int64(len(result.Data)), minio.PutObjectOptions{
		ContentType: result.MimeType,
	})
	if err != nil {
		return Upload{}, fmt.Errorf("upload %s: %w", key, err)
	}

	link, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.expiry, url.Values{})
	if err != nil {
		return Upload{}, fmt.Errorf("presign %s: %w", key, err)
	}
	return Upload{Key: key, Size: info.Size, URL: link.String()}, nil
}
