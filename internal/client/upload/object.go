package upload

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type ObjectConfig struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	URLExpiry time.Duration
}

// ObjectUploader puts files straight into an S3 compatible bucket and
// returns a presigned URL for each.
type ObjectUploader struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	expiry   time.Duration
	initOnce sync.Once
	initErr  error
}

func NewObjectUploader(cfg ObjectConfig) (*ObjectUploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &ObjectUploader{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
		expiry: expiry,
	}, nil
}

func (u *ObjectUploader) ensureBucket(ctx context.Context) error {
	u.initOnce.Do(func() {
		exists, err := u.client.BucketExists(ctx, u.bucket)
		if err != nil {
			u.initErr = err
			return
		}
		if exists {
			return
		}
		u.initErr = u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{Region: u.region})
	})
	return u.initErr
}

func (u *ObjectUploader) objectKey(p Payload) string {
	return path.Join(u.prefix, p.ID, path.Base(p.Name))
}

func (u *ObjectUploader) Upload(ctx context.Context, p Payload, progress Progress) (Ref, error) {
	if err := u.ensureBucket(ctx); err != nil {
		return Ref{}, fmt.Errorf("ensure bucket: %w", err)
	}
	key := u.objectKey(p)
	opts := minio.PutObjectOptions{ContentType: p.Type}
	if progress != nil {
		opts.Progress = &progressReader{id: p.ID, total: p.Size, report: progress}
	}
	if _, err := u.client.PutObject(ctx, u.bucket, key, bytes.NewReader(p.Data), p.Size, opts); err != nil {
		return Ref{}, err
	}
	signed, err := u.client.PresignedGetObject(ctx, u.bucket, key, u.expiry, nil)
	if err != nil {
		return Ref{}, err
	}
	return Ref{ID: p.ID, Name: p.Name, URL: signed.String(), ObjectKey: key}, nil
}

// progressReader is handed to minio, which reads len(b) from it for every
// len(b) bytes uploaded.
type progressReader struct {
	id     string
	total  int64
	sent   atomic.Int64
	report Progress
}

func (r *progressReader) Read(b []byte) (int, error) {
	n := len(b)
	sent := r.sent.Add(int64(n))
	if sent > r.total {
		sent = r.total
	}
	r.report(r.id, sent, r.total)
	return n, nil
}
