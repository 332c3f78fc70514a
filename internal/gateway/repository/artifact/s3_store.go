package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultURLExpiry = time.Hour

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object key, "uploads" when blank.
	Prefix string
	// URLExpiry bounds presigned download links.
	URLExpiry time.Duration
}

// S3Store keeps uploads in an S3 compatible bucket under
// <prefix>/<scope>/<name>. Downloads go through presigned URLs that carry
// the original file name.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string
	expiry time.Duration

	mu    sync.Mutex
	ready bool
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access, secret := strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := firstNonBlank(cfg.Region, "us-east-1")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(firstNonBlank(cfg.Prefix, "uploads"), "/"),
		expiry: expiry,
	}, nil
}

// ensureBucket creates the bucket on first use. A failed attempt is retried
// on the next call.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("ensure bucket: %w", err)
		}
	}
	s.ready = true
	return nil
}

func (s *S3Store) key(scope, name string) string {
	return s.prefix + "/" + objectKey(scope, name)
}

func (s *S3Store) Put(ctx context.Context, scope, name string, content []byte, contentType string) error {
	scope, name, err := validate(scope, name)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(scope, name), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:        contentType,
		ContentDisposition: disposition("inline", name),
		UserMetadata:       map[string]string{"scope": scope},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, scope, name string) ([]byte, error) {
	scope, name, err := validate(scope, name)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(scope, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, scope string) ([]string, error) {
	scope = strings.Trim(strings.TrimSpace(scope), "/")
	if scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	prefix := s.prefix + "/" + scope + "/"
	names := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(obj.Key, prefix); name != "" && !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetURL presigns a download link that saves under the uploaded file name.
func (s *S3Store) GetURL(ctx context.Context, scope, name string) (string, error) {
	scope, name, err := validate(scope, name)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("response-content-disposition", disposition("attachment", name))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, s.key(scope, name), s.expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func disposition(kind, name string) string {
	return mime.FormatMediaType(kind, map[string]string{"filename": path.Base(name)})
}

func notFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return err
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
