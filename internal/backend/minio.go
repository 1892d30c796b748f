package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"storagetier/internal/config"
	"storagetier/internal/errs"
	"storagetier/internal/models"
)

// Minio talks to S3-compatible providers through minio-go (Backblaze B2, Wasabi).
type Minio struct {
	name     models.BackendName
	profile  models.BackendCostProfile
	bucket   string
	endpoint string
	secure   bool
	client   *minio.Client
	now      func() time.Time
}

func NewMinio(cfg config.BackendConfig, profile models.BackendCostProfile) (*Minio, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, errs.Configuration("backend.NewMinio", "%s: missing %s", cfg.Name, strings.Join(missing, ", "))
	}

	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimRight(endpoint, "/")
	secure := cfg.UseSSL
	if strings.HasPrefix(cfg.Endpoint, "https://") {
		secure = true
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errs.Configuration("backend.NewMinio", "%s: %v", cfg.Name, err)
	}

	return &Minio{
		name:     cfg.Name,
		profile:  profile,
		bucket:   cfg.Bucket,
		endpoint: endpoint,
		secure:   secure,
		client:   client,
		now:      time.Now,
	}, nil
}

func (b *Minio) Name() models.BackendName { return b.name }

func (b *Minio) CostProfile() models.BackendCostProfile { return b.profile }

func (b *Minio) Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: objectMetadata(data, b.now()),
	})
	if err != nil {
		return PutResult{}, classifyMinioError("minio.Put", err)
	}
	return PutResult{URL: b.objectURL(key), Key: key}, nil
}

func (b *Minio) Get(ctx context.Context, key string, expiresIn time.Duration) (GetResult, error) {
	expiresIn = normalizeExpiry(expiresIn)
	u, err := b.client.PresignedGetObject(ctx, b.bucket, key, expiresIn, nil)
	if err != nil {
		return GetResult{}, classifyMinioError("minio.Get", err)
	}
	return GetResult{URL: u.String(), ExpiresAt: b.now().Add(expiresIn).UTC()}, nil
}

func (b *Minio) Delete(ctx context.Context, key string) (DeleteResult, error) {
	if err := b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return DeleteResult{}, classifyMinioError("minio.Delete", err)
	}
	return DeleteResult{}, nil
}

func (b *Minio) HealthCheck(ctx context.Context) bool {
	ok, err := b.client.BucketExists(ctx, b.bucket)
	return err == nil && ok
}

func (b *Minio) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioError("minio.Fetch", err)
	}
	defer obj.Close()
	// GetObject is lazy; missing keys surface on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinioError("minio.Fetch", err)
	}
	return data, nil
}

func (b *Minio) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, classifyMinioError("minio.Stat", err)
	}
	return objectInfoFromMetadata(key, info.Size, info.ContentType, info.UserMetadata, info.LastModified), nil
}

func (b *Minio) objectURL(key string) string {
	scheme := "http"
	if b.secure {
		scheme = "https"
	}
	return scheme + "://" + b.endpoint + "/" + b.bucket + "/" + key
}

func classifyMinioError(op string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NotFound":
		return errs.NotFound(op, "object not found")
	case resp.Code == "NoSuchBucket":
		return errs.Configuration(op, "bucket does not exist")
	case resp.StatusCode == http.StatusNotFound:
		return errs.NotFound(op, "object not found")
	}
	return errs.BackendUnavailable(op, err)
}
