package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"storagetier/internal/config"
	"storagetier/internal/errs"
	"storagetier/internal/models"
)

// S3 talks to AWS S3 and S3-API providers addressed through aws-sdk-go-v2 (Cloudflare R2).
type S3 struct {
	name     models.BackendName
	profile  models.BackendCostProfile
	bucket   string
	endpoint string
	region   string
	client   *s3.Client
	presign  *s3.PresignClient
	now      func() time.Time
}

func NewS3(ctx context.Context, cfg config.BackendConfig, profile models.BackendCostProfile) (*S3, error) {
	if missing := cfg.Missing(); len(missing) > 0 {
		return nil, errs.Configuration("backend.NewS3", "%s: missing %s", cfg.Name, strings.Join(missing, ", "))
	}
	if cfg.Region == "" {
		return nil, errs.Configuration("backend.NewS3", "%s: region is required", cfg.Name)
	}
	if cfg.Endpoint != "" {
		if _, err := url.Parse(cfg.Endpoint); err != nil {
			return nil, errs.Configuration("backend.NewS3", "%s: invalid endpoint %q", cfg.Name, cfg.Endpoint)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, errs.Configuration("backend.NewS3", "%s: load aws config: %v", cfg.Name, err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3{
		name:     cfg.Name,
		profile:  profile,
		bucket:   cfg.Bucket,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		region:   cfg.Region,
		client:   client,
		presign:  s3.NewPresignClient(client),
		now:      time.Now,
	}, nil
}

func (b *S3) Name() models.BackendName { return b.name }

func (b *S3) CostProfile() models.BackendCostProfile { return b.profile }

func (b *S3) Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      objectMetadata(data, b.now()),
	})
	if err != nil {
		return PutResult{}, classifyS3Error("s3.Put", err)
	}
	return PutResult{URL: b.objectURL(key), Key: key}, nil
}

func (b *S3) Get(ctx context.Context, key string, expiresIn time.Duration) (GetResult, error) {
	expiresIn = normalizeExpiry(expiresIn)
	req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiresIn))
	if err != nil {
		return GetResult{}, classifyS3Error("s3.Get", err)
	}
	return GetResult{URL: req.URL, ExpiresAt: b.now().Add(expiresIn).UTC()}, nil
}

func (b *S3) Delete(ctx context.Context, key string) (DeleteResult, error) {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return DeleteResult{}, classifyS3Error("s3.Delete", err)
	}
	return DeleteResult{}, nil
}

func (b *S3) HealthCheck(ctx context.Context) bool {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err == nil
}

func (b *S3) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classifyS3Error("s3.Fetch", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errs.BackendUnavailable("s3.Fetch", err)
	}
	return data, nil
}

func (b *S3) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return ObjectInfo{}, classifyS3Error("s3.Stat", err)
	}
	var lastModified time.Time
	if out.LastModified != nil {
		lastModified = *out.LastModified
	}
	return objectInfoFromMetadata(key, aws.ToInt64(out.ContentLength), aws.ToString(out.ContentType), out.Metadata, lastModified), nil
}

func (b *S3) objectURL(key string) string {
	if b.endpoint != "" {
		return b.endpoint + "/" + b.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.bucket, b.region, key)
}

// classifyS3Error maps SDK errors onto the shared error kinds.
func classifyS3Error(op string, err error) error {
	if err == nil {
		return nil
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errs.NotFound(op, "object not found")
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return errs.NotFound(op, "object not found")
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return errs.NotFound(op, "object not found")
		case "NoSuchBucket":
			return errs.Configuration(op, "bucket does not exist")
		}
	}
	return errs.BackendUnavailable(op, err)
}
