// Package backend wraps the object stores packages can live on behind one contract.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"storagetier/internal/models"
)

const (
	metaChecksum   = "sha256"
	metaUploadedAt = "uploaded-at"
)

// Adapter is the operation set every storage backend exposes.
type Adapter interface {
	Name() models.BackendName
	Put(ctx context.Context, key string, data []byte, contentType string) (PutResult, error)
	// Get returns a time-limited signed download URL.
	Get(ctx context.Context, key string, expiresIn time.Duration) (GetResult, error)
	Delete(ctx context.Context, key string) (DeleteResult, error)
	HealthCheck(ctx context.Context) bool
	CostProfile() models.BackendCostProfile
	Fetch(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
}

type PutResult struct {
	URL string
	Key string
}

type GetResult struct {
	URL       string
	ExpiresAt time.Time
}

type DeleteResult struct {
	EarlyDeletion bool
	Warning       string
	// SizeBytes of the deleted object, 0 when unknown.
	SizeBytes int64
}

type ObjectInfo struct {
	Key         string
	Size        int64
	Checksum    string
	ContentType string
	UploadedAt  time.Time
}

// ObjectKey is the storage key for a package on every backend.
func ObjectKey(packageType, packageID string) string {
	return "packages/" + packageType + "/" + packageID
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func objectMetadata(data []byte, now time.Time) map[string]string {
	return map[string]string{
		metaChecksum:   Checksum(data),
		metaUploadedAt: now.UTC().Format(time.RFC3339),
	}
}

// metadataValue looks a key up case-insensitively; providers canonicalize user metadata differently.
func metadataValue(meta map[string]string, key string) string {
	for k, v := range meta {
		if strings.EqualFold(k, key) || strings.EqualFold(k, "x-amz-meta-"+key) {
			return v
		}
	}
	return ""
}

func objectInfoFromMetadata(key string, size int64, contentType string, meta map[string]string, fallback time.Time) ObjectInfo {
	info := ObjectInfo{
		Key:         key,
		Size:        size,
		ContentType: contentType,
		Checksum:    metadataValue(meta, metaChecksum),
		UploadedAt:  fallback,
	}
	if raw := metadataValue(meta, metaUploadedAt); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			info.UploadedAt = t
		}
	}
	return info
}

func normalizeExpiry(expiresIn time.Duration) time.Duration {
	const maxExpiry = 7 * 24 * time.Hour
	if expiresIn <= 0 {
		return time.Hour
	}
	if expiresIn > maxExpiry {
		return maxExpiry
	}
	return expiresIn
}
