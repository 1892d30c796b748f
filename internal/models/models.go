package models

import (
	"fmt"
	"strings"
)

type ErrorResponse struct {
	Error APIError `json:"error"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DataTier classifies a package by access recency.
type DataTier string

const (
	TierHot  DataTier = "hot"
	TierWarm DataTier = "warm"
	TierCold DataTier = "cold"
)

var AllTiers = []DataTier{TierHot, TierWarm, TierCold}

func (t DataTier) Valid() bool {
	switch t {
	case TierHot, TierWarm, TierCold:
		return true
	}
	return false
}

// Rank orders tiers from hottest (0) to coldest (2).
func (t DataTier) Rank() int {
	switch t {
	case TierHot:
		return 0
	case TierWarm:
		return 1
	case TierCold:
		return 2
	}
	return -1
}

func ParseTier(raw string) (DataTier, error) {
	t := DataTier(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown data tier %q", raw)
	}
	return t, nil
}

type BackendName string

const (
	BackendS3     BackendName = "s3"
	BackendR2     BackendName = "r2"
	BackendB2     BackendName = "b2"
	BackendWasabi BackendName = "wasabi"
)

var AllBackends = []BackendName{BackendS3, BackendR2, BackendB2, BackendWasabi}

func ParseBackendName(raw string) (BackendName, error) {
	b := BackendName(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllBackends {
		if b == known {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown storage backend %q", raw)
}

type UploadSource string

const (
	UploadSourceAgent UploadSource = "ai_agent"
	UploadSourceUser  UploadSource = "user"
)

// ParseUploadSource treats an empty value as a user upload.
func ParseUploadSource(raw string) (UploadSource, error) {
	switch src := UploadSource(strings.ToLower(strings.TrimSpace(raw))); src {
	case "":
		return UploadSourceUser, nil
	case UploadSourceAgent, UploadSourceUser:
		return src, nil
	default:
		return "", fmt.Errorf("unknown upload source %q (expected ai_agent or user)", raw)
	}
}

type MigrationStatus string

const (
	MigrationPending    MigrationStatus = "pending"
	MigrationProcessing MigrationStatus = "processing"
	MigrationCompleted  MigrationStatus = "completed"
	MigrationFailed     MigrationStatus = "failed"
)

func (s MigrationStatus) Terminal() bool {
	return s == MigrationCompleted || s == MigrationFailed
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to MigrationStatus) bool {
	switch from {
	case MigrationPending:
		return to == MigrationProcessing || to == MigrationFailed
	case MigrationProcessing:
		return to == MigrationCompleted || to == MigrationFailed
	}
	return false
}

type BackendCostProfile struct {
	BackendName        BackendName `json:"backendName" yaml:"backendName"`
	StorageCostPerGB   float64     `json:"storageCostPerGB" yaml:"storageCostPerGB"`
	BandwidthCostPerGB float64     `json:"bandwidthCostPerGB" yaml:"bandwidthCostPerGB"`
	APICostPer1000     float64     `json:"apiCostPer1000" yaml:"apiCostPer1000"`
	MinRetentionDays   int         `json:"minRetentionDays,omitempty" yaml:"minRetentionDays"`
}

type PackageStorageTier struct {
	PackageID      string      `json:"packageId"`
	PackageType    string      `json:"packageType"`
	CurrentTier    DataTier    `json:"currentTier"`
	CurrentBackend BackendName `json:"currentBackend"`
	ObjectKey      string      `json:"objectKey"`
	SizeBytes      int64       `json:"sizeBytes"`
	Checksum       string      `json:"checksum,omitempty"`
	LastAccessAt   string      `json:"lastAccessAt"`
	AccessCount    int64       `json:"accessCount"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

type MigrationTask struct {
	ID               string          `json:"id"`
	PackageID        string          `json:"packageId"`
	PackageType      string          `json:"packageType"`
	FromBackend      BackendName     `json:"fromBackend"`
	ToBackend        BackendName     `json:"toBackend"`
	FromTier         DataTier        `json:"fromTier"`
	ToTier           DataTier        `json:"toTier"`
	Priority         int             `json:"priority"`
	EstimatedSavings float64         `json:"estimatedSavings"`
	Status           MigrationStatus `json:"status"`
	ErrorMessage     *string         `json:"errorMessage,omitempty"`
	CreatedAt        string          `json:"createdAt"`
	StartedAt        *string         `json:"startedAt,omitempty"`
	CompletedAt      *string         `json:"completedAt,omitempty"`
}

type MigrationTaskFilter struct {
	Status      *MigrationStatus
	PackageID   string
	PackageType string
	Limit       int
	Cursor      *string
}

type MigrationTaskList struct {
	Items      []MigrationTask `json:"items"`
	NextCursor *string         `json:"nextCursor,omitempty"`
}

type MigrationCandidate struct {
	PackageID       string   `json:"packageId"`
	PackageType     string   `json:"packageType"`
	CurrentTier     DataTier `json:"currentTier"`
	RecommendedTier DataTier `json:"recommendedTier"`
	DaysSinceAccess int      `json:"daysSinceAccess"`
}

type MigrationResult struct {
	Success     bool   `json:"success"`
	TaskID      string `json:"taskId"`
	Error       string `json:"error,omitempty"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

type ProcessSummary struct {
	Claimed   int               `json:"claimed"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   bool              `json:"skipped"`
	Results   []MigrationResult `json:"results,omitempty"`
}

type DailyCheckResult struct {
	Candidates int `json:"candidates"`
	Queued     int `json:"queued"`
	// AlreadyQueued counts candidates that already had an active task.
	AlreadyQueued int            `json:"alreadyQueued"`
	Processed     ProcessSummary `json:"processed"`
}

type QueueStatus struct {
	Pending      int64   `json:"pending"`
	Processing   int64   `json:"processing"`
	Completed    int64   `json:"completed"`
	Failed       int64   `json:"failed"`
	TotalSavings float64 `json:"totalSavings"`
}

// SourceCleanup is a superseded copy of a package waiting for deletion. TaskID is nil when the
// copy was replaced by a re-upload rather than a migration.
type SourceCleanup struct {
	ID          string      `json:"id"`
	TaskID      *string     `json:"taskId,omitempty"`
	PackageID   string      `json:"packageId"`
	PackageType string      `json:"packageType"`
	Backend     BackendName `json:"backend"`
	ObjectKey   string      `json:"objectKey"`
	DeleteAfter string      `json:"deleteAfter"`
	DeletedAt   *string     `json:"deletedAt,omitempty"`
	Attempts    int         `json:"attempts"`
	LastError   *string     `json:"lastError,omitempty"`
}

type StorageCostMetrics struct {
	Date          string      `json:"date"`
	Tier          DataTier    `json:"tier"`
	Backend       BackendName `json:"backend"`
	StorageGB     float64     `json:"storageGB"`
	DownloadGB    float64     `json:"downloadGB"`
	StorageCost   float64     `json:"storageCost"`
	BandwidthCost float64     `json:"bandwidthCost"`
	TotalCost     float64     `json:"totalCost"`
	PackageCount  int64       `json:"packageCount"`
}

// TierBackendUsage is a live aggregate of tracked packages per placement.
type TierBackendUsage struct {
	Tier         DataTier    `json:"tier"`
	Backend      BackendName `json:"backend"`
	PackageCount int64       `json:"packageCount"`
	TotalBytes   int64       `json:"totalBytes"`
}
