package models

type CostBucket struct {
	Tier         DataTier    `json:"tier"`
	Backend      BackendName `json:"backend"`
	StorageGB    float64     `json:"storageGB"`
	DownloadGB   float64     `json:"downloadGB"`
	MonthlyCost  float64     `json:"monthlyCost"`
	PackageCount int64       `json:"packageCount"`
}

type CostBreakdown struct {
	Monthly float64              `json:"monthly"`
	ByTier  map[DataTier]float64 `json:"byTier"`
	Buckets []CostBucket         `json:"buckets"`
}

type CostSavings struct {
	Monthly    float64 `json:"monthly"`
	Yearly     float64 `json:"yearly"`
	Percentage float64 `json:"percentage"`
}

type CostComparison struct {
	WindowDays int           `json:"windowDays"`
	Current    CostBreakdown `json:"current"`
	Optimized  CostBreakdown `json:"optimized"`
	Savings    CostSavings   `json:"savings"`
}

type RecommendationType string

const (
	RecommendMigrate  RecommendationType = "migrate"
	RecommendDelete   RecommendationType = "delete"
	RecommendCompress RecommendationType = "compress"
)

type RecommendationPriority string

const (
	PriorityHigh   RecommendationPriority = "high"
	PriorityMedium RecommendationPriority = "medium"
	PriorityLow    RecommendationPriority = "low"
)

type Recommendation struct {
	PackageID        string                 `json:"packageId"`
	PackageType      string                 `json:"packageType"`
	Type             RecommendationType     `json:"type"`
	CurrentTier      DataTier               `json:"currentTier"`
	TargetTier       *DataTier              `json:"targetTier,omitempty"`
	Priority         RecommendationPriority `json:"priority"`
	EstimatedSavings float64                `json:"estimatedSavings"`
	DaysSinceAccess  int                    `json:"daysSinceAccess"`
	Reason           string                 `json:"reason"`
}

type CostTrendPoint struct {
	Date          string  `json:"date"`
	StorageGB     float64 `json:"storageGB"`
	StorageCost   float64 `json:"storageCost"`
	BandwidthCost float64 `json:"bandwidthCost"`
	TotalCost     float64 `json:"totalCost"`
}

type DistributionEntry struct {
	PackageCount int64   `json:"packageCount"`
	StorageGB    float64 `json:"storageGB"`
	Percentage   float64 `json:"percentage"`
}

type StorageDistribution struct {
	TotalPackages int64                             `json:"totalPackages"`
	TotalGB       float64                           `json:"totalGB"`
	ByTier        map[DataTier]DistributionEntry    `json:"byTier"`
	ByBackend     map[BackendName]DistributionEntry `json:"byBackend"`
}
