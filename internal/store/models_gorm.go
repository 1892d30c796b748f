package store

type packageTierRow struct {
	PackageID      string  `gorm:"column:package_id;primaryKey"`
	PackageType    string  `gorm:"column:package_type;primaryKey"`
	CurrentTier    string  `gorm:"column:current_tier"`
	CurrentBackend string  `gorm:"column:current_backend"`
	ObjectKey      string  `gorm:"column:object_key"`
	SizeBytes      int64   `gorm:"column:size_bytes"`
	Checksum       *string `gorm:"column:checksum"`
	LastAccessAt   string  `gorm:"column:last_access_at"`
	AccessCount    int64   `gorm:"column:access_count"`
	CreatedAt      string  `gorm:"column:created_at"`
	UpdatedAt      string  `gorm:"column:updated_at"`
}

func (packageTierRow) TableName() string { return "package_storage_tiers" }

type migrationTaskRow struct {
	ID               string  `gorm:"column:id;primaryKey"`
	PackageID        string  `gorm:"column:package_id"`
	PackageType      string  `gorm:"column:package_type"`
	FromBackend      string  `gorm:"column:from_backend"`
	ToBackend        string  `gorm:"column:to_backend"`
	FromTier         string  `gorm:"column:from_tier"`
	ToTier           string  `gorm:"column:to_tier"`
	Priority         int     `gorm:"column:priority"`
	EstimatedSavings float64 `gorm:"column:estimated_savings"`
	Status           string  `gorm:"column:status"`
	ErrorMessage     *string `gorm:"column:error_message"`
	CreatedAt        string  `gorm:"column:created_at"`
	StartedAt        *string `gorm:"column:started_at"`
	CompletedAt      *string `gorm:"column:completed_at"`
}

func (migrationTaskRow) TableName() string { return "migration_tasks" }

type costMetricsRow struct {
	Date          string  `gorm:"column:date;primaryKey"`
	Tier          string  `gorm:"column:tier;primaryKey"`
	Backend       string  `gorm:"column:backend;primaryKey"`
	StorageGB     float64 `gorm:"column:storage_gb"`
	DownloadGB    float64 `gorm:"column:download_gb"`
	StorageCost   float64 `gorm:"column:storage_cost"`
	BandwidthCost float64 `gorm:"column:bandwidth_cost"`
	TotalCost     float64 `gorm:"column:total_cost"`
	PackageCount  int64   `gorm:"column:package_count"`
	UpdatedAt     string  `gorm:"column:updated_at"`
}

func (costMetricsRow) TableName() string { return "storage_cost_metrics" }

type sourceCleanupRow struct {
	ID          string  `gorm:"column:id;primaryKey"`
	TaskID      *string `gorm:"column:task_id"`
	PackageID   string  `gorm:"column:package_id"`
	PackageType string  `gorm:"column:package_type"`
	Backend     string  `gorm:"column:backend"`
	ObjectKey   string  `gorm:"column:object_key"`
	DeleteAfter string  `gorm:"column:delete_after"`
	DeletedAt   *string `gorm:"column:deleted_at"`
	Attempts    int     `gorm:"column:attempts"`
	LastError   *string `gorm:"column:last_error"`
}

func (sourceCleanupRow) TableName() string { return "source_cleanups" }

type tierBackendUsageRow struct {
	Tier         string `gorm:"column:tier"`
	Backend      string `gorm:"column:backend"`
	PackageCount int64  `gorm:"column:package_count"`
	TotalBytes   int64  `gorm:"column:total_bytes"`
}

type statusCountRow struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}
