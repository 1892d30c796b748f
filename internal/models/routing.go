package models

type RouteContext struct {
	UploadSource UploadSource `json:"uploadSource"`
	PackageType  string       `json:"packageType"`
	FileSize     int64        `json:"fileSize"`
	UserID       string       `json:"userId,omitempty"`
	IsTest       bool         `json:"isTest,omitempty"`
}

// RouteRule names the routing rule that produced a decision.
type RouteRule string

const (
	RuleNonProduction RouteRule = "non_production"
	RuleAgentUpload   RouteRule = "ai_agent_upload"
	RuleVeryLarge     RouteRule = "very_large_file"
	RuleLarge         RouteRule = "large_file"
	RuleUserUpload    RouteRule = "user_upload"
	RuleFallback      RouteRule = "fallback"
	RuleCheapest      RouteRule = "cheapest_available"
)

type RouteDecision struct {
	Backend       BackendName `json:"backend"`
	Reason        string      `json:"reason"`
	Rule          RouteRule   `json:"rule"`
	EstimatedCost float64     `json:"estimatedCost"`
}

type CostQuote struct {
	Backend       BackendName `json:"backend"`
	StorageCost   float64     `json:"storageCost"`
	BandwidthCost float64     `json:"bandwidthCost"`
	TotalCost     float64     `json:"totalCost"`
}

type UploadResult struct {
	PackageID     string      `json:"packageId"`
	PackageType   string      `json:"packageType"`
	Backend       BackendName `json:"backend"`
	Key           string      `json:"key"`
	URL           string      `json:"url"`
	Reason        string      `json:"reason"`
	EstimatedCost float64     `json:"estimatedCost"`
	SizeBytes     int64       `json:"sizeBytes"`
	Checksum      string      `json:"checksum"`
}

type DownloadURL struct {
	PackageID string      `json:"packageId"`
	Backend   BackendName `json:"backend"`
	URL       string      `json:"url"`
	ExpiresAt string      `json:"expiresAt"`
}
