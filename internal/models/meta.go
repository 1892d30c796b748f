package models

type MetaResponse struct {
	Environment      string                   `json:"environment"`
	ServerAddr       string                   `json:"serverAddr"`
	APITokenEnabled  bool                     `json:"apiTokenEnabled"`
	SchedulerEnabled bool                     `json:"schedulerEnabled"`
	DailyRunAt       string                   `json:"dailyRunAt"`
	UploadMaxBytes   *int64                   `json:"uploadMaxBytes,omitempty"`
	Backends         []BackendStatus          `json:"backends"`
	Tiers            map[DataTier]BackendName `json:"tiers"`
}

type BackendStatus struct {
	Name    BackendName        `json:"name"`
	Healthy bool               `json:"healthy"`
	Profile BackendCostProfile `json:"profile"`
}
