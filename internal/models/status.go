package models

// Status reports archive and upload settings.
type Status struct {
	Analyses          int64    `json:"analyses"`
	Indexed           uint64   `json:"indexed"`
	DiskUsageBytes    int64    `json:"disk_usage_bytes"`
	VisionEndpoint    string   `json:"vision_endpoint,omitempty"`
	AllowedExtensions []string `json:"allowed_extensions"`
	MaxUploadBytes    int64    `json:"max_upload_bytes"`
	HasLatest         bool     `json:"has_latest"`
}
