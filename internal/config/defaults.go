package config

import "github.com/hyperjump/asil/internal/faq"

// DefaultVisionEndpoint is the hosted vision-analysis upload endpoint.
const DefaultVisionEndpoint = "https://designtrace-production.up.railway.app/api/vision/upload"

// DefaultMaxUploadBytes is the largest accepted upload (10 MB).
const DefaultMaxUploadBytes = 10 << 20

// DefaultExtensions are the accepted upload file types.
func DefaultExtensions() []string {
	return []string{".pdf", ".jpg", ".jpeg", ".png", ".docx"}
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/asil/data/db/analyses.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/asil/data/indices/bleve"
	}
	if cfg.Vision.Endpoint == "" {
		cfg.Vision.Endpoint = DefaultVisionEndpoint
	}
	if cfg.Vision.TimeoutSeconds == 0 {
		cfg.Vision.TimeoutSeconds = 60
	}
	if cfg.Upload.Extensions == nil {
		cfg.Upload.Extensions = DefaultExtensions()
	}
	if cfg.Upload.MaxBytes == 0 {
		cfg.Upload.MaxBytes = DefaultMaxUploadBytes
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = append([]string(nil), cfg.Upload.Extensions...)
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
	if cfg.Report.Marker == "" {
		cfg.Report.Marker = "🔹"
	}
	if len(cfg.FAQ) == 0 {
		cfg.FAQ = faq.Default()
	}
}
