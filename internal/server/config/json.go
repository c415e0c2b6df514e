package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cipherdrop/cipherdrop/internal/flagx"
	"github.com/cipherdrop/cipherdrop/internal/timex"
)

// JsonConfig is the intermediate DTO for JSON configuration files. Interval
// fields use timex.Duration so both "5m" strings and integer nanoseconds
// parse. Only non-zero values are copied over the defaults.
type JsonConfig struct {
	EndpointAddrHTTP string         `json:"endpoint_addr_http"`
	PublicBaseURL    string         `json:"public_base_url"`
	MetadataBackend  string         `json:"metadata_backend"`
	DatabaseDSN      string         `json:"database_dsn"`
	BadgerPath       string         `json:"badger_path"`
	BlobBackend      string         `json:"blob_backend"`
	BlobPath         string         `json:"blob_path"`
	S3AccessKey      string         `json:"s3_access_key"`
	S3SecretKey      string         `json:"s3_secret_key"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3Endpoint       string         `json:"s3_endpoint"`
	AdminSecretKey   string         `json:"admin_secret_key"`
	SweepInterval    timex.Duration `json:"sweep_interval"`
	NotifyLookahead  timex.Duration `json:"notify_lookahead"`
	MaxUploadBytes   int64          `json:"max_upload_bytes"`
}

// parseJson loads configuration values from the JSON file given via the
// -c/-config flags into the provided Config. No flag, no file, no overlay.
// An unreadable or invalid file panics: a deployment pointing at a broken
// config must not come up on defaults.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setIfNotEmpty(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setIfNotEmpty(&config.PublicBaseURL, c.PublicBaseURL)
	setIfNotEmpty(&config.MetadataBackend, c.MetadataBackend)
	setIfNotEmpty(&config.DatabaseDSN, c.DatabaseDSN)
	setIfNotEmpty(&config.BadgerPath, c.BadgerPath)
	setIfNotEmpty(&config.BlobBackend, c.BlobBackend)
	setIfNotEmpty(&config.BlobPath, c.BlobPath)
	setIfNotEmpty(&config.S3AccessKey, c.S3AccessKey)
	setIfNotEmpty(&config.S3SecretKey, c.S3SecretKey)
	setIfNotEmpty(&config.S3Bucket, c.S3Bucket)
	setIfNotEmpty(&config.S3Region, c.S3Region)
	setIfNotEmpty(&config.S3Endpoint, c.S3Endpoint)
	setIfNotEmpty(&config.AdminSecretKey, c.AdminSecretKey)
	if c.SweepInterval.Duration > 0 {
		config.SweepInterval = time.Duration(c.SweepInterval.Duration)
	}
	if c.NotifyLookahead.Duration > 0 {
		config.NotifyLookahead = time.Duration(c.NotifyLookahead.Duration)
	}
	if c.MaxUploadBytes > 0 {
		config.MaxUploadBytes = c.MaxUploadBytes
	}
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
