package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/memovault/internal/flagx"
	"github.com/dmitrijs2005/memovault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "3s" or as integer nanoseconds.
type JsonConfig struct {
	DataDir      string `json:"data_dir"`
	DatabaseFile string `json:"database_file"`
	LogFile      string `json:"log_file"`
	LogLevel     string `json:"log_level"`

	RemoteType      string         `json:"remote_type"`
	RemotePath      string         `json:"remote_path"`
	S3Endpoint      string         `json:"s3_endpoint"`
	S3Region        string         `json:"s3_region"`
	S3Bucket        string         `json:"s3_bucket"`
	S3AccessKey     string         `json:"s3_access_key"`
	S3SecretKey     string         `json:"s3_secret_key"`
	S3Prefix        string         `json:"s3_prefix"`
	WebDAVEndpoint  string         `json:"webdav_endpoint"`
	WebDAVUser      string         `json:"webdav_user"`
	WebDAVPassword  string         `json:"webdav_password"`
	WebDAVRoot      string         `json:"webdav_root"`
	PostgresDSN     string         `json:"postgres_dsn"`
	RemoteTimeout   timex.Duration `json:"remote_timeout"`
	UploadRateLimit int64          `json:"upload_rate_limit"`

	SyncBatchSize     int            `json:"sync_batch_size"`
	QueueBaseBackoff  timex.Duration `json:"queue_base_backoff"`
	QueueMaxRetries   int            `json:"queue_max_retries"`
	QueuePollInterval timex.Duration `json:"queue_poll_interval"`
	AutoSyncSchedule  string         `json:"auto_sync_schedule"`
	MetricsAddr       string         `json:"metrics_addr"`
	ExportDir         string         `json:"export_dir"`
}

func toJson(c *Config) JsonConfig {
	return JsonConfig{
		DataDir: c.DataDir, DatabaseFile: c.DatabaseFile, LogFile: c.LogFile, LogLevel: c.LogLevel,
		RemoteType: c.RemoteType, RemotePath: c.RemotePath,
		S3Endpoint: c.S3Endpoint, S3Region: c.S3Region, S3Bucket: c.S3Bucket,
		S3AccessKey: c.S3AccessKey, S3SecretKey: c.S3SecretKey, S3Prefix: c.S3Prefix,
		WebDAVEndpoint: c.WebDAVEndpoint, WebDAVUser: c.WebDAVUser, WebDAVPassword: c.WebDAVPassword,
		WebDAVRoot: c.WebDAVRoot, PostgresDSN: c.PostgresDSN,
		RemoteTimeout:     timex.Duration{Duration: c.RemoteTimeout},
		UploadRateLimit:   c.UploadRateLimit,
		SyncBatchSize:     c.SyncBatchSize,
		QueueBaseBackoff:  timex.Duration{Duration: c.QueueBaseBackoff},
		QueueMaxRetries:   c.QueueMaxRetries,
		QueuePollInterval: timex.Duration{Duration: c.QueuePollInterval},
		AutoSyncSchedule:  c.AutoSyncSchedule,
		MetricsAddr:       c.MetricsAddr,
		ExportDir:         c.ExportDir,
	}
}

func (jc JsonConfig) apply(c *Config) {
	c.DataDir, c.DatabaseFile, c.LogFile, c.LogLevel = jc.DataDir, jc.DatabaseFile, jc.LogFile, jc.LogLevel
	c.RemoteType, c.RemotePath = jc.RemoteType, jc.RemotePath
	c.S3Endpoint, c.S3Region, c.S3Bucket = jc.S3Endpoint, jc.S3Region, jc.S3Bucket
	c.S3AccessKey, c.S3SecretKey, c.S3Prefix = jc.S3AccessKey, jc.S3SecretKey, jc.S3Prefix
	c.WebDAVEndpoint, c.WebDAVUser, c.WebDAVPassword = jc.WebDAVEndpoint, jc.WebDAVUser, jc.WebDAVPassword
	c.WebDAVRoot, c.PostgresDSN = jc.WebDAVRoot, jc.PostgresDSN
	c.RemoteTimeout = jc.RemoteTimeout.Duration
	c.UploadRateLimit = jc.UploadRateLimit
	c.SyncBatchSize = jc.SyncBatchSize
	c.QueueBaseBackoff = jc.QueueBaseBackoff.Duration
	c.QueueMaxRetries = jc.QueueMaxRetries
	c.QueuePollInterval = jc.QueuePollInterval.Duration
	c.AutoSyncSchedule = jc.AutoSyncSchedule
	c.MetricsAddr = jc.MetricsAddr
	c.ExportDir = jc.ExportDir
}

// parseJson overlays Config with values loaded from a JSON file.
//
// The file path comes from -c/-config or the MEMOVAULT_CONFIG environment
// variable (see flagx.JsonConfigFlags). Keys absent from the file keep their
// current values. Panics on read or unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	jc := toJson(cfg)
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}
	jc.apply(cfg)
}
