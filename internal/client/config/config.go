package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/dmitrijs2005/memovault/internal/common"
	"github.com/go-playground/validator/v10"
)

// Remote provider names accepted in RemoteType.
const (
	RemoteNone     = "none"
	RemoteMemory   = "memory"
	RemoteLocalFS  = "localfs"
	RemoteS3       = "s3"
	RemoteWebDAV   = "webdav"
	RemotePostgres = "postgres"
)

// Config holds runtime settings for the memovault client.
//
// Relative DatabaseFile and ExportDir values are resolved against DataDir.
// UploadRateLimit is in bytes per second; zero disables throttling.
type Config struct {
	DataDir      string `default:".memovault"`
	DatabaseFile string `default:"memovault.db"`
	LogFile      string
	LogLevel     string `default:"info" validate:"oneof=debug info warn error"`

	RemoteType      string        `default:"none" validate:"oneof=none memory localfs s3 webdav postgres"`
	RemotePath      string        `validate:"required_if=RemoteType localfs"`
	S3Endpoint      string
	S3Region        string `default:"us-east-1"`
	S3Bucket        string `validate:"required_if=RemoteType s3"`
	S3AccessKey     string
	S3SecretKey     string
	S3Prefix        string
	WebDAVEndpoint  string `validate:"required_if=RemoteType webdav"`
	WebDAVUser      string
	WebDAVPassword  string
	WebDAVRoot      string        `default:"/memovault"`
	PostgresDSN     string        `validate:"required_if=RemoteType postgres"`
	RemoteTimeout   time.Duration `default:"30s"`
	UploadRateLimit int64         `validate:"gte=0"`

	SyncBatchSize     int           `default:"500" validate:"gt=0"`
	QueueBaseBackoff  time.Duration `default:"2s" validate:"gt=0"`
	QueueMaxRetries   int           `default:"5" validate:"gt=0"`
	QueuePollInterval time.Duration `default:"1s" validate:"gt=0"`
	AutoSyncSchedule  string
	MetricsAddr       string
	ExportDir         string `default:"exports"`
}

// LoadDefaults populates c from the struct's default tags.
func (c *Config) LoadDefaults() {
	if err := defaults.Set(c); err != nil {
		panic(err)
	}
}

// Validate checks value ranges and provider-specific required settings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: invalid config: %v", common.ErrValidation, err)
	}
	return nil
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// DatabasePath is the SQLite file location.
func (c *Config) DatabasePath() string { return c.resolve(c.DatabaseFile) }

// ExportPath is the directory new archives are written to.
func (c *Config) ExportPath() string { return c.resolve(c.ExportDir) }

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
