package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/attachkeeper/internal/flagx"
	"github.com/dmitrijs2005/attachkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "90s" and integer nanoseconds are accepted. Fields
// missing from the file keep the value already present in Config.
type JsonConfig struct {
	EndpointAddrHTTP            string         `json:"endpoint_addr_http"`
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	DatabaseDriver              string         `json:"database_driver"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	StorageBackend              string         `json:"storage_backend"`
	StoragePath                 string         `json:"storage_path"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
	QuotaServiceURL             string         `json:"quota_service_url"`
	QuotaTimeout                timex.Duration `json:"quota_timeout"`
	Accounts                    []Account      `json:"accounts"`
	MaxPayloadBytes             int64          `json:"max_payload_bytes"`
	ExpiryLayouts               []string       `json:"expiry_layouts"`
	RecordRetention             timex.Duration `json:"record_retention"`
	RateLimitMaxRequests        int            `json:"rate_limit_max_requests"`
	RateLimitRetention          timex.Duration `json:"rate_limit_retention"`
	RateLimitSweepInterval      timex.Duration `json:"rate_limit_sweep_interval"`
	RateLimitCapacity           int            `json:"rate_limit_capacity"`
	ExpirySweepInterval         timex.Duration `json:"expiry_sweep_interval"`
	RetentionSweepInterval      timex.Duration `json:"retention_sweep_interval"`
	AuthMode                    string         `json:"auth_mode"`
	PublicBaseURL               string         `json:"public_base_url"`
	PathPrefix                  string         `json:"path_prefix"`
	APIVersion                  string         `json:"api_version"`
	LogLevel                    string         `json:"log_level"`
}

// parseJson loads configuration values from the JSON file named by the
// -c / -config flag into config. Nothing happens when neither flag is set.
// An unreadable file or invalid JSON panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDriver, c.DatabaseDriver)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.StorageBackend, c.StorageBackend)
	setString(&config.StoragePath, c.StoragePath)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.QuotaServiceURL, c.QuotaServiceURL)
	setDuration(&config.QuotaTimeout, c.QuotaTimeout)
	if len(c.Accounts) > 0 {
		config.Accounts = c.Accounts
	}
	if c.MaxPayloadBytes > 0 {
		config.MaxPayloadBytes = c.MaxPayloadBytes
	}
	if len(c.ExpiryLayouts) > 0 {
		config.ExpiryLayouts = c.ExpiryLayouts
	}
	setDuration(&config.RecordRetention, c.RecordRetention)
	if c.RateLimitMaxRequests > 0 {
		config.RateLimitMaxRequests = c.RateLimitMaxRequests
	}
	setDuration(&config.RateLimitRetention, c.RateLimitRetention)
	setDuration(&config.RateLimitSweepInterval, c.RateLimitSweepInterval)
	if c.RateLimitCapacity > 0 {
		config.RateLimitCapacity = c.RateLimitCapacity
	}
	setDuration(&config.ExpirySweepInterval, c.ExpirySweepInterval)
	setDuration(&config.RetentionSweepInterval, c.RetentionSweepInterval)
	setString(&config.AuthMode, c.AuthMode)
	setString(&config.PublicBaseURL, c.PublicBaseURL)
	setString(&config.PathPrefix, c.PathPrefix)
	setString(&config.APIVersion, c.APIVersion)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
