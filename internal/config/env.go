package config

import (
	"os"
	"strconv"
	"time"
)

// parseEnv overlays cfg with values from the environment. The cmd layer
// loads a .env file into the environment beforehand, so deployments can
// keep credentials out of flags and JSON.
func parseEnv(cfg *Config) {
	overlayString(&cfg.DatabasePath, os.Getenv("METERLOG_DB"))
	overlayString(&cfg.OwnerID, os.Getenv("METERLOG_OWNER_ID"))
	overlayString(&cfg.RemoteDSN, os.Getenv("METERLOG_REMOTE_DSN"))
	overlayString(&cfg.BrokerURL, os.Getenv("METERLOG_BROKER_URL"))
	overlayString(&cfg.Exchange, os.Getenv("METERLOG_EXCHANGE"))

	if v := os.Getenv("METERLOG_ONLINE_CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OnlineCheckInterval = d
		}
	}
	if v := os.Getenv("METERLOG_PUSH_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PushConcurrency = n
		}
	}

	overlayString(&cfg.S3Bucket, os.Getenv("METERLOG_S3_BUCKET"))
	overlayString(&cfg.S3Region, os.Getenv("METERLOG_S3_REGION"))
	overlayString(&cfg.S3BaseEndpoint, os.Getenv("METERLOG_S3_ENDPOINT"))
	overlayString(&cfg.S3AccessKey, os.Getenv("METERLOG_S3_ACCESS_KEY"))
	overlayString(&cfg.S3SecretKey, os.Getenv("METERLOG_S3_SECRET_KEY"))
}
