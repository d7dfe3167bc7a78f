package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/meterlog/internal/flagx"
	"github.com/dmitrijs2005/meterlog/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds.
type JsonConfig struct {
	DatabasePath        string         `json:"database_path"`
	OwnerID             string         `json:"owner_id"`
	RemoteDSN           string         `json:"remote_dsn"`
	BrokerURL           string         `json:"broker_url"`
	Exchange            string         `json:"exchange"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	PushConcurrency     int            `json:"push_concurrency"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	S3AccessKey         string         `json:"s3_access_key"`
	S3SecretKey         string         `json:"s3_secret_key"`
}

// parseJson overlays cfg with values loaded from the JSON file given via
// the -c/-config flags. Absent file path means no JSON layer. Only
// non-zero JSON values override.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	overlayString(&cfg.DatabasePath, jc.DatabasePath)
	overlayString(&cfg.OwnerID, jc.OwnerID)
	overlayString(&cfg.RemoteDSN, jc.RemoteDSN)
	overlayString(&cfg.BrokerURL, jc.BrokerURL)
	overlayString(&cfg.Exchange, jc.Exchange)
	if jc.OnlineCheckInterval.Duration != 0 {
		cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	}
	if jc.PushConcurrency != 0 {
		cfg.PushConcurrency = jc.PushConcurrency
	}
	overlayString(&cfg.S3Bucket, jc.S3Bucket)
	overlayString(&cfg.S3Region, jc.S3Region)
	overlayString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	overlayString(&cfg.S3AccessKey, jc.S3AccessKey)
	overlayString(&cfg.S3SecretKey, jc.S3SecretKey)
}

func overlayString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}
