package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"sigs.k8s.io/yaml"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"masking"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass" json:"-"`
}

type svcConfig struct {
	Address         string   `envconfig:"MASKING_API_ADDRESS" default:":3443"`
	MetricsAddress  string   `envconfig:"MASKING_API_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string   `envconfig:"MASKING_API_BASE_URL" default:"http://localhost:3443"`
	LogLevel        string   `envconfig:"MASKING_API_LOG_LEVEL" default:"info"`
	MigrationFolder string   `envconfig:"MASKING_API_MIGRATIONS_FOLDER" default:""`
	AllowedOrigins  []string `envconfig:"MASKING_API_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	Auth            Auth
	S3              S3
	Worker          Worker
	Jobs            Jobs
	Kafka           Kafka
}

type Auth struct {
	AuthenticationType string `envconfig:"MASKING_API_AUTH" default:"none"`
	JwkCertURL         string `envconfig:"MASKING_API_JWK_URL" default:""`
	JwtSecret          string `envconfig:"MASKING_API_JWT_SECRET" default:"" json:"-"`
}

type S3 struct {
	Endpoint  string `envconfig:"S3_ENDPOINT" default:"localhost:9000"`
	Bucket    string `envconfig:"S3_BUCKET" default:"masking"`
	AccessKey string `envconfig:"S3_ACCESS_KEY" default:"" json:"-"`
	SecretKey string `envconfig:"S3_SECRET_KEY" default:"" json:"-"`
	Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

type Worker struct {
	URL                   string        `envconfig:"WORKER_URL" default:"http://localhost:5001"`
	Timeout               time.Duration `envconfig:"WORKER_TIMEOUT" default:"30s"`
	MaxConcurrentDispatch int           `envconfig:"WORKER_MAX_CONCURRENT_DISPATCH" default:"10"`
}

type Jobs struct {
	UploadURLTTL        time.Duration `envconfig:"JOBS_UPLOAD_URL_TTL" default:"10m"`
	DownloadURLTTL      time.Duration `envconfig:"JOBS_DOWNLOAD_URL_TTL" default:"60m"`
	ResultUploadURLTTL  time.Duration `envconfig:"JOBS_RESULT_UPLOAD_URL_TTL" default:"6h"`
	ProcessingTimeout   time.Duration `envconfig:"JOBS_PROCESSING_TIMEOUT" default:"6h"`
	ReaperInterval      time.Duration `envconfig:"JOBS_REAPER_INTERVAL" default:"5m"`
	AllowedContentTypes []string      `envconfig:"JOBS_ALLOWED_CONTENT_TYPES" default:"video/mp4,video/quicktime,video/webm,video/x-msvideo,video/x-matroska"`
}

type Kafka struct {
	Brokers  []string `envconfig:"KAFKA_BROKERS" default:""`
	Topic    string   `envconfig:"KAFKA_TOPIC" default:"masking.jobs.events"`
	ClientID string   `envconfig:"KAFKA_CLIENT_ID" default:"masking-api"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration holding only the default values,
// ignoring the environment.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type:     "pgsql",
			Hostname: "localhost",
			Port:     "5432",
			Name:     "masking",
			User:     "admin",
			Password: "adminpass",
		},
		Service: &svcConfig{
			Address:        ":3443",
			MetricsAddress: ":8080",
			BaseUrl:        "http://localhost:3443",
			LogLevel:       "info",
			AllowedOrigins: []string{"http://localhost:3000"},
			Auth:           Auth{AuthenticationType: "none"},
			S3: S3{
				Endpoint: "localhost:9000",
				Bucket:   "masking",
				Region:   "us-east-1",
			},
			Worker: Worker{
				URL:                   "http://localhost:5001",
				Timeout:               30 * time.Second,
				MaxConcurrentDispatch: 10,
			},
			Jobs: Jobs{
				UploadURLTTL:        10 * time.Minute,
				DownloadURLTTL:      60 * time.Minute,
				ResultUploadURLTTL:  6 * time.Hour,
				ProcessingTimeout:   6 * time.Hour,
				ReaperInterval:      5 * time.Minute,
				AllowedContentTypes: []string{"video/mp4", "video/quicktime", "video/webm", "video/x-msvideo", "video/x-matroska"},
			},
			Kafka: Kafka{
				Topic:    "masking.jobs.events",
				ClientID: "masking-api",
			},
		},
	}
}

// String renders the configuration as yaml. Credentials are omitted.
func (c *Config) String() string {
	val, err := yaml.Marshal(c)
	if err != nil {
		return "<invalid config>"
	}
	return string(val)
}
