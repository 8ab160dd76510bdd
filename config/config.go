package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL       string
	DBPath            string
	Log               LogConfig
	HTTP              HTTPConfig
	Pipeline          PipelineConfig
	Geocoder          GeocoderConfig
	Scheduler         SchedulerConfig
	Events            EventsConfig
	S3                S3Config
	APIAddr           string
	APIAllowedOrigins []string // CORS is enabled only when set
	SitesDir          string
	Sites             map[string]*SiteConfig
}

type LogConfig struct {
	Level  string
	Format string // tint, json, text
	File   string
}

type HTTPConfig struct {
	ProxyURL     string
	FetchTimeout time.Duration
	APITimeout   time.Duration
}

type PipelineConfig struct {
	BatchSize              int
	MaxConsecutiveFailures int
	StageTimeout           time.Duration
	FetchRetries           int
	PersistRetries         int
	RetryBaseDelay         time.Duration
	SkipGeocoding          bool
	AggregateAfterBatch    bool
	PruneImages            bool
}

type GeocoderConfig struct {
	URL       string
	UserAgent string
	Country   string
}

type SchedulerConfig struct {
	Interval      time.Duration
	Cron          string
	AggregateCron string
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool { return c.Bucket != "" }

type SiteConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Handler     string            `yaml:"handler"`
	Source      string            `yaml:"source"`
	BaseURL     string            `yaml:"base_url"`
	Endpoints   map[string]string `yaml:"endpoints"`
	PageParam   string            `yaml:"page_param"`
	Encoding    string            `yaml:"encoding"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	MaxPages    int               `yaml:"max_pages"`
	UserAgent   string            `yaml:"user_agent"`
}

func (s *SiteConfig) RateLimit() time.Duration {
	return time.Duration(s.RateLimitMS) * time.Millisecond
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBPath:      getEnv("DB_PATH", "scraper.db"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "tint"),
			File:   getEnv("LOG_FILE", "daemon.log"),
		},
		HTTP: HTTPConfig{
			ProxyURL:     os.Getenv("PROXY_URL"),
			FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 10*time.Second),
			APITimeout:   getEnvDuration("API_TIMEOUT", 10*time.Second),
		},
		Pipeline: PipelineConfig{
			BatchSize:              getEnvInt("BATCH_SIZE", 5),
			MaxConsecutiveFailures: getEnvInt("MAX_CONSECUTIVE_FAILURES", 5),
			StageTimeout:           getEnvDuration("STAGE_TIMEOUT", 30*time.Second),
			FetchRetries:           getEnvInt("FETCH_RETRIES", 3),
			PersistRetries:         getEnvInt("PERSIST_RETRIES", 3),
			RetryBaseDelay:         getEnvDuration("RETRY_BASE_DELAY", time.Second),
			SkipGeocoding:          getEnvBool("SKIP_GEOCODING", false),
			AggregateAfterBatch:    getEnvBool("AGGREGATE_AFTER_BATCH", true),
			PruneImages:            getEnvBool("PRUNE_IMAGES", true),
		},
		Geocoder: GeocoderConfig{
			URL:       getEnv("GEOCODER_URL", "https://nominatim.openstreetmap.org/search"),
			UserAgent: getEnv("GEOCODER_USER_AGENT", "TunisHome/1.0 (contact@tunishome.com)"),
			Country:   getEnv("GEOCODER_COUNTRY", "tn"),
		},
		Scheduler: SchedulerConfig{
			Interval:      getEnvDuration("SCRAPE_INTERVAL", 0),
			Cron:          os.Getenv("SCRAPE_CRON"),
			AggregateCron: os.Getenv("AGGREGATE_CRON"),
		},
		Events: EventsConfig{
			AMQPURL:  os.Getenv("AMQP_URL"),
			Exchange: getEnv("AMQP_EXCHANGE", "tunishome.events"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		APIAddr:           os.Getenv("API_ADDR"),
		APIAllowedOrigins: getEnvList("API_ALLOWED_ORIGINS"),
		SitesDir:          getEnv("SITES_DIR", "config/sites"),
	}

	sites, err := LoadSiteConfigs(cfg.SitesDir)
	if err != nil {
		return nil, err
	}
	cfg.Sites = sites

	return cfg, nil
}

// LoadSiteConfigs reads every *.yaml in dir. A missing directory yields no sites.
func LoadSiteConfigs(dir string) (map[string]*SiteConfig, error) {
	sites := make(map[string]*SiteConfig)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return sites, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if site.ID == "" {
			return nil, fmt.Errorf("%s: missing id", path)
		}
		applySiteDefaults(&site)

		sites[site.ID] = &site
	}

	return sites, nil
}

func applySiteDefaults(site *SiteConfig) {
	if site.Encoding == "" {
		site.Encoding = "utf-8"
	}
	if site.RateLimitMS <= 0 {
		site.RateLimitMS = 1000
	}
	if site.MaxPages <= 0 {
		site.MaxPages = 1
	}
	if site.PageParam == "" {
		site.PageParam = "page"
	}
	site.BaseURL = strings.TrimRight(site.BaseURL, "/")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
