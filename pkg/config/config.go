package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Gemini       GeminiConfig
	GoogleMaps   GoogleMapsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Matching     MatchingConfig
	RoundRobin   RoundRobinConfig
	Locations    LocationsConfig
	Policy       PolicyConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CATERMATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"CATERMATCH_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CATERMATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CATERMATCH_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins []string `envconfig:"CATERMATCH_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CATERMATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CATERMATCH_DB_DSN"`
	Driver string `envconfig:"CATERMATCH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CATERMATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"CATERMATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CATERMATCH_DB_USER"`
	LegacyPassword string `envconfig:"CATERMATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"CATERMATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"CATERMATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CATERMATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CATERMATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CATERMATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CATERMATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"CATERMATCH_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CATERMATCH_REDIS_URL"`
	Address      string        `envconfig:"CATERMATCH_REDIS_ADDR"`
	Password     string        `envconfig:"CATERMATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"CATERMATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CATERMATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CATERMATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CATERMATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CATERMATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CATERMATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate    bool `envconfig:"CATERMATCH_AUTO_MIGRATE" default:"false"`
	AIRerank       bool `envconfig:"CATERMATCH_FEATURE_AI_RERANK" default:"true"`
	EvalsBigQuery  bool `envconfig:"CATERMATCH_FEATURE_EVALS_BIGQUERY" default:"false"`
	LeadEvents     bool `envconfig:"CATERMATCH_FEATURE_LEAD_EVENTS" default:"false"`
	GeocodeLookups bool `envconfig:"CATERMATCH_FEATURE_GEOCODE_LOOKUPS" default:"false"`
}

type GeminiConfig struct {
	APIKey      string        `envconfig:"CATERMATCH_GEMINI_API_KEY"`
	Model       string        `envconfig:"CATERMATCH_GEMINI_MODEL" default:"gemini-2.5-flash"`
	Timeout     time.Duration `envconfig:"CATERMATCH_GEMINI_TIMEOUT" default:"30s"`
	Temperature float32       `envconfig:"CATERMATCH_GEMINI_TEMPERATURE" default:"0.2"`
}

type GoogleMapsConfig struct {
	APIKey string `envconfig:"CATERMATCH_GOOGLE_MAPS_API_KEY"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CATERMATCH_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"CATERMATCH_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CATERMATCH_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LeadsTopic string `envconfig:"CATERMATCH_PUBSUB_LEADS_TOPIC" default:"cm-lead-events"`
}

type BigQueryConfig struct {
	Dataset            string `envconfig:"CATERMATCH_BIGQUERY_DATASET" default:"catermatch"`
	LocationEvalsTable string `envconfig:"CATERMATCH_BIGQUERY_LOCATION_EVALS_TABLE" default:"location_evals"`
	MatchingEvalsTable string `envconfig:"CATERMATCH_BIGQUERY_MATCHING_EVALS_TABLE" default:"matching_evals"`
}

type MatchingConfig struct {
	ShortlistSize  int           `envconfig:"CATERMATCH_MATCHING_SHORTLIST_SIZE" default:"10"`
	CandidateLimit int           `envconfig:"CATERMATCH_MATCHING_CANDIDATE_LIMIT" default:"200"`
	StaleAfter     time.Duration `envconfig:"CATERMATCH_MATCHING_STALE_AFTER" default:"15m"`
}

type RoundRobinConfig struct {
	DefaultLimit int `envconfig:"CATERMATCH_ROUND_ROBIN_DEFAULT_LIMIT" default:"3"`
	MaxLimit     int `envconfig:"CATERMATCH_ROUND_ROBIN_MAX_LIMIT" default:"10"`
}

type LocationsConfig struct {
	CacheTTL time.Duration `envconfig:"CATERMATCH_LOCATIONS_CACHE_TTL" default:"24h"`
	// PlacesPerMinute caps outbound Places lookups across all instances. Zero disables the cap.
	PlacesPerMinute int64  `envconfig:"CATERMATCH_LOCATIONS_PLACES_PER_MINUTE" default:"60"`
	RegionCode      string `envconfig:"CATERMATCH_LOCATIONS_REGION_CODE"`
	// ResolvePerMinute caps resolve calls per client IP. Zero disables the cap.
	ResolvePerMinute int64 `envconfig:"CATERMATCH_LOCATIONS_RESOLVE_PER_MINUTE" default:"120"`
}

type PolicyConfig struct {
	// Path points at a YAML/JSON policy document. Compiled defaults apply when empty.
	Path string `envconfig:"CATERMATCH_POLICY_PATH"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CATERMATCH_CRON_INTERVAL" default:"1h"`
	LockTTL  time.Duration `envconfig:"CATERMATCH_CRON_LOCK_TTL" default:"30m"`
	// MetricsAddr serves /metrics from the worker when set, e.g. ":9102".
	MetricsAddr string `envconfig:"CATERMATCH_CRON_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
