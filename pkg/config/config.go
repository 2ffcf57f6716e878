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
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Points       PointsConfig
	Referral     ReferralConfig
	Leaderboard  LeaderboardConfig
	Cron         CronConfig
	HTTP         HTTPConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if cfg.Redis.URL == "" && cfg.Redis.Address == "" {
		return nil, fmt.Errorf("either %s or %s is required", EnvRedisURL, EnvRedisAddr)
	}
	if err := cfg.Referral.validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Points.Location(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ENGAGE_APP_ENV" required:"true"`
	Port         string `envconfig:"ENGAGE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ENGAGE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ENGAGE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ENGAGE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ENGAGE_DB_DSN"`
	Driver string `envconfig:"ENGAGE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ENGAGE_DB_HOST"`
	LegacyPort     int    `envconfig:"ENGAGE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ENGAGE_DB_USER"`
	LegacyPassword string `envconfig:"ENGAGE_DB_PASSWORD"`
	LegacyName     string `envconfig:"ENGAGE_DB_NAME"`
	LegacySSLMode  string `envconfig:"ENGAGE_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"ENGAGE_SQLITE_PATH" default:"engage.db"`

	MaxOpenConns    int           `envconfig:"ENGAGE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ENGAGE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ENGAGE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ENGAGE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ENGAGE_REDIS_URL"`
	Address      string        `envconfig:"ENGAGE_REDIS_ADDR"`
	Password     string        `envconfig:"ENGAGE_REDIS_PASSWORD"`
	DB           int           `envconfig:"ENGAGE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ENGAGE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ENGAGE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ENGAGE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ENGAGE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ENGAGE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"ENGAGE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ENGAGE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ENGAGE_JWT_EXPIRATION_MINUTES" required:"true"`
	// Audience is stamped into and required on tokens when set.
	Audience      string `envconfig:"ENGAGE_JWT_AUDIENCE"`
	LeewaySeconds int    `envconfig:"ENGAGE_JWT_LEEWAY_SECONDS" default:"30"`
}

// Expiration returns the access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return 0
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

// Leeway is the clock skew tolerated on exp, nbf and iat.
func (j JWTConfig) Leeway() time.Duration {
	if j.LeewaySeconds <= 0 {
		return 0
	}
	return time.Duration(j.LeewaySeconds) * time.Second
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"ENGAGE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"ENGAGE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"ENGAGE_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"ENGAGE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"ENGAGE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"ENGAGE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	PointsTopic        string `envconfig:"ENGAGE_PUBSUB_POINTS_TOPIC" default:"engage-points-events"`
	PointsSubscription string `envconfig:"ENGAGE_PUBSUB_POINTS_SUBSCRIPTION" default:"engage-points-events-sub"`
	// SkipVerify disables the startup existence check, e.g. against the emulator.
	SkipVerify bool `envconfig:"ENGAGE_PUBSUB_SKIP_VERIFY" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"ENGAGE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"ENGAGE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"ENGAGE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"ENGAGE_OUTBOX_RETENTION" default:"720h"`
	DLQRetention   time.Duration `envconfig:"ENGAGE_OUTBOX_DLQ_RETENTION" default:"2160h"`
}

// PointsConfig carries the award policy knobs. Values and DailyCaps use the
// envconfig map syntax, e.g. "like:5,comment:10".
type PointsConfig struct {
	Values          map[string]int `envconfig:"ENGAGE_POINTS_VALUES" default:"like:5,comment:10,share:10,download:10,poster_create:10,poster_share:5,daily_login:5,profile_complete:20,task_complete:10,reel_upload:10"`
	DailyCaps       map[string]int `envconfig:"ENGAGE_POINTS_DAILY_CAPS" default:"poster:4"`
	DayBoundaryZone string         `envconfig:"ENGAGE_POINTS_DAY_BOUNDARY_TZ" default:"UTC"`
}

// Location resolves the zone whose midnight starts a rate-limit day.
func (p PointsConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(p.DayBoundaryZone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", EnvPointsDayZone, name, err)
	}
	return loc, nil
}

type ReferralConfig struct {
	CodePrefix     string `envconfig:"ENGAGE_REFERRAL_CODE_PREFIX" default:"SP"`
	CodeLength     int    `envconfig:"ENGAGE_REFERRAL_CODE_LENGTH" default:"6"`
	ReferrerPoints int    `envconfig:"ENGAGE_REFERRAL_REFERRER_POINTS" default:"50"`
	NewUserPoints  int    `envconfig:"ENGAGE_REFERRAL_NEW_USER_POINTS" default:"10"`
}

func (r ReferralConfig) validate() error {
	if r.CodeLength <= 0 {
		return fmt.Errorf("%s must be positive", EnvReferralLength)
	}
	if r.ReferrerPoints < 0 || r.NewUserPoints < 0 {
		return fmt.Errorf("referral points must be non-negative")
	}
	return nil
}

type LeaderboardConfig struct {
	CacheTTL     time.Duration `envconfig:"ENGAGE_LEADERBOARD_CACHE_TTL" default:"5m"`
	DefaultLimit int           `envconfig:"ENGAGE_LEADERBOARD_DEFAULT_LIMIT" default:"10"`
	MaxLimit     int           `envconfig:"ENGAGE_LEADERBOARD_MAX_LIMIT" default:"100"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"ENGAGE_CRON_INTERVAL" default:"1h"`
	ReconcileEnabled bool          `envconfig:"ENGAGE_CRON_RECONCILE_ENABLED" default:"true"`
}

// HTTPConfig tunes the API boundary. A zero window or limit disables that
// throttle.
type HTTPConfig struct {
	CORSOrigins     []string      `envconfig:"ENGAGE_HTTP_CORS_ORIGINS" default:"http://localhost:3000"`
	AwardWindow     time.Duration `envconfig:"ENGAGE_HTTP_AWARD_WINDOW" default:"1m"`
	AwardIPLimit    int           `envconfig:"ENGAGE_HTTP_AWARD_IP_LIMIT" default:"120"`
	AwardUserLimit  int           `envconfig:"ENGAGE_HTTP_AWARD_USER_LIMIT" default:"60"`
	RegisterWindow  time.Duration `envconfig:"ENGAGE_HTTP_REGISTER_WINDOW" default:"1h"`
	RegisterIPLimit int           `envconfig:"ENGAGE_HTTP_REGISTER_IP_LIMIT" default:"20"`
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
