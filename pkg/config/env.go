package config

// EnvPrefix scopes every variable read by Load.
const EnvPrefix = "ENGAGE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv       = "ENGAGE_APP_ENV"
	EnvPort         = "ENGAGE_APP_PORT"
	EnvLogLevel     = "ENGAGE_LOG_LEVEL"
	EnvLogWarnStack = "ENGAGE_LOG_WARN_STACK"
	EnvServiceKind  = "ENGAGE_SERVICE_KIND"

	EnvDBDSN      = "ENGAGE_DB_DSN"
	EnvDBDriver   = "ENGAGE_DB_DRIVER"
	EnvDBHost     = "ENGAGE_DB_HOST"
	EnvDBPort     = "ENGAGE_DB_PORT"
	EnvDBUser     = "ENGAGE_DB_USER"
	EnvDBPassword = "ENGAGE_DB_PASSWORD"
	EnvDBName     = "ENGAGE_DB_NAME"
	EnvDBSSLMode  = "ENGAGE_DB_SSLMODE"

	EnvRedisURL  = "ENGAGE_REDIS_URL"
	EnvRedisAddr = "ENGAGE_REDIS_ADDR"

	EnvJWTSecret  = "ENGAGE_JWT_SECRET"
	EnvJWTIssuer  = "ENGAGE_JWT_ISSUER"
	EnvJWTExpMins = "ENGAGE_JWT_EXPIRATION_MINUTES"

	EnvUseSQLite   = "ENGAGE_USE_SQLITE"
	EnvAutoMigrate = "ENGAGE_AUTO_MIGRATE"

	EnvGCPProjectID = "ENGAGE_GCP_PROJECT_ID"

	EnvPubSubPointsTopic = "ENGAGE_PUBSUB_POINTS_TOPIC"
	EnvPubSubPointsSub   = "ENGAGE_PUBSUB_POINTS_SUBSCRIPTION"

	EnvPointsValues     = "ENGAGE_POINTS_VALUES"
	EnvPointsDailyCaps  = "ENGAGE_POINTS_DAILY_CAPS"
	EnvPointsDayZone    = "ENGAGE_POINTS_DAY_BOUNDARY_TZ"
	EnvReferralPrefix   = "ENGAGE_REFERRAL_CODE_PREFIX"
	EnvReferralLength   = "ENGAGE_REFERRAL_CODE_LENGTH"
	EnvReferralReferrer = "ENGAGE_REFERRAL_REFERRER_POINTS"
	EnvReferralNewUser  = "ENGAGE_REFERRAL_NEW_USER_POINTS"
)

// legacyDBEnvVars must all be present when EnvDBDSN is unset.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
