package config

// EnvPrefix is handed to envconfig; every field carries a fully qualified tag, so it only matters for
// fields without one.
const EnvPrefix = "CATERMATCH"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "CATERMATCH_APP_ENV"
	EnvPort     = "CATERMATCH_APP_PORT"
	EnvDBDSN    = "CATERMATCH_DB_DSN"
	EnvDBHost   = "CATERMATCH_DB_HOST"
	EnvDBUser   = "CATERMATCH_DB_USER"
	EnvDBName   = "CATERMATCH_DB_NAME"
	EnvRedisURL = "CATERMATCH_REDIS_URL"
	EnvPolicy   = "CATERMATCH_POLICY_PATH"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
