package config

const (
	// EnvPrefix is passed to envconfig; variables carry the CAMPUS_ prefix
	// explicitly in their struct tags.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv  = "CAMPUS_APP_ENV"
	EnvAppPort = "CAMPUS_APP_PORT"

	EnvDBDSN  = "CAMPUS_DB_DSN"
	EnvDBHost = "CAMPUS_DB_HOST"
	EnvDBUser = "CAMPUS_DB_USER"
	EnvDBName = "CAMPUS_DB_NAME"

	EnvRedisURL = "CAMPUS_REDIS_URL"

	EnvJWTSecret  = "CAMPUS_JWT_SECRET"
	EnvJWTIssuer  = "CAMPUS_JWT_ISSUER"
	EnvJWTExpMins = "CAMPUS_JWT_EXPIRATION_MINUTES"

	EnvMpesaConsumerKey     = "CAMPUS_MPESA_CONSUMER_KEY"
	EnvMpesaConsumerSecret  = "CAMPUS_MPESA_CONSUMER_SECRET"
	EnvMpesaShortcode       = "CAMPUS_MPESA_SHORTCODE"
	EnvMpesaPasskey         = "CAMPUS_MPESA_PASSKEY"
	EnvMpesaCallbackBaseURL = "CAMPUS_MPESA_CALLBACK_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
