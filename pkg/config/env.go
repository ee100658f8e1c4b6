package config

const (
	EnvPrefix = "BIDROOM"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "BIDROOM_APP_ENV"
	EnvPort      = "BIDROOM_APP_PORT"
	EnvLogLevel  = "BIDROOM_LOG_LEVEL"
	EnvLogFormat = "BIDROOM_LOG_FORMAT"

	EnvDBDSN  = "BIDROOM_DB_DSN"
	EnvDBHost = "BIDROOM_DB_HOST"
	EnvDBUser = "BIDROOM_DB_USER"
	EnvDBName = "BIDROOM_DB_NAME"

	EnvRedisURL = "BIDROOM_REDIS_URL"

	EnvJWTSecret  = "BIDROOM_JWT_SECRET"
	EnvJWTIssuer  = "BIDROOM_JWT_ISSUER"
	EnvJWTExpMins = "BIDROOM_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID            = "BIDROOM_GCP_PROJECT_ID"
	EnvPubSubNegotiationTopic  = "BIDROOM_PUBSUB_NEGOTIATION_TOPIC"
	EnvNegotiationPollInterval = "BIDROOM_NEGOTIATION_POLL_INTERVAL"

	EnvClientBaseURL = "BIDROOM_CLIENT_BASE_URL"
	EnvClientToken   = "BIDROOM_CLIENT_TOKEN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
