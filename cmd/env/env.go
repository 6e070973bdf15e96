package env

const (
	// Prefix is the common prefix for service ENV variables
	Prefix = "FXENGINE_"

	// DBURLSuffix is the ENV suffix holding the Postgres connection string
	DBURLSuffix = "DB_URL"
)
