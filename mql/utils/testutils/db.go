package testutils

import (
	"context"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPgPool connects to the test database configured through environment
// variables, falling back to local development defaults.
func NewPgPool() (*pgxpool.Pool, error) {
	var db_username string = getEnv("DB_USERNAME", "devel")
	var db_password string = getEnv("DB_PASSWORD", "devel")
	var db_host string = getEnv("DB_HOST", "localhost")
	var db_port string = getEnv("DB_PORT", "5432")
	var db_basename string = getEnv("DB_DATABASE", "devel_grade")

	connString := "postgres://" + db_username + ":" + db_password + "@" + db_host + ":" + db_port + "/" + db_basename

	return pgxpool.New(context.Background(), connString)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}

	return fallback
}
