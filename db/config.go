package db

import "fmt"

type Config interface {
	DBHost() string
	DBUser() string
	DBPassword() string
	DBName() string
	DBPort() int
	DBSSLMode() string
	DBTimezone() string
}

// configToDSN builds a Postgres DSN from the Config, connecting to the database with the given name.
func configToDSN(config Config, dbName string) string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		config.DBHost(),
		config.DBUser(),
		config.DBPassword(),
		dbName,
		config.DBPort(),
		config.DBSSLMode(),
		config.DBTimezone(),
	)
}
