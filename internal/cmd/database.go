package main

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// databaseURL assembles the Postgres DSN from DB_* environment
// variables, defaulting to a local development database.
func databaseURL() *url.URL {
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("DB_USER", "postgres"), getEnv("DB_PASSWORD", "postgres")),
		Host:     getEnv("DB_HOST", "localhost") + ":" + getEnv("DB_PORT", "5432"),
		Path:     getEnv("DB_NAME", "volbingo"),
		RawQuery: "sslmode=" + getEnv("DB_SSLMODE", "disable"),
	}
}

func setupDatabase() (*sql.DB, error) {
	dsn := databaseURL()

	database, err := sql.Open("postgres", dsn.String())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Str("host", dsn.Host).
		Str("database", dsn.Path).
		Msg("connected to database")
	return database, nil
}
