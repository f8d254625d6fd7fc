package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var pgQuote = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// postgresDSN returns cfg.PostgresDSN when set, otherwise a keyword/value
// connection string from the discrete fields.
func postgresDSN(cfg domain.RepositoryConfig) string {
	if cfg.PostgresDSN != "" {
		return cfg.PostgresDSN
	}

	host, port, db, ssl := cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDB, cfg.PostgresSSLMode
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = 5432
	}
	if db == "" {
		db = "kestrel"
	}
	if ssl == "" {
		ssl = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s application_name=kestrel", host, port, db, ssl)
	if cfg.PostgresUser != "" {
		dsn += " user=" + cfg.PostgresUser
	}
	if cfg.PostgresPassword != "" {
		dsn += " password='" + pgQuote.Replace(cfg.PostgresPassword) + "'"
	}
	return dsn
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres connection settings: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}
	return db, nil
}
