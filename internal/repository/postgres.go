package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/opensource-finance/liquidity/internal/domain"
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// openPostgres connects through a lib/pq connector. Credentials go into a
// URL so passwords with spaces or quotes survive.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid postgres settings: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach postgres at %s:%d: %w", hostOr(cfg.PostgresHost), portOr(cfg.PostgresPort), err)
	}
	return db, nil
}

func postgresDSN(cfg domain.RepositoryConfig) string {
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "liquidity"
	}
	sslMode := cfg.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     hostOr(cfg.PostgresHost) + ":" + strconv.Itoa(portOr(cfg.PostgresPort)),
		Path:     "/" + dbname,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}

func hostOr(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}

func portOr(port int) int {
	if port == 0 {
		return 5432
	}
	return port
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
