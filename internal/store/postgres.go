package store

import (
    "context"
    "database/sql"
    "errors"
    "time"

    "github.com/jackc/pgx/v5/pgconn"
    _ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
    name:      "postgres",
    forUpdate: " FOR UPDATE",
    rebind:    rebindDollar,
    isUnique: func(err error) bool {
        var pgErr *pgconn.PgError
        return errors.As(err, &pgErr) && pgErr.Code == "23505"
    },
}

// NewPostgres opens a postgres store through the pgx stdlib driver.
func NewPostgres(dsn string) (*SQL, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(20)
    db.SetConnMaxIdleTime(5 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        _ = db.Close()
        return nil, err
    }
    return &SQL{db: db, d: postgresDialect}, nil
}
