package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

// queryer операции persistence.Persistence поверх подключения или транзакции
type queryer struct {
	ext sqlx.ExtContext
}

func (q queryer) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, q.ext, dest, query, args...)
}

func (q queryer) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, q.ext, dest, query, args...)
}

func (q queryer) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := q.ext.ExecContext(ctx, query, args...)
	return err
}

// ExecWithResult число затронутых строк; для условных UPDATE это признак успеха
func (q queryer) ExecWithResult(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q queryer) NamedExec(ctx context.Context, query string, arg interface{}) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, query, arg)
	return err
}

func (q queryer) QueryRow(ctx context.Context, query string, args ...interface{}) *sqlx.Row {
	return q.ext.QueryRowxContext(ctx, query, args...)
}

// Query курсор; вызывающий обязан закрыть rows
func (q queryer) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	return q.ext.QueryxContext(ctx, query, args...)
}

// DB пул подключений, реализует persistence.Transactor
type DB struct {
	queryer
	db *sqlx.DB
}

func NewDB(db *sqlx.DB) *DB {
	return &DB{queryer: queryer{ext: db}, db: db}
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

// IsUniqueViolation нарушение уникального индекса
func IsUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolationCode)
}

// IsForeignKeyViolation ссылка на несуществующую строку
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, foreignKeyViolationCode)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
