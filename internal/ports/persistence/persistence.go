package persistence

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Persistence общий набор операций для подключения и транзакции
type Persistence interface {
	Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Exec(ctx context.Context, query string, args ...interface{}) error
	ExecWithResult(ctx context.Context, query string, args ...interface{}) (int64, error)
	NamedExec(ctx context.Context, query string, arg interface{}) error
	QueryRow(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
}

// Transaction открытая транзакция
type Transaction interface {
	Persistence
	Commit() error
	Rollback() error
}

// Transactor подключение, умеющее открывать транзакции
type Transactor interface {
	Persistence
	BeginTx(ctx context.Context) (Transaction, error)
	WithTransaction(ctx context.Context, fn func(context.Context, Transaction) error) error
}
