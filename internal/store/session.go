package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Session is one physical database session with an open transaction, owned
// by exactly one unit of work. It is not safe for concurrent use; the
// single-owner contract makes locking unnecessary.
type Session interface {
	// Query runs a statement inside the transaction.
	Query(ctx context.Context, sqlStr string, args ...any) ([]map[string]any, error)
	// Exec runs a statement inside the transaction, returning affected rows.
	Exec(ctx context.Context, sqlStr string, args ...any) (int64, error)
	// ExecConn runs a statement on the underlying connection, outside the
	// transaction. Used for the role reset after commit/rollback.
	ExecConn(ctx context.Context, sqlStr string, args ...any) error
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls the transaction back.
	Rollback() error
	// Close returns the physical connection to the pool.
	Close() error
}

// SessionFactory opens sessions. *Store implements it; tests substitute fakes.
type SessionFactory interface {
	OpenSession(ctx context.Context) (Session, error)
}

// OpenSession pins one connection from the pool and begins a transaction on it.
func (s *Store) OpenSession(ctx context.Context) (Session, error) {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqlSession{conn: conn, tx: tx}, nil
}

type sqlSession struct {
	conn *sql.Conn
	tx   *sql.Tx
}

func (s *sqlSession) Query(ctx context.Context, sqlStr string, args ...any) ([]map[string]any, error) {
	return QueryRows(ctx, s.tx, sqlStr, args...)
}

func (s *sqlSession) Exec(ctx context.Context, sqlStr string, args ...any) (int64, error) {
	return Exec(ctx, s.tx, sqlStr, args...)
}

func (s *sqlSession) ExecConn(ctx context.Context, sqlStr string, args ...any) error {
	_, err := s.conn.ExecContext(ctx, sqlStr, args...)
	return err
}

func (s *sqlSession) Commit() error   { return s.tx.Commit() }
func (s *sqlSession) Rollback() error { return s.tx.Rollback() }
func (s *sqlSession) Close() error    { return s.conn.Close() }

var _ SessionFactory = (*Store)(nil)
