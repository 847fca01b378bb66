package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

var exchangeColumns = []string{"id", "user_id", "prompt", "response", "created_at", "provider"}

// AppendExchange stores one prompt/response pair and returns the stored row,
// with id and timestamp assigned by the database.
func (s *Store) AppendExchange(ctx context.Context, prompt, response, provider string) (Exchange, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Exchange{}, fmt.Errorf("begin append exchange: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	q := s.sql.Insert("exchanges").
		Columns("user_id", "prompt", "response", "provider", "created_at").
		Values(DefaultUserID, prompt, response, provider, nowExpr(s.driver)).
		Suffix("RETURNING id")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Exchange{}, fmt.Errorf("build append exchange query: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
		return Exchange{}, fmt.Errorf("insert exchange: %w", err)
	}

	sel, selArgs, err := s.sql.Select(exchangeColumns...).From("exchanges").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Exchange{}, fmt.Errorf("build read exchange query: %w", err)
	}
	ex, err := scanExchange(tx.QueryRowContext(ctx, sel, selArgs...))
	if err != nil {
		return Exchange{}, fmt.Errorf("read stored exchange: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Exchange{}, fmt.Errorf("commit append exchange: %w", err)
	}
	return ex, nil
}

// ListExchanges returns at most limit exchanges, newest first.
// A negative limit (see Unbounded) returns all of them.
func (s *Store) ListExchanges(ctx context.Context, limit int) ([]Exchange, error) {
	out := make([]Exchange, 0)
	if limit == 0 {
		return out, nil
	}

	q := s.sql.Select(exchangeColumns...).
		From("exchanges").
		OrderBy("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list exchanges query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list exchanges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange row: %w", err)
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rows: %w", err)
	}
	return out, nil
}

// ClearAll deletes every exchange and reports how many were removed.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear exchanges: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	sqlStr, args, err := s.sql.Delete("exchanges").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build clear exchanges query: %w", err)
	}
	res, err := tx.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("clear exchanges: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear exchanges: %w", err)
	}
	return n, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	sqlStr, args, err := s.sql.Select("value").From("settings").Where(sq.Eq{"name": key}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build get setting query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	q := s.sql.Insert("settings").
		Columns("name", "value", "updated_at").
		Values(key, value, nowExpr(s.driver)).
		Suffix("ON CONFLICT(name) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build set setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner) (Exchange, error) {
	var ex Exchange
	if err := row.Scan(&ex.ID, &ex.UserID, &ex.Prompt, &ex.Response, &ex.Timestamp, &ex.Provider); err != nil {
		return Exchange{}, err
	}
	return ex, nil
}

func nowExpr(driver string) any {
	if driver == "postgres" {
		return sq.Expr("NOW()")
	}
	return sq.Expr("CURRENT_TIMESTAMP")
}
