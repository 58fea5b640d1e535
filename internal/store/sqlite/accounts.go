package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"ticket_grabber/internal/model"
)

const accountColumns = `id, uid, name, csrf, user_agent, proxy, cookies_json, created_at, updated_at`

// UpsertAccount 以 uid 去重，同一账号重复登录时覆盖 cookie。
func (s *Store) UpsertAccount(ctx context.Context, acc model.Account) (model.Account, error) {
	if acc.UID <= 0 {
		return model.Account{}, errors.New("uid is required")
	}
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	now := time.Now()
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = now
	}
	acc.UpdatedAt = now

	cookiesJSON, err := json.Marshal(acc.Cookies)
	if err != nil {
		return model.Account{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET
			name = excluded.name,
			csrf = excluded.csrf,
			user_agent = excluded.user_agent,
			proxy = excluded.proxy,
			cookies_json = excluded.cookies_json,
			updated_at = excluded.updated_at
	`, acc.ID, acc.UID, acc.Name, acc.CSRF, acc.UserAgent, acc.Proxy, string(cookiesJSON), acc.CreatedAt.UnixMilli(), acc.UpdatedAt.UnixMilli())
	if err != nil {
		return model.Account{}, err
	}
	return s.GetAccountByUID(ctx, acc.UID)
}

func (s *Store) GetAccount(ctx context.Context, id string) (model.Account, error) {
	return s.getAccountBy(ctx, "id", id)
}

func (s *Store) GetAccountByUID(ctx context.Context, uid int64) (model.Account, error) {
	return s.getAccountBy(ctx, "uid", uid)
}

func (s *Store) getAccountBy(ctx context.Context, column string, v any) (model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`, v)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	return acc, err
}

func (s *Store) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (model.Account, error) {
	var (
		acc       model.Account
		cookies   string
		createdAt int64
		updatedAt int64
	)
	if err := r.Scan(&acc.ID, &acc.UID, &acc.Name, &acc.CSRF, &acc.UserAgent, &acc.Proxy, &cookies, &createdAt, &updatedAt); err != nil {
		return model.Account{}, err
	}
	_ = json.Unmarshal([]byte(cookies), &acc.Cookies)
	acc.CreatedAt = time.UnixMilli(createdAt)
	acc.UpdatedAt = time.UnixMilli(updatedAt)
	return acc, nil
}
