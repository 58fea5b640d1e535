package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"ticket_grabber/internal/model"
)

// UpsertTask 记录任务的最新状态，任务 id 由调度器生成。
func (s *Store) UpsertTask(ctx context.Context, t model.TaskInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, kind, account_id, uid, project_id, screen_id, ticket_id, mode, state, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, t.ID, t.Kind, t.AccountID, t.UID, t.ProjectID, t.ScreenID, t.TicketID, t.Mode,
		string(t.Status.State), t.Status.Error, t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli())
	return err
}

func (s *Store) ListTasks(ctx context.Context, limit int) ([]model.TaskInfo, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, account_id, uid, project_id, screen_id, ticket_id, mode, state, error, created_at, updated_at
		FROM tasks ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskInfo
	for rows.Next() {
		var (
			t                    model.TaskInfo
			state                string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&t.ID, &t.Kind, &t.AccountID, &t.UID, &t.ProjectID, &t.ScreenID, &t.TicketID, &t.Mode,
			&state, &t.Status.Error, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.Status.State = model.TaskState(state)
		t.CreatedAt = time.UnixMilli(createdAt)
		t.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) InsertResult(ctx context.Context, r model.GrabResult) error {
	confirmJSON, payJSON := "", ""
	if r.ConfirmResult != nil {
		b, err := json.Marshal(r.ConfirmResult)
		if err != nil {
			return err
		}
		confirmJSON = string(b)
	}
	if r.PayResult != nil {
		b, err := json.Marshal(r.PayResult)
		if err != nil {
			return err
		}
		payJSON = string(b)
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	success := 0
	if r.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grab_results (task_id, uid, success, message, order_id, pay_token, confirm_json, pay_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.TaskID, r.UID, success, r.Message, r.OrderID, r.PayToken, confirmJSON, payJSON, at.UnixMilli())
	return err
}

// ListResults 返回最近的结果，taskID 为空时不过滤。
func (s *Store) ListResults(ctx context.Context, taskID string, limit int) ([]model.GrabResult, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, uid, success, message, order_id, pay_token, confirm_json, pay_json, at
		FROM grab_results WHERE (? = '' OR task_id = ?) ORDER BY id DESC LIMIT ?
	`, taskID, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GrabResult
	for rows.Next() {
		var (
			r                    model.GrabResult
			success              int
			confirmJSON, payJSON string
			at                   int64
		)
		if err := rows.Scan(&r.TaskID, &r.UID, &success, &r.Message, &r.OrderID, &r.PayToken, &confirmJSON, &payJSON, &at); err != nil {
			return nil, err
		}
		r.Success = success == 1
		r.At = time.UnixMilli(at)
		if confirmJSON != "" {
			var c model.ConfirmResult
			if json.Unmarshal([]byte(confirmJSON), &c) == nil {
				r.ConfirmResult = &c
			}
		}
		if payJSON != "" {
			var p model.PayParam
			if json.Unmarshal([]byte(payJSON), &p) == nil {
				r.PayResult = &p
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
