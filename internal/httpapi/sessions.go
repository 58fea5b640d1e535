package httpapi

import (
	"context"
	"errors"
	"sync"

	"ticket_grabber/internal/model"
	"ticket_grabber/internal/provider"
	"ticket_grabber/internal/store/sqlite"
)

// SessionFactory 为账号创建带 cookie 的会话。
type SessionFactory func(acc model.Account) (provider.Session, error)

// sessionPool 让同一账号的任务共享一个 cookie jar，账号更新时失效。
type sessionPool struct {
	factory SessionFactory

	mu    sync.Mutex
	items map[string]pooledSession
}

type pooledSession struct {
	updatedAt int64
	session   provider.Session
}

func newSessionPool(factory SessionFactory) *sessionPool {
	return &sessionPool{factory: factory, items: make(map[string]pooledSession)}
}

func (p *sessionPool) Get(acc model.Account) (provider.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[acc.ID]; ok && it.updatedAt == acc.UpdatedAt.UnixMilli() {
		return it.session, nil
	}
	sess, err := p.factory(acc)
	if err != nil {
		return nil, err
	}
	p.items[acc.ID] = pooledSession{updatedAt: acc.UpdatedAt.UnixMilli(), session: sess}
	return sess, nil
}

func (p *sessionPool) Forget(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, accountID)
}

// cookieExporter 由 standard.Session 实现。
type cookieExporter interface {
	ExportCookies() []model.CookieJarEntry
}

func (p *sessionPool) lookup(accountID string) (provider.Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	it, ok := p.items[accountID]
	return it.session, ok
}

// touch 在 cookie 回写后保留现有会话。
func (p *sessionPool) touch(accountID string, updatedAt int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if it, ok := p.items[accountID]; ok {
		it.updatedAt = updatedAt
		p.items[accountID] = it
	}
}

// SaveSessionCookies 把账号会话里服务端刷新过的 cookie 写回存储。
func (s *Server) SaveSessionCookies(ctx context.Context, accountID string) error {
	sess, ok := s.sessions.lookup(accountID)
	if !ok {
		return nil
	}
	exp, ok := sess.(cookieExporter)
	if !ok {
		return nil
	}
	cookies := exp.ExportCookies()
	if len(cookies) == 0 {
		return nil
	}
	acc, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return nil
		}
		return err
	}
	acc.Cookies = cookies
	saved, err := s.store.UpsertAccount(ctx, acc)
	if err != nil {
		return err
	}
	s.sessions.touch(accountID, saved.UpdatedAt.UnixMilli())
	return nil
}
