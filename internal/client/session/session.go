// Package session はクライアント側の認証セッションを管理する。
//
// 状態遷移:
//
//	anonymous --Login/Register--> authenticating --成功--> authenticated
//	                                             --失敗--> 元の状態
//	Restore(保存済みの資格情報あり) --> unverified
//	unverified --認証付きリクエスト成功--> authenticated
//	unverified/authenticated --401--> anonymous（保存済みの資格情報を削除）
//	authenticated/unverified --Logout--> anonymous
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/hitoshi/lunore/internal/client"
	"github.com/hitoshi/lunore/internal/client/kvstore"
)

// ストアのキー
const (
	KeyUser   = "user"
	KeyUserID = "userId"
	KeyToken  = "authToken"
)

// State はセッションの状態。
type State string

const (
	StateAnonymous      State = "anonymous"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	// StateUnverified はストアから復元したが、まだサーバーで確認していない状態。
	StateUnverified State = "unverified"
)

// ErrNotLoggedIn はログインしていない状態で確認しようとした場合のエラー。
var ErrNotLoggedIn = errors.New("not logged in")

// API はセッションが使うAPIクライアントのインターフェース。
type API interface {
	Register(ctx context.Context, in client.RegisterInput) (*client.AuthResult, error)
	Login(ctx context.Context, email, password string) (*client.AuthResult, error)
	Logout(ctx context.Context) error
	Me(ctx context.Context) (*client.User, error)
}

// Session はログイン中のユーザーとトークンを保持する。
// client.TokenSourceとclient.AuthObserverを実装し、Clientに設定して使う。
type Session struct {
	api    API
	store  kvstore.Store
	logger *slog.Logger

	mu    sync.RWMutex
	state State
	user  *client.User
	token string
	hooks []func()
}

var (
	_ client.TokenSource  = (*Session)(nil)
	_ client.AuthObserver = (*Session)(nil)
)

// New は匿名状態のSessionを生成する。保存済みの資格情報を使うにはRestoreを呼ぶ。
func New(api API, store kvstore.Store, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:    api,
		store:  store,
		logger: logger,
		state:  StateAnonymous,
	}
}

// OnLogout はログアウト時（401による失効を含む）に呼ばれる関数を登録する。
func (s *Session) OnLogout(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// State は現在の状態を返す。
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User はログイン中のユーザーを返す。匿名の場合はnil。
func (s *Session) User() *client.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// UserID はログイン中のユーザーIDを返す。未確認の復元セッションも含む。
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasIdentity() || s.user == nil {
		return "", false
	}
	return s.user.ID, true
}

// Token はBearerトークンを返す。資格情報が無い場合は空文字列。
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasIdentity() {
		return ""
	}
	return s.token
}

// hasIdentity は呼び出し側でロックを保持していること。
func (s *Session) hasIdentity() bool {
	return s.state == StateAuthenticated || s.state == StateUnverified
}

// Restore はストアに保存された資格情報を読み込み、unverified状態にする。
// 資格情報が揃っていない、または壊れている場合はストアを消去して匿名のままにする。
func (s *Session) Restore() error {
	token, hasToken, err := s.store.Get(KeyToken)
	if err != nil {
		return fmt.Errorf("failed to read stored token: %w", err)
	}
	raw, hasUser, err := s.store.Get(KeyUser)
	if err != nil {
		return fmt.Errorf("failed to read stored user: %w", err)
	}

	if !hasToken || !hasUser || token == "" {
		if hasToken || hasUser {
			s.logger.Warn("stored session is incomplete, discarding")
			return s.wipe()
		}
		return nil
	}

	var u client.User
	if err := json.Unmarshal([]byte(raw), &u); err != nil || u.ID == "" {
		s.logger.Warn("stored user is unreadable, discarding session")
		return s.wipe()
	}

	s.mu.Lock()
	s.state = StateUnverified
	s.user = &u
	s.token = token
	s.mu.Unlock()

	s.logger.Debug("session restored", slog.String("user_id", u.ID))
	return nil
}

// Login はログインし、成功すれば資格情報を保存してauthenticatedにする。
// 失敗した場合は状態を戻し、サーバーのメッセージを持つエラーをそのまま返す。
func (s *Session) Login(ctx context.Context, email, password string) (*client.User, error) {
	return s.authenticate(func() (*client.AuthResult, error) {
		return s.api.Login(ctx, email, password)
	})
}

// Register はアカウントを登録し、そのままログイン状態にする。
func (s *Session) Register(ctx context.Context, in client.RegisterInput) (*client.User, error) {
	return s.authenticate(func() (*client.AuthResult, error) {
		return s.api.Register(ctx, in)
	})
}

func (s *Session) authenticate(call func() (*client.AuthResult, error)) (*client.User, error) {
	s.mu.Lock()
	prev := s.state
	s.state = StateAuthenticating
	s.mu.Unlock()

	res, err := call()
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return nil, err
	}

	if err := s.persist(&res.User, res.Token); err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return nil, err
	}

	u := res.User
	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = &u
	s.token = res.Token
	s.mu.Unlock()

	s.logger.Info("logged in", slog.String("user_id", u.ID))
	return &u, nil
}

// Logout はサーバーへ通知したうえで資格情報を消去し、匿名状態にする。
// サーバーへの通知が失敗してもローカルのログアウトは行う。
func (s *Session) Logout(ctx context.Context) error {
	if s.Token() != "" {
		if err := s.api.Logout(ctx); err != nil {
			s.logger.Warn("logout request failed", slog.String("error", err.Error()))
		}
	}
	return s.clear()
}

// Verify は保存済みのトークンをサーバーで確認する。
// 成功するとauthenticatedになりユーザー情報を更新する。401の場合は匿名状態になる。
// ネットワークエラーなど判断できない場合は状態を変えずにエラーを返す。
func (s *Session) Verify(ctx context.Context) error {
	if s.Token() == "" {
		return ErrNotLoggedIn
	}

	u, err := s.api.Me(ctx)
	if err != nil {
		// Clientに設定されていない場合もあるため、ここでも401を反映する
		if client.IsStatus(err, http.StatusUnauthorized) {
			s.ObserveAuth(http.StatusUnauthorized)
		}
		return err
	}

	s.mu.Lock()
	if !s.hasIdentity() {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	token := s.token
	s.mu.Unlock()

	if err := s.persist(u, token); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = u
	s.mu.Unlock()
	return nil
}

// ObserveAuth は認証付きリクエストの結果でセッションの状態を更新する。
func (s *Session) ObserveAuth(status int) {
	switch {
	case status == http.StatusUnauthorized:
		s.mu.RLock()
		active := s.hasIdentity()
		s.mu.RUnlock()
		if !active {
			return
		}
		s.logger.Info("session rejected by server, logging out")
		if err := s.clear(); err != nil {
			s.logger.Error("failed to clear session", slog.String("error", err.Error()))
		}
	case status >= 200 && status < 300:
		s.mu.Lock()
		if s.state == StateUnverified {
			s.state = StateAuthenticated
		}
		s.mu.Unlock()
	}
}

// clear はメモリとストアの資格情報を消去し、ログアウトフックを呼ぶ。
func (s *Session) clear() error {
	s.mu.Lock()
	wasActive := s.hasIdentity()
	s.state = StateAnonymous
	s.user = nil
	s.token = ""
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()

	err := s.wipe()
	if wasActive {
		for _, fn := range hooks {
			fn()
		}
	}
	return err
}

func (s *Session) persist(u *client.User, token string) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.store.Set(KeyUser, string(raw)); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	if err := s.store.Set(KeyUserID, u.ID); err != nil {
		return fmt.Errorf("failed to store user id: %w", err)
	}
	if err := s.store.Set(KeyToken, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

func (s *Session) wipe() error {
	var errs []error
	for _, key := range []string{KeyUser, KeyUserID, KeyToken} {
		if err := s.store.Delete(key); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to clear stored session: %w", errors.Join(errs...))
	}
	return nil
}
