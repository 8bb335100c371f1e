// Package auth はパスワード認証、トークン発行、リクエスト認証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
)

// emailPattern は最低限のメールアドレス形式。
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// Result は登録・ログイン成功時に返すユーザーとトークン。
type Result struct {
	User  *model.User
	Token string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  repository.UserRepository
	tokens *TokenService
	hasher PasswordHasher
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, tokens *TokenService, hasher PasswordHasher) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		hasher: hasher,
		now:    time.Now,
	}
}

// Register はcustomerロールのアカウントを作成し、トークンを発行する。
// メールアドレスは小文字に正規化して一意性を判定する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	email := model.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || in.Password == "" || name == "" {
		return nil, model.NewMissingFieldsError("Email, password, and name are required")
	}
	if !emailPattern.MatchString(email) {
		return nil, model.NewValidationError("Please provide a valid email address")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         model.RoleCustomer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// FindByEmailとCreateの間に同じメールアドレスで登録された場合も重複として扱う
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
	)

	return &Result{User: user, Token: token}, nil
}

// Login はメールアドレスとパスワードを照合し、トークンを発行する。
// 未登録とパスワード不一致は同じINVALID_CREDENTIALSとして返す。
func (s *Service) Login(ctx context.Context, email, password string) (*Result, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, model.NewMissingFieldsError("Email and password are required")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		// 保存済みハッシュが壊れている場合もログインは失敗として扱う
		slog.Warn("password comparison failed",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Result{User: user, Token: token}, nil
}

// Authenticate はAuthorizationヘッダーの値からユーザーを解決する。
//   - "Bearer <token>" 形式でない: MISSING_TOKEN
//   - 署名不一致・期限切れ: INVALID_OR_EXPIRED_TOKEN
//   - トークンのユーザーが存在しない: UNKNOWN_USER
func (s *Service) Authenticate(ctx context.Context, authorization string) (*model.User, error) {
	token, ok := bearerToken(authorization)
	if !ok {
		return nil, model.NewMissingTokenError()
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnknownUserError()
	}
	return user, nil
}

// Authorize は認証済みユーザーが要求ロールを持つかを検証する。
func Authorize(user *model.User, required model.Role) error {
	if user == nil {
		return model.NewUnauthenticatedError()
	}
	if user.Role != required {
		return model.NewForbiddenError(required)
	}
	return nil
}

// bearerToken は "Bearer <token>" からトークン部分を取り出す。スキームは大文字小文字を区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// EnsureAdmin は指定メールアドレスの管理者アカウントが無ければ作成する。
// 既に存在する場合はロールに関わらず何もしない。seedコマンドから使用する。
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (bool, error) {
	email = model.NormalizeEmail(email)
	if email == "" || password == "" {
		return false, model.NewMissingFieldsError("Admin email and password are required")
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return false, fmt.Errorf("failed to look up admin: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	admin := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         model.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create admin: %w", err)
	}
	return true, nil
}
