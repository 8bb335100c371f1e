package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
)

// --- モック定義 ---

// mockUserRepo はメールアドレスをキーにユーザーを保持するUserRepositoryのモック。
// 関数フィールドが設定されている場合はそちらを優先する。
type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByEmailFn func(ctx context.Context, email string) (*model.User, error)
	createFn      func(ctx context.Context, user *model.User) error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[email], nil
}

func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.Email]; ok {
		return repository.ErrDuplicateEmail
	}
	m.users[user.Email] = user
	return nil
}

// plainHasher はテスト高速化のためのPasswordHasher。
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }
func (plainHasher) Compare(hash, password string) (bool, error) {
	return hash == "hashed:"+password, nil
}

func newTestService(repo *mockUserRepo) *Service {
	return NewService(repo, NewTokenService("test-secret", 0), plainHasher{})
}

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError, got %T: %v", err, err)
	}
	return apiErr.Code
}

// --- Register ---

func TestService_Register_CreatesCustomerWithToken(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo)

	res, err := svc.Register(context.Background(), RegisterInput{
		Email: "  A@X.com ", Password: "secret1", Name: "Alice",
	})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.User.Email != "a@x.com" {
		t.Errorf("email = %q, want normalized %q", res.User.Email, "a@x.com")
	}
	if res.User.Role != model.RoleCustomer {
		t.Errorf("role = %q, want customer", res.User.Role)
	}
	if res.User.PasswordHash == "secret1" {
		t.Error("password must not be stored verbatim")
	}
	if res.Token == "" {
		t.Fatal("expected token")
	}

	claims, err := svc.tokens.Verify(res.Token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if claims.UserID != res.User.ID {
		t.Errorf("claims.UserID = %q, want %q", claims.UserID, res.User.ID)
	}
}

func TestService_Register_MissingFields(t *testing.T) {
	svc := newTestService(newMockUserRepo())

	inputs := []RegisterInput{
		{Password: "p", Name: "n"},
		{Email: "a@x.com", Name: "n"},
		{Email: "a@x.com", Password: "p", Name: "  "},
	}
	for _, in := range inputs {
		_, err := svc.Register(context.Background(), in)
		if code := apiErrorCode(t, err); code != model.ErrCodeMissingFields {
			t.Errorf("Register(%+v) code = %q, want %q", in, code, model.ErrCodeMissingFields)
		}
	}
}

func TestService_Register_InvalidEmail(t *testing.T) {
	svc := newTestService(newMockUserRepo())
	_, err := svc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "p", Name: "n"})
	if code := apiErrorCode(t, err); code != model.ErrCodeValidation {
		t.Errorf("code = %q, want %q", code, model.ErrCodeValidation)
	}
}

func TestService_Register_DuplicateEmailCaseInsensitive(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret1", Name: "Alice"}); err != nil {
		t.Fatalf("first Register returned error: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Email: "A@X.COM", Password: "other", Name: "Alias"})

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Category != model.CategoryConflict {
		t.Fatalf("err = %v, want conflict category", err)
	}
	if apiErr.Code != model.ErrCodeDuplicateEmail {
		t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeDuplicateEmail)
	}
}

// 事前チェック後に並行登録された場合もCreateの一意制約違反を重複エラーに変換することを検証する。
func TestService_Register_RaceOnCreate_ReturnsDuplicate(t *testing.T) {
	repo := newMockUserRepo()
	repo.createFn = func(ctx context.Context, user *model.User) error {
		return repository.ErrDuplicateEmail
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "p", Name: "n"})
	if code := apiErrorCode(t, err); code != model.ErrCodeDuplicateEmail {
		t.Errorf("code = %q, want %q", code, model.ErrCodeDuplicateEmail)
	}
}

func TestService_Register_StorageFailure_IsNotAPIError(t *testing.T) {
	repo := newMockUserRepo()
	repo.findByEmailFn = func(ctx context.Context, email string) (*model.User, error) {
		return nil, errors.New("connection refused")
	}
	svc := newTestService(repo)

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@x.com", Password: "p", Name: "n"})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("storage failure should not be an APIError, got %v", apiErr)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("err = %v, want wrapped cause", err)
	}
}

// --- Login ---

func TestService_Login(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret1", Name: "Alice"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	t.Run("correct credentials return same user", func(t *testing.T) {
		res, err := svc.Login(ctx, "A@x.com", "secret1")
		if err != nil {
			t.Fatalf("Login returned error: %v", err)
		}
		if res.User.ID != reg.User.ID {
			t.Errorf("user ID = %q, want %q", res.User.ID, reg.User.ID)
		}
		if res.Token == "" {
			t.Error("expected token")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "a@x.com", "wrong")
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Category != model.CategoryAuthentication {
			t.Fatalf("err = %v, want authentication category", err)
		}
		if apiErr.Code != model.ErrCodeInvalidCredential {
			t.Errorf("code = %q, want %q", apiErr.Code, model.ErrCodeInvalidCredential)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@x.com", "secret1")
		if code := apiErrorCode(t, err); code != model.ErrCodeInvalidCredential {
			t.Errorf("code = %q, want %q", code, model.ErrCodeInvalidCredential)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Login(ctx, "", "secret1")
		if code := apiErrorCode(t, err); code != model.ErrCodeMissingFields {
			t.Errorf("code = %q, want %q", code, model.ErrCodeMissingFields)
		}
	})
}

// --- Authenticate / Authorize ---

func TestService_Authenticate(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Email: "a@x.com", Password: "secret1", Name: "Alice"})
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	ghost := &model.User{ID: "ghost", Email: "ghost@x.com", Role: model.RoleCustomer}
	ghostToken, _ := svc.tokens.Issue(ghost)

	tests := []struct {
		name     string
		header   string
		wantCode string
	}{
		{"no header", "", model.ErrCodeMissingToken},
		{"wrong scheme", "Basic " + reg.Token, model.ErrCodeMissingToken},
		{"empty bearer", "Bearer   ", model.ErrCodeMissingToken},
		{"garbage token", "Bearer not.a.token", model.ErrCodeInvalidToken},
		{"user deleted", "Bearer " + ghostToken, model.ErrCodeUnknownUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tt.header)
			if code := apiErrorCode(t, err); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}

	t.Run("valid token", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, "bearer "+reg.Token)
		if err != nil {
			t.Fatalf("Authenticate returned error: %v", err)
		}
		if user.ID != reg.User.ID {
			t.Errorf("user ID = %q, want %q", user.ID, reg.User.ID)
		}
	})
}

func TestAuthorize(t *testing.T) {
	admin := &model.User{ID: "a", Role: model.RoleAdmin}
	customer := &model.User{ID: "c", Role: model.RoleCustomer}

	if err := Authorize(admin, model.RoleAdmin); err != nil {
		t.Errorf("Authorize(admin) = %v, want nil", err)
	}
	if code := apiErrorCode(t, Authorize(customer, model.RoleAdmin)); code != model.ErrCodeForbidden {
		t.Errorf("Authorize(customer) code = %q, want %q", code, model.ErrCodeForbidden)
	}
	if code := apiErrorCode(t, Authorize(nil, model.RoleAdmin)); code != model.ErrCodeUnauthenticated {
		t.Errorf("Authorize(nil) code = %q, want %q", code, model.ErrCodeUnauthenticated)
	}
}

func TestService_EnsureAdmin_Idempotent(t *testing.T) {
	repo := newMockUserRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	created, err := svc.EnsureAdmin(ctx, "Admin@X.com", "pw", "Admin")
	if err != nil || !created {
		t.Fatalf("EnsureAdmin = (%v, %v), want (true, nil)", created, err)
	}
	created, err = svc.EnsureAdmin(ctx, "admin@x.com", "pw", "Admin")
	if err != nil || created {
		t.Fatalf("second EnsureAdmin = (%v, %v), want (false, nil)", created, err)
	}

	u, _ := repo.FindByEmail(ctx, "admin@x.com")
	if u == nil || !u.IsAdmin() {
		t.Errorf("stored admin = %+v, want admin role", u)
	}
}
