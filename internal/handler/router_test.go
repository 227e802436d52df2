package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/roster/internal/account"
	"github.com/hitoshi/roster/internal/model"
	"github.com/hitoshi/roster/internal/session"
)

// --- インメモリフェイクリポジトリ ---

// fakeAccountRepo はルーター経由の結合テスト用のインメモリリポジトリ。
type fakeAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*model.Account
	nextID   int64
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{
		accounts: make(map[int64]*model.Account),
		nextID:   1,
	}
}

func (r *fakeAccountRepo) FindAll(ctx context.Context) ([]*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]*model.Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		copied := *a
		result = append(result, &copied)
	}
	return result, nil
}

func (r *fakeAccountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	copied := *a
	return &copied, nil
}

func (r *fakeAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.Username == username {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeAccountRepo) Save(ctx context.Context, a *model.Account) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	if copied.ID == 0 {
		copied.ID = r.nextID
		r.nextID++
	}
	r.accounts[copied.ID] = &copied
	result := copied
	return &result, nil
}

func (r *fakeAccountRepo) Flush(ctx context.Context) error {
	return nil
}

// --- テストヘルパー ---

// newTestRouter はインメモリリポジトリと実サービスをワイヤリングしたルーターを構築する。
func newTestRouter(t *testing.T) (http.Handler, *fakeAccountRepo) {
	t.Helper()

	repo := newFakeAccountRepo()
	accountService := account.NewService(repo, nil)
	sessionService := session.NewService(repo, nil)

	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		HealthChecker:     alwaysHealthy{},
		AccountService:    accountService,
		SessionService:    sessionService,
		Authorizer:        sessionService,
	}

	return NewRouter(deps), repo
}

type alwaysHealthy struct{}

func (alwaysHealthy) PingContext(ctx context.Context) error { return nil }

type failingHealthChecker struct{}

func (failingHealthChecker) PingContext(ctx context.Context) error {
	return errors.New("connection refused")
}

func doJSON(t *testing.T, router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeAccount(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode account response: %v", err)
	}
	return result
}

// --- 結合シナリオテスト ---

// TestRouter_AccountLifecycle は登録→重複→ログイン→更新→ログアウトの
// 一連のライフサイクルをルーター経由で検証する。
func TestRouter_AccountLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	// 1. アカウント登録: 201、ID採番、ONLINE、トークン発行
	w := doJSON(t, router, http.MethodPost, "/users", `{"username":"alice","name":"Alice","password":"secret"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /users status = %d, want %d", w.Code, http.StatusCreated)
	}
	created := decodeAccount(t, w)
	if created["id"] != float64(1) {
		t.Errorf("id = %v, want 1", created["id"])
	}
	if created["status"] != "ONLINE" {
		t.Errorf("status = %v, want ONLINE", created["status"])
	}
	token, ok := created["token"].(string)
	if !ok || token == "" {
		t.Error("expected non-empty token")
	}

	// 2. 同一ユーザー名での登録: 409
	w = doJSON(t, router, http.MethodPost, "/users", `{"username":"alice","name":"Alice2","password":"other"}`, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate POST /users status = %d, want %d", w.Code, http.StatusConflict)
	}

	// 3. 誤ったパスワードでのログイン: 401
	w = doJSON(t, router, http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("login with wrong password status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// 4. 正しい資格情報でのログイン: 200、ONLINE、トークンは再発行されない
	w = doJSON(t, router, http.MethodPost, "/login", `{"username":"alice","password":"secret"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, want %d", w.Code, http.StatusOK)
	}
	loggedIn := decodeAccount(t, w)
	if loggedIn["status"] != "ONLINE" {
		t.Errorf("status after login = %v, want ONLINE", loggedIn["status"])
	}
	if loggedIn["token"] != token {
		t.Errorf("token after login = %v, want %v (no reissue)", loggedIn["token"], token)
	}

	// 5. 本人によるプロフィール更新: 204
	w = doJSON(t, router, http.MethodPut, "/users/1", `{"username":"alice2","birthday":"1990-05-01"}`,
		map[string]string{"CurrentUserId": "1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("PUT /users/1 status = %d, want %d", w.Code, http.StatusNoContent)
	}

	// 6. 更新内容の確認
	w = doJSON(t, router, http.MethodGet, "/users/1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /users/1 status = %d, want %d", w.Code, http.StatusOK)
	}
	fetched := decodeAccount(t, w)
	if fetched["username"] != "alice2" {
		t.Errorf("username = %v, want alice2", fetched["username"])
	}
	if fetched["birthday"] != "1990-05-01" {
		t.Errorf("birthday = %v, want 1990-05-01", fetched["birthday"])
	}

	// 7. 他人になりすました更新: 403
	w = doJSON(t, router, http.MethodPut, "/users/1", `{"username":"mallory"}`,
		map[string]string{"CurrentUserId": "2"})
	if w.Code != http.StatusForbidden {
		t.Errorf("PUT /users/1 as another user status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 8. ログアウト: 204、OFFLINE遷移
	w = doJSON(t, router, http.MethodPost, "/logout/1", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("POST /logout/1 status = %d, want %d", w.Code, http.StatusNoContent)
	}

	w = doJSON(t, router, http.MethodGet, "/users/1", "", nil)
	fetched = decodeAccount(t, w)
	if fetched["status"] != "OFFLINE" {
		t.Errorf("status after logout = %v, want OFFLINE", fetched["status"])
	}
}

func TestRouter_UpdateWithoutHeader_ReturnsAuthRequired(t *testing.T) {
	router, repo := newTestRouter(t)
	repo.Save(context.Background(), &model.Account{
		Username: "alice", Name: "Alice", Password: "secret",
		Token: "token-1", Status: model.StatusOnline,
	})

	w := doJSON(t, router, http.MethodPut, "/users/1", `{"username":"alice2"}`, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	body := parseAPIErrorResponse(t, w)
	if body["code"] != model.ErrCodeAuthRequired {
		t.Errorf("code = %q, want %q", body["code"], model.ErrCodeAuthRequired)
	}
}

func TestRouter_UpdateWithNonNumericHeader_ReturnsBadRequest(t *testing.T) {
	router, repo := newTestRouter(t)
	repo.Save(context.Background(), &model.Account{
		Username: "alice", Name: "Alice", Password: "secret",
		Token: "token-1", Status: model.StatusOnline,
	})

	w := doJSON(t, router, http.MethodPut, "/users/1", `{"username":"alice2"}`,
		map[string]string{"CurrentUserId": "abc"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_ListAccounts_ReturnsAll(t *testing.T) {
	router, repo := newTestRouter(t)
	ctx := context.Background()
	repo.Save(ctx, &model.Account{Username: "alice", Name: "Alice", Password: "a", Token: "t1", Status: model.StatusOnline})
	repo.Save(ctx, &model.Account{Username: "bob", Name: "Bob", Password: "b", Token: "t2", Status: model.StatusOffline})

	w := doJSON(t, router, http.MethodGet, "/users", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var accounts []map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&accounts); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("len(accounts) = %d, want 2", len(accounts))
	}
}

func TestRouter_GetUnknownAccount_ReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/users/999", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRouter_CreateWithMissingFields_ReturnsBadRequest(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/users", `{"username":"alice"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestRouter_LoginUnknownUser_ReturnsNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/login", `{"username":"ghost","password":"x"}`, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- ヘルスチェックテスト ---

func TestRouter_Health_OK(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestRouter_Health_StoreUnavailable_Returns503(t *testing.T) {
	deps := &RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		HealthChecker:     failingHealthChecker{},
		AccountService:    &mockAccountService{},
		SessionService:    &mockSessionService{},
		Authorizer:        &mockAuthorizer{},
	}
	router := NewRouter(deps)

	w := doJSON(t, router, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- ミドルウェア適用テスト ---

func TestRouter_AppliesSecurityHeaders(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodGet, "/health", "", nil)

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestRouter_CORSPreflight_AllowsCurrentUserIdHeader(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/users/1", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPut)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	allowHeaders := w.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allowHeaders, "CurrentUserId") {
		t.Errorf("Access-Control-Allow-Headers = %q, want CurrentUserId included", allowHeaders)
	}
}
