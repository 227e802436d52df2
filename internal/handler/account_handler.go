// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/roster/internal/account"
	"github.com/hitoshi/roster/internal/model"
)

// currentUserIDHeader はプロフィール更新時の帯域外アイデンティティ表明ヘッダー。
// トランスポート上は任意だが、更新操作では意味的に必須。
const currentUserIDHeader = "CurrentUserId"

// birthdayLayout は誕生日フィールドのAPI表現形式。
const birthdayLayout = "2006-01-02"

// AccountServiceInterface はアカウントハンドラーが必要とするサービスインターフェース。
type AccountServiceInterface interface {
	// List は全アカウントを返す。
	List(ctx context.Context) ([]*model.Account, error)
	// GetByID は指定IDのアカウントを返す。
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	// Create は新規アカウントを作成する。
	Create(ctx context.Context, input account.CreateInput) (*model.Account, error)
	// Update はプロフィールを部分更新する。認可確認後にのみ呼び出すこと。
	Update(ctx context.Context, id int64, input account.UpdateInput) (*model.Account, error)
}

// UpdateAuthorizer はプロフィール更新の認可ゲートインターフェース。
type UpdateAuthorizer interface {
	// AuthorizeUpdate は対象IDと申告IDの本人一致を検証する。
	AuthorizeUpdate(targetID int64, asserted string) error
}

// AccountHandler はアカウント管理のHTTPハンドラー。
type AccountHandler struct {
	service    AccountServiceInterface
	authorizer UpdateAuthorizer
}

// NewAccountHandler はAccountHandlerを生成する。
func NewAccountHandler(service AccountServiceInterface, authorizer UpdateAuthorizer) *AccountHandler {
	return &AccountHandler{
		service:    service,
		authorizer: authorizer,
	}
}

// createAccountRequest はアカウント作成リクエストのボディ。
// 誕生日フィールドは定義しない。作成時に送られても無視される。
type createAccountRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// updateAccountRequest はプロフィール更新リクエストのボディ。
// 省略されたフィールドは変更しない。
type updateAccountRequest struct {
	Username *string `json:"username"`
	Birthday *string `json:"birthday"`
}

// accountResponse はアカウント情報のAPIレスポンス。
// パスワードは外部に出さない。
type accountResponse struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	Status       string    `json:"status"`
	Token        string    `json:"token"`
	CreationDate time.Time `json:"creation_date"`
	Birthday     *string   `json:"birthday,omitempty"`
}

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// ListAccounts は全アカウントの一覧を返す。
// GET /users
func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	responses := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		responses = append(responses, toAccountResponse(a))
	}

	writeJSON(w, http.StatusOK, responses)
}

// GetAccount は指定IDのアカウントを返す。
// GET /users/{userId}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("ユーザーIDは数値で指定してください"))
		return
	}

	acct, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(acct))
}

// CreateAccount は新規アカウントを作成する。
// POST /users
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの解析に失敗しました"))
		return
	}

	created, err := h.service.Create(r.Context(), account.CreateInput{
		Username: req.Username,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(created))
}

// UpdateAccount はプロフィール（ユーザー名・誕生日）を更新する。
// PUT /users/{userId}
// CurrentUserIdヘッダーによる本人表明を認可ゲートで検証してから更新する。
func (h *AccountHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("ユーザーIDは数値で指定してください"))
		return
	}

	asserted := r.Header.Get(currentUserIDHeader)
	if err := h.authorizer.AuthorizeUpdate(id, asserted); err != nil {
		handleServiceError(w, err)
		return
	}

	var req updateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの解析に失敗しました"))
		return
	}

	input := account.UpdateInput{Username: req.Username}
	if req.Birthday != nil {
		birthday, err := time.Parse(birthdayLayout, *req.Birthday)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("誕生日はYYYY-MM-DD形式で指定してください"))
			return
		}
		input.Birthday = &birthday
	}

	if _, err := h.service.Update(r.Context(), id, input); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// --- ヘルパー関数 ---

// parseUserID はパスパラメータ{userId}を数値IDとして解析する。
func parseUserID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
}

// toAccountResponse はmodel.AccountからAPIレスポンスに変換する。
func toAccountResponse(a *model.Account) accountResponse {
	res := accountResponse{
		ID:           a.ID,
		Username:     a.Username,
		Name:         a.Name,
		Status:       string(a.Status),
		Token:        a.Token,
		CreationDate: a.CreationDate,
	}
	if a.Birthday != nil {
		b := a.Birthday.Format(birthdayLayout)
		res.Birthday = &b
	}
	return res
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
// エラークラスごとに外向きのステータスを固定し、呼び出し側がメッセージ文字列ではなく
// コードで分岐できるようにする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUserNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeUsernameTaken:
		return http.StatusConflict
	case model.ErrCodeWrongPassword:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeAuthRequired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
