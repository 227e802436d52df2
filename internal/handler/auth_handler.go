// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/roster/internal/model"
)

// SessionServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type SessionServiceInterface interface {
	// Login は資格情報を検証し、成功時にONLINEへ遷移したアカウントを返す。
	Login(ctx context.Context, username, password string) (*model.Account, error)
	// Logout は指定IDのアカウントをOFFLINEへ遷移させる。
	Logout(ctx context.Context, id int64) error
}

// AuthHandler はログイン・ログアウトのHTTPハンドラー。
type AuthHandler struct {
	service SessionServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service SessionServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login は資格情報を検証し、成功時にアカウント情報を返す。
// POST /login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("リクエストボディの解析に失敗しました"))
		return
	}

	account, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAccountResponse(account))
}

// Logout は指定IDのアカウントをOFFLINEへ遷移させる。
// POST /logout/{userId}
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidInputError("ユーザーIDは数値で指定してください"))
		return
	}

	if err := h.service.Logout(r.Context(), id); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
