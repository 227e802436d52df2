// Package session は認証とプレゼンス遷移のドメインロジックを提供する。
// 資格情報の検証、ログイン・ログアウトによるONLINE/OFFLINE遷移、
// プロフィール更新の本人限定認可を担う。
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/hitoshi/roster/internal/model"
	"github.com/hitoshi/roster/internal/repository"
)

// MetricsRecorder はログイン・ログアウトメトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordLoginSuccess()
	RecordLoginFailure(reason string)
	RecordLogout()
}

// Service はセッション管理のサービス層。
// 自身の状態は持たず、アカウントストアを介してのみ状態を変更する。
type Service struct {
	repo    repository.AccountRepository
	metrics MetricsRecorder
}

// NewService はServiceの新しいインスタンスを生成する。
// metricsはnilを許容する。
func NewService(repo repository.AccountRepository, metrics MetricsRecorder) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics,
	}
}

// Login は資格情報を検証し、成功時にステータスをONLINEへ遷移させる。
// パスワードは保存値との完全一致で照合する。
// 失敗時はいかなるアカウントのステータスも変更しない。
// トークンの再発行は行わない。作成時に発行されたトークンが継続して有効。
func (s *Service) Login(ctx context.Context, username, password string) (*model.Account, error) {
	account, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		s.recordLoginFailure("unknown_user")
		return nil, model.NewUserNotFoundError()
	}

	if account.Password != password {
		s.recordLoginFailure("wrong_password")
		slog.Warn("login rejected: password mismatch",
			slog.String("username", username),
		)
		return nil, model.NewWrongPasswordError()
	}

	account.Status = model.StatusOnline
	if _, err := s.repo.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("ステータスの保存に失敗しました: %w", err)
	}
	if err := s.repo.Flush(ctx); err != nil {
		return nil, fmt.Errorf("ステータスの書き込み確定に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordLoginSuccess()
	}

	slog.Info("user logged in",
		slog.Int64("account_id", account.ID),
		slog.String("username", account.Username),
	)

	return account, nil
}

// Logout は指定IDのアカウントのステータスをOFFLINEへ遷移させる。
func (s *Service) Logout(ctx context.Context, id int64) error {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return model.NewUserNotFoundError()
	}

	account.Status = model.StatusOffline
	if _, err := s.repo.Save(ctx, account); err != nil {
		return fmt.Errorf("ステータスの保存に失敗しました: %w", err)
	}
	if err := s.repo.Flush(ctx); err != nil {
		return fmt.Errorf("ステータスの書き込み確定に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordLogout()
	}

	slog.Info("user logged out",
		slog.Int64("account_id", account.ID),
	)

	return nil
}

// AuthorizeUpdate はプロフィール更新の本人限定認可ゲート。
// AccountDirectoryのUpdate呼び出しより前に実行すること。
// assertedはCurrentUserIdヘッダーで申告されたID文字列（未申告は空文字列）。
//
//	未申告        → AUTH_REQUIRED
//	数値以外      → INVALID_INPUT
//	対象IDと不一致 → FORBIDDEN
//	対象IDと一致   → nil
//
// 管理者等の上位権限による代理更新は存在しない。
func (s *Service) AuthorizeUpdate(targetID int64, asserted string) error {
	if asserted == "" {
		slog.Warn("update rejected: no identity assertion",
			slog.Int64("target_id", targetID),
		)
		return model.NewAuthRequiredError()
	}

	assertedID, err := strconv.ParseInt(asserted, 10, 64)
	if err != nil {
		slog.Warn("update rejected: malformed identity assertion",
			slog.Int64("target_id", targetID),
			slog.String("asserted", asserted),
		)
		return model.NewInvalidInputError("CurrentUserIdヘッダーの形式が不正です")
	}

	if assertedID != targetID {
		slog.Warn("update rejected: assertion does not match target",
			slog.Int64("target_id", targetID),
			slog.Int64("asserted_id", assertedID),
		)
		return model.NewForbiddenError()
	}

	return nil
}

// recordLoginFailure はログイン失敗メトリクスを記録する。
func (s *Service) recordLoginFailure(reason string) {
	if s.metrics != nil {
		s.metrics.RecordLoginFailure(reason)
	}
}
