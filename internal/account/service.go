// Package account はアカウント台帳のドメインロジックを提供する。
// アカウント集合のCRUD操作と、ユーザー名一意性・必須項目の検証を担う。
package account

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/roster/internal/model"
	"github.com/hitoshi/roster/internal/repository"
)

// MetricsRecorder はアカウント作成メトリクスの記録インターフェース。
type MetricsRecorder interface {
	RecordAccountCreated()
}

// CreateInput はアカウント作成の入力。
// 誕生日は作成時には受け付けない（プロフィール更新でのみ設定可能）。
type CreateInput struct {
	Username string
	Name     string
	Password string
}

// UpdateInput はプロフィール更新の入力。
// nilのフィールドは変更しない部分更新を行う。
type UpdateInput struct {
	Username *string
	Birthday *time.Time
}

// Service はアカウント台帳のサービス層。
// 認可の判定は行わない。更新系の呼び出しは認可確認済みであることを前提とする。
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

// List は全アカウントを返す。順序は保証しない。
func (s *Service) List(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.repo.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	return accounts, nil
}

// GetByID は指定IDのアカウントを返す。
func (s *Service) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}
	return account, nil
}

// GetByUsername は指定ユーザー名のアカウントを返す。
func (s *Service) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	account, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}
	return account, nil
}

// Create は新規アカウントを作成する。
// 必須項目を検証し、ユーザー名の一意性を確認したうえで、
// トークンを発行し、ステータスをONLINEに、作成日時を現在時刻に設定して永続化する。
func (s *Service) Create(ctx context.Context, input CreateInput) (*model.Account, error) {
	if strings.TrimSpace(input.Username) == "" {
		return nil, model.NewInvalidInputError("ユーザー名は必須です")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, model.NewInvalidInputError("表示名は必須です")
	}
	if strings.TrimSpace(input.Password) == "" {
		return nil, model.NewInvalidInputError("パスワードは必須です")
	}

	// ユーザー名一意性の事前チェック。内部照会での未検出はエラーではない。
	existing, err := s.repo.FindByUsername(ctx, input.Username)
	if err != nil {
		return nil, fmt.Errorf("ユーザー名の重複確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewUsernameTakenError(input.Username)
	}

	account := &model.Account{
		Username:     input.Username,
		Name:         input.Name,
		Password:     input.Password,
		Token:        uuid.New().String(),
		Status:       model.StatusOnline,
		CreationDate: time.Now(),
	}

	saved, err := s.repo.Save(ctx, account)
	if err != nil {
		// 同時作成レースで事前チェックをすり抜けた場合、
		// ストアのUNIQUE制約が最終防衛線となる。
		if repository.IsUniqueViolation(err) {
			return nil, model.NewUsernameTakenError(input.Username)
		}
		return nil, fmt.Errorf("アカウントの保存に失敗しました: %w", err)
	}

	if err := s.repo.Flush(ctx); err != nil {
		return nil, fmt.Errorf("アカウントの書き込み確定に失敗しました: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordAccountCreated()
	}

	slog.Info("account created",
		slog.Int64("account_id", saved.ID),
		slog.String("username", saved.Username),
	)

	return saved, nil
}

// Update はプロフィール（ユーザー名・誕生日）を部分更新する。
// 認可の判定は呼び出し側（SessionGuard）で完了していること。
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (*model.Account, error) {
	account, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// ユーザー名の変更時のみ、他アカウントとの衝突を確認する。
	if input.Username != nil && *input.Username != account.Username {
		existing, err := s.repo.FindByUsername(ctx, *input.Username)
		if err != nil {
			return nil, fmt.Errorf("ユーザー名の重複確認に失敗しました: %w", err)
		}
		if existing != nil {
			return nil, model.NewUsernameTakenError(*input.Username)
		}
	}

	if input.Username != nil {
		account.Username = *input.Username
	}
	if input.Birthday != nil {
		account.Birthday = input.Birthday
	}

	saved, err := s.repo.Save(ctx, account)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, model.NewUsernameTakenError(account.Username)
		}
		return nil, fmt.Errorf("アカウントの保存に失敗しました: %w", err)
	}

	if err := s.repo.Flush(ctx); err != nil {
		return nil, fmt.Errorf("アカウントの書き込み確定に失敗しました: %w", err)
	}

	slog.Info("account updated",
		slog.Int64("account_id", saved.ID),
		slog.String("username", saved.Username),
	)

	return saved, nil
}
