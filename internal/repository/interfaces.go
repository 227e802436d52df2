// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/roster/internal/model"
)

// AccountRepository はアカウントデータの永続化インターフェース。
// アカウントの唯一の権威ストアへの読み書きをすべて仲介する。
type AccountRepository interface {
	// FindAll は全アカウントを取得する。順序は保証しない。
	FindAll(ctx context.Context) ([]*model.Account, error)

	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.Account, error)

	// FindByUsername は指定ユーザー名のアカウントを取得する。見つからない場合はnilを返す。
	FindByUsername(ctx context.Context, username string) (*model.Account, error)

	// Save はアカウントを挿入または上書き保存する。
	// IDが未採番（0）の場合はストアがIDを採番し、採番済みのアカウントを返す。
	Save(ctx context.Context, account *model.Account) (*model.Account, error)

	// Flush は呼び出し元へ戻る前の書き込み耐久化ポイント。
	// 書き込みを即時耐久化するストアでは何もしない。
	Flush(ctx context.Context) error
}
