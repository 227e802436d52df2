package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/roster/internal/model"
)

// uniqueViolationCode はPostgreSQLのunique_violationエラーコード。
const uniqueViolationCode = "23505"

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindAll は全アカウントを取得する。順序は保証しない。
func (r *PostgresAccountRepo) FindAll(ctx context.Context) ([]*model.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, name, password, token, status, creation_date, birthday
		 FROM accounts`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*model.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id int64) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, name, password, token, status, creation_date, birthday
		 FROM accounts WHERE id = $1`,
		id,
	)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}

	return account, nil
}

// FindByUsername は指定ユーザー名のアカウントを取得する。見つからない場合はnilを返す。
// ユーザー名は大文字小文字を区別して完全一致で照合する。
func (r *PostgresAccountRepo) FindByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, username, name, password, token, status, creation_date, birthday
		 FROM accounts WHERE username = $1`,
		username,
	)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by username: %w", err)
	}

	return account, nil
}

// Save はアカウントを挿入または上書き保存する。
// IDが未採番（0）の場合はINSERTしてBIGSERIALの採番結果を反映する。
// ユーザー名のUNIQUE制約違反はIsUniqueViolationで判別できるエラーとして返す。
func (r *PostgresAccountRepo) Save(ctx context.Context, account *model.Account) (*model.Account, error) {
	if account.ID == 0 {
		err := r.db.QueryRowContext(ctx,
			`INSERT INTO accounts (username, name, password, token, status, creation_date, birthday)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id`,
			account.Username, account.Name, account.Password, account.Token,
			string(account.Status), account.CreationDate, nullableTime(account.Birthday),
		).Scan(&account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert account: %w", err)
		}
		return account, nil
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET username = $2, name = $3, password = $4, status = $5, birthday = $6
		 WHERE id = $1`,
		account.ID, account.Username, account.Name, account.Password,
		string(account.Status), nullableTime(account.Birthday),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	return account, nil
}

// Flush は書き込み耐久化ポイント。
// 非トランザクション実行ではExec完了時点で耐久化済みのため何もしない。
func (r *PostgresAccountRepo) Flush(ctx context.Context) error {
	return nil
}

// IsUniqueViolation はUNIQUE制約違反によるエラーかどうかを判定する。
// 同時作成レースでユーザー名の事前チェックをすり抜けた場合の最終防衛線として使用する。
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode
}

// rowScanner はsql.Rowとsql.Rowsの共通Scanインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAccount は1行分のアカウントレコードを読み取る。
func scanAccount(row rowScanner) (*model.Account, error) {
	account := &model.Account{}
	var status string
	var birthday sql.NullTime

	err := row.Scan(
		&account.ID, &account.Username, &account.Name, &account.Password,
		&account.Token, &status, &account.CreationDate, &birthday,
	)
	if err != nil {
		return nil, err
	}

	account.Status = model.UserStatus(status)
	if birthday.Valid {
		t := birthday.Time
		account.Birthday = &t
	}

	return account, nil
}

// nullableTime は*time.TimeをNULL許容のバインド値へ変換する。
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
