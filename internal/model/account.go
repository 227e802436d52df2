// Package model はドメインモデルを定義する。
package model

import "time"

// Account はサービス利用者のアカウントを表す。
// IDとTokenは作成時に確定し、以後変更されない。
type Account struct {
	ID           int64
	Username     string
	Name         string
	Password     string
	Token        string
	Status       UserStatus
	CreationDate time.Time
	Birthday     *time.Time
}

// UserStatus はアカウントのプレゼンス状態を表す。
type UserStatus string

const (
	// StatusOnline はオンライン状態。作成時とログイン時に設定される。
	StatusOnline UserStatus = "ONLINE"
	// StatusOffline はオフライン状態。ログアウト時に設定される。
	StatusOffline UserStatus = "OFFLINE"
)
