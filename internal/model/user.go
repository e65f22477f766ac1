// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role は管理ユーザーの権限ロールを表す。
// 空文字列はロール未設定（非管理者）を意味する。
type Role string

const (
	// RoleAdmin は一般管理者。
	RoleAdmin Role = "admin"
	// RoleSuperAdmin は特権管理者。
	RoleSuperAdmin Role = "super_admin"
	// RoleNone はロール未設定を表す。
	RoleNone Role = ""
)

// IsAdmin は管理画面・管理APIへのアクセスが許可されたロールかどうかを返す。
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ParseRole は文字列を管理ロールに変換する。
// admin / super_admin 以外は false を返す。
func ParseRole(s string) (Role, bool) {
	switch Role(strings.TrimSpace(s)) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleSuperAdmin:
		return RoleSuperAdmin, true
	default:
		return RoleNone, false
	}
}

// Identity は管理画面へのアクセスを試みる主体（管理ユーザー）を表す。
// emailで一意に識別される。PasswordHashはゲート内部の照合以外で使用しない。
type Identity struct {
	ID           string
	Email        string
	PasswordHash string `json:"-"`
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsAdmin はIdentityが管理者ロールを保持しているかを返す。
func (i *Identity) IsAdmin() bool {
	return i != nil && i.Role.IsAdmin()
}

// NormalizeEmail はemailを照合用に正規化する（前後空白除去・小文字化）。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
