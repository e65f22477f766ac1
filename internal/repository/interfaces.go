// Package repository はデータ永続化のインターフェースと実装を提供する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/cmsgate/internal/model"
)

// ErrDuplicateEmail は同一emailの管理ユーザーが既に存在する場合のエラー。
var ErrDuplicateEmail = errors.New("admin user with this email already exists")

// AdminUserRepository は管理ユーザー（Identity）の永続化インターフェース。
// 起動時に設定で選択された1つの実装だけが使われる。
type AdminUserRepository interface {
	// FindByEmail はemailで管理ユーザーを検索する。見つからない場合はnilを返す。
	// emailは大文字小文字を区別せずに照合する。
	FindByEmail(ctx context.Context, email string) (*model.Identity, error)

	// Create は管理ユーザーを作成する。
	// 同一emailが存在する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// Ping はストアへの到達性を確認する。
	Ping(ctx context.Context) error
}
