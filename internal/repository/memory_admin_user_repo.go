package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/cmsgate/internal/model"
)

// MemoryAdminUserRepo はプロセス内メモリに管理ユーザーを保持するリポジトリ。
// 開発環境とテストで使用する。再起動でデータは失われる。
type MemoryAdminUserRepo struct {
	mu    sync.RWMutex
	users map[string]model.Identity
}

// NewMemoryAdminUserRepo はMemoryAdminUserRepoを生成する。
func NewMemoryAdminUserRepo() *MemoryAdminUserRepo {
	return &MemoryAdminUserRepo{
		users: make(map[string]model.Identity),
	}
}

// FindByEmail はemailで管理ユーザーを検索する。見つからない場合はnilを返す。
// 呼び出し側が結果を変更してもストアには影響しない。
func (r *MemoryAdminUserRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	ident, ok := r.users[model.NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return &ident, nil
}

// Create は管理ユーザーを作成する。
func (r *MemoryAdminUserRepo) Create(ctx context.Context, identity *model.Identity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := model.NormalizeEmail(identity.Email)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.users[key]; exists {
		return ErrDuplicateEmail
	}

	stored := *identity
	stored.Email = key
	r.users[key] = stored
	return nil
}

// Ping は常に成功する。
func (r *MemoryAdminUserRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

// compile-time interface check
var _ AdminUserRepository = (*MemoryAdminUserRepo)(nil)
