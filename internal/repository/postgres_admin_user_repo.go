package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/cmsgate/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反エラーコード。
const uniqueViolation = "23505"

// PostgresAdminUserRepo はPostgreSQLを使用した管理ユーザーリポジトリ。
type PostgresAdminUserRepo struct {
	db *sql.DB
}

// NewPostgresAdminUserRepo はPostgresAdminUserRepoを生成する。
func NewPostgresAdminUserRepo(db *sql.DB) *PostgresAdminUserRepo {
	return &PostgresAdminUserRepo{db: db}
}

// FindByEmail はemailで管理ユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresAdminUserRepo) FindByEmail(ctx context.Context, email string) (*model.Identity, error) {
	ident := &model.Identity{}
	var role sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at, updated_at
		 FROM admin_users
		 WHERE email = $1`,
		model.NormalizeEmail(email),
	).Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &role, &ident.CreatedAt, &ident.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find admin user by email: %w", err)
	}

	if role.Valid {
		ident.Role = model.Role(role.String)
	}
	return ident, nil
}

// Create は管理ユーザーを作成する。
// email一意制約に違反した場合はErrDuplicateEmailを返す。
func (r *PostgresAdminUserRepo) Create(ctx context.Context, identity *model.Identity) error {
	var role sql.NullString
	if identity.Role != model.RoleNone {
		role = sql.NullString{String: string(identity.Role), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO admin_users (id, email, password_hash, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		identity.ID, model.NormalizeEmail(identity.Email), identity.PasswordHash, role,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert admin user: %w", err)
	}
	return nil
}

// Ping はデータベースへの到達性を確認する。
func (r *PostgresAdminUserRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// compile-time interface check
var _ AdminUserRepository = (*PostgresAdminUserRepo)(nil)
