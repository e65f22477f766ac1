// Package user は管理ユーザーのプロビジョニングを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/cmsgate/internal/auth"
	"github.com/hitoshi/cmsgate/internal/model"
	"github.com/hitoshi/cmsgate/internal/repository"
)

// MinPasswordLength は管理ユーザーのパスワードの最小文字数。
const MinPasswordLength = 8

var (
	// ErrInvalidEmail はメールアドレスの形式が不正な場合のエラー。
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword はパスワードが短すぎる場合のエラー。
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	// ErrInvalidRole は管理者ロール以外が指定された場合のエラー。
	ErrInvalidRole = errors.New("role must be admin or super_admin")
)

// AdminCreator は管理ユーザーの作成インターフェース。
type AdminCreator interface {
	Create(ctx context.Context, identity *model.Identity) error
}

// Service は管理ユーザーのサービス層。
type Service struct {
	repo AdminCreator
	now  func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo AdminCreator) *Service {
	return &Service{
		repo: repo,
		now:  time.Now,
	}
}

// CreateAdmin は管理ユーザーを作成する。
// パスワードはbcryptでハッシュ化して保存する。
// 同一emailが存在する場合はrepository.ErrDuplicateEmailをラップして返す。
func (s *Service) CreateAdmin(ctx context.Context, email, password, role string) (*model.Identity, error) {
	email = model.NormalizeEmail(email)
	// 表示名付きや山括弧の形式は受け付けず、アドレスそのものだけを許可する
	addr, err := mail.ParseAddress(email)
	if err != nil || email == "" || addr.Name != "" || addr.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	parsedRole, ok := model.ParseRole(role)
	if !ok {
		return nil, ErrInvalidRole
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}

	now := s.now().UTC()
	ident := &model.Identity{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Role:         parsedRole,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.Create(ctx, ident); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("管理ユーザーの作成に失敗しました: %w", err)
	}

	slog.Info("admin user created",
		slog.String("admin_email", ident.Email),
		slog.String("role", string(ident.Role)),
	)

	ident.PasswordHash = ""
	return ident, nil
}
