package auth

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordCost は管理ユーザーのパスワードハッシュに使うbcryptのコスト。
const PasswordCost = 10

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// HashPassword はパスワードのbcryptハッシュを生成する。
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword は平文パスワードとハッシュを定数時間で比較する。
// ハッシュが不正な形式の場合も一致しないものとして扱う。
func VerifyPassword(hash, password string) bool {
	if hash == "" {
		burnCompare(password)
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// burnCompare は存在しないユーザーに対してもbcrypt比較を1回実行する。
// 応答時間からアカウントの存在有無が推測されないようにする。
func burnCompare(password string) {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("cmsgate-dummy-password"), PasswordCost)
		if err == nil {
			dummyHash = h
		}
	})
	if dummyHash == nil {
		return
	}
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}
