package model

import "time"

// SessionTTL はセッションの有効期間。固定値で設定変更はできない。
const SessionTTL = 24 * time.Hour

// Session はクライアントがCookieで持ち回る、過去に確立した認証の証明。
// サーバー側には保持せず、時間経過のみで失効する。
type Session struct {
	Email               string `json:"email"`
	Role                Role   `json:"role"`
	IssuedAtEpochMillis int64  `json:"timestamp"`
}

// IssuedAt は発行時刻をtime.Timeで返す。
func (s Session) IssuedAt() time.Time {
	return time.UnixMilli(s.IssuedAtEpochMillis)
}

// ValidAt は指定時刻においてセッションが有効期間内かどうかを返す。
// now - issuedAt < SessionTTL の場合のみ有効。
func (s Session) ValidAt(now time.Time) bool {
	return now.UnixMilli()-s.IssuedAtEpochMillis < SessionTTL.Milliseconds()
}

// AccessState はリクエスト単位で評価されるアクセス判定の状態。
type AccessState string

const (
	// StatePublic は公開ルート。認証処理を行わずに許可する。
	StatePublic AccessState = "public"
	// StateUnauthenticated は資格情報が解決できなかった状態。
	StateUnauthenticated AccessState = "unauthenticated"
	// StateAuthenticatedNonAdmin は本人確認はできたが管理者ロールを持たない状態。
	StateAuthenticatedNonAdmin AccessState = "authenticated_non_admin"
	// StateAuthenticatedAdmin は管理者として認可された状態。
	StateAuthenticatedAdmin AccessState = "authenticated_admin"
)

// CredentialCarrier は本人確認に使われた資格情報の運び手を表す。
type CredentialCarrier string

const (
	CarrierNone    CredentialCarrier = ""
	CarrierBasic   CredentialCarrier = "basic"
	CarrierSession CredentialCarrier = "session"
)
