// Package session は管理セッションCookieのエンコード・デコードを提供する。
//
// Cookie値はセッション {email, role, timestamp} のJSONをbase64化したもの。
// 署名モードではHMAC-SHA256署名を付与し、改ざんされた値はMalformedとして扱う。
// サーバー側にセッションは保持しない。
package session

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/thejerf/abtime"

	"github.com/hitoshi/cmsgate/internal/model"
)

const (
	// CookieName はセッションCookieの名前。
	CookieName = "admin_session"
	// CookieMaxAge はセッションCookieのMax-Age（秒）。
	CookieMaxAge = int(model.SessionTTL / time.Second)

	// maxClockSkew を超えて未来の発行時刻を持つセッションは不正とみなす。
	maxClockSkew = time.Minute

	// maxCookieLength を超える値はデコードせずに拒否する。
	maxCookieLength = 4096

	signatureSeparator = "."
)

// strictEncoding は末尾の余剰ビットが0でない値を拒否する。
// 1文字の改ざんが同じバイト列にデコードされることを防ぐ。
var strictEncoding = base64.RawURLEncoding.Strict()

// ErrEmptyEmail はemailが空のセッションをエンコードしようとした場合のエラー。
var ErrEmptyEmail = errors.New("session email is empty")

// Status はデコード結果の種別。
type Status int

const (
	// StatusMalformed は構造的に不正・署名不一致のCookie。
	StatusMalformed Status = iota
	// StatusExpired は有効期間を過ぎたCookie。
	StatusExpired
	// StatusValid は有効なCookie。
	StatusValid
)

// String はログ・メトリクス用の文字列表現を返す。
func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "malformed"
	}
}

// Result はDecodeの結果。StatusValidの場合のみSessionが意味を持つ。
type Result struct {
	Status  Status
	Session model.Session
}

// Valid はデコード結果が有効なセッションかどうかを返す。
func (r Result) Valid() bool {
	return r.Status == StatusValid
}

// Codec はセッションとCookie値の相互変換を行う。
// 複数のgoroutineから同時に使用してよい。
type Codec struct {
	secret []byte
	clock  abtime.AbstractTime
}

// NewSignedCodec はHMAC-SHA256署名付きCookieを扱うCodecを生成する。
func NewSignedCodec(secret []byte, clock abtime.AbstractTime) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is empty")
	}
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &Codec{secret: key, clock: clock}, nil
}

// NewLegacyCodec は署名なしの base64(JSON) 形式を扱うCodecを生成する。
// 既存クライアントとの互換性のためだけに使用する。
func NewLegacyCodec(clock abtime.AbstractTime) *Codec {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &Codec{clock: clock}
}

// Signed は署名モードかどうかを返す。
func (c *Codec) Signed() bool {
	return len(c.secret) > 0
}

// Now はCodecが参照する現在時刻を返す。
func (c *Codec) Now() time.Time {
	return c.clock.Now()
}

// Issue はIdentityから現在時刻を発行時刻とするセッションを生成する。
func (c *Codec) Issue(ident *model.Identity) model.Session {
	return model.Session{
		Email:               ident.Email,
		Role:                ident.Role,
		IssuedAtEpochMillis: c.clock.Now().UnixMilli(),
	}
}

// Encode はセッションをCookie値に変換する。
func (c *Codec) Encode(s model.Session) (string, error) {
	if strings.TrimSpace(s.Email) == "" {
		return "", ErrEmptyEmail
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	if !c.Signed() {
		return base64.StdEncoding.EncodeToString(payload), nil
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString(c.sign(encoded))
	return encoded + signatureSeparator + sig, nil
}

// Decode はCookie値をセッションに変換し、有効期間を検証する。
// どのような入力に対してもpanicせず、Malformed / Expired / Valid のいずれかを返す。
func (c *Codec) Decode(value string) Result {
	if value == "" || len(value) > maxCookieLength {
		return Result{Status: StatusMalformed}
	}

	payload, ok := c.unwrap(value)
	if !ok {
		return Result{Status: StatusMalformed}
	}

	var s model.Session
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&s); err != nil {
		return Result{Status: StatusMalformed}
	}
	if dec.More() {
		return Result{Status: StatusMalformed}
	}
	if strings.TrimSpace(s.Email) == "" || s.IssuedAtEpochMillis <= 0 {
		return Result{Status: StatusMalformed}
	}

	now := c.clock.Now()
	if s.IssuedAt().After(now.Add(maxClockSkew)) {
		return Result{Status: StatusMalformed}
	}
	if !s.ValidAt(now) {
		return Result{Status: StatusExpired}
	}

	return Result{Status: StatusValid, Session: s}
}

// unwrap はCookie値からJSONペイロードを取り出す。署名モードでは署名を検証する。
func (c *Codec) unwrap(value string) ([]byte, bool) {
	if !c.Signed() {
		payload, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, false
		}
		return payload, true
	}

	encoded, sigPart, found := strings.Cut(value, signatureSeparator)
	if !found || encoded == "" || sigPart == "" {
		return nil, false
	}

	sig, err := strictEncoding.DecodeString(sigPart)
	if err != nil {
		return nil, false
	}
	if !hmac.Equal(sig, c.sign(encoded)) {
		return nil, false
	}

	payload, err := strictEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	return payload, true
}

// sign はCookie名とペイロードを結合した値のHMACを返す。
// Cookie名を含めることで、別用途の署名値を流用できないようにする。
func (c *Codec) sign(encoded string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(CookieName))
	mac.Write([]byte{0})
	mac.Write([]byte(encoded))
	return mac.Sum(nil)
}
