// internal/token/token.go
package token

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	zlog "github.com/rs/zerolog/log"
)

const (
	// DefaultTTLSeconds 는 Create 에 ttl 이 주어지지 않았을 때의 수명.
	DefaultTTLSeconds = 3600

	// DefaultRole 은 roles 가 비어 있을 때 부여되는 역할.
	DefaultRole = "USER"
)

// tokenError
//
// 토큰 관련 실패는 모두 401 로 매핑된다.
// httperr.StatusOf 가 HTTPStatusCode() 를 통해 상태 코드를 읽어 간다.
type tokenError string

func (e tokenError) Error() string { return string(e) }

func (tokenError) HTTPStatusCode() int { return http.StatusUnauthorized }

const (
	// ErrInvalidToken: 서명 검증 실패, 복호화 실패, payload 없음.
	ErrInvalidToken tokenError = "token: invalid"

	// ErrExpiredToken: 서명은 유효하지만 now >= exp.
	ErrExpiredToken tokenError = "token: expired"
)

// Claims
//
// 토큰에 실리는 claim 집합.
// iat / exp 는 epoch millisecond 단위다 (JWT 표준인 second 가 아님).
// 그래서 jwt 라이브러리의 표준 claim 검증은 끄고 만료 검사는 Validate 가 직접 한다.
type Claims struct {
	Issuer    string   `json:"iss"`
	Subject   string   `json:"sub"`
	IssuedAt  int64    `json:"iat"`
	ExpiresAt int64    `json:"exp"`
	Roles     []string `json:"roles"`
	User      any      `json:"user,omitempty"`
	Proxy     any      `json:"proxy,omitempty"`
}

// HasRole 은 대소문자를 구분해서 role 보유 여부를 확인한다.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Lifespan 은 원래 발급 시 주어진 수명(exp - iat)이다.
func (c *Claims) Lifespan() time.Duration {
	return time.Duration(c.ExpiresAt-c.IssuedAt) * time.Millisecond
}

// jwt.Claims 구현. ParseWithClaims 가 요구하므로 제공만 하고,
// 실제 검증은 WithoutClaimsValidation 으로 꺼 둔다.
func (c *Claims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.UnixMilli(c.ExpiresAt)), nil
}
func (c *Claims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.UnixMilli(c.IssuedAt)), nil
}
func (c *Claims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *Claims) GetIssuer() (string, error)              { return c.Issuer, nil }
func (c *Claims) GetSubject() (string, error)             { return c.Subject, nil }
func (c *Claims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Manager
//
// 토큰 생성 / 파싱 / 검증 / 갱신을 담당한다.
// 서명 키는 발급자(이 프로세스)만 가지고 있으며 load 이후 변경되지 않는다.
// 토큰은 서버에 저장하지 않는다.
type Manager struct {
	signingKey    []byte
	encryptionKey []byte // nil 이면 암호화하지 않음 (A256GCM direct, 32 bytes)
	issuer        string
	now           func() time.Time
}

// Option 은 Manager 생성 옵션.
type Option func(*Manager)

// WithEncryptionKey 는 서명된 토큰을 JWE(dir + A256GCM)로 한 번 더 감싼다.
func WithEncryptionKey(key []byte) Option {
	return func(m *Manager) { m.encryptionKey = key }
}

// WithClock 은 테스트용 시계를 주입한다.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 는 서명 키와 issuer 로 Manager 를 만든다.
func NewManager(signingKey, issuer string, opts ...Option) (*Manager, error) {
	if signingKey == "" {
		return nil, fmt.Errorf("token: signing key is required")
	}
	m := &Manager{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.encryptionKey != nil && len(m.encryptionKey) != 32 {
		return nil, fmt.Errorf("token: encryption key must be 32 bytes, got %d", len(m.encryptionKey))
	}
	return m, nil
}

// DecodeHexKey 는 TOKEN_ENCRYPTION_KEY 같은 hex 문자열 키를 바이트로 바꾼다.
func DecodeHexKey(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("token: decode hex key: %w", err)
	}
	return b, nil
}

// Create
//
// principal 을 subject 로 하는 새 토큰을 발급한다.
//   - roles 가 비어 있으면 ["USER"]
//   - ttlSeconds <= 0 이면 3600
//   - iat = now, exp = now + ttlSeconds*1000 (ms)
func (m *Manager) Create(principal string, user any, roles []string, ttlSeconds int, proxy any) (string, error) {
	if len(roles) == 0 {
		roles = []string{DefaultRole}
	}
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultTTLSeconds
	}

	now := m.now().UnixMilli()
	c := &Claims{
		Issuer:    m.issuer,
		Subject:   principal,
		IssuedAt:  now,
		ExpiresAt: now + int64(ttlSeconds)*1000,
		Roles:     append([]string(nil), roles...),
		User:      user,
		Proxy:     proxy,
	}

	zlog.Debug().Str("sub", principal).Int("ttl_seconds", ttlSeconds).Msg("creating token")
	return m.sign(c)
}

// Parse
//
// 서명(및 암호화)만 검증하고 claim 을 돌려준다. 만료는 보지 않는다.
// 어떤 이유로든 검증에 실패하면 ErrInvalidToken 을 감싼 에러.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	signed := tokenString
	if m.encryptionKey != nil {
		plain, err := m.decrypt(tokenString)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		signed = plain
	}

	c := &Claims{}
	tok, err := jwt.ParseWithClaims(signed, c, func(*jwt.Token) (any, error) {
		return m.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || (c.Subject == "" && c.ExpiresAt == 0) {
		return nil, fmt.Errorf("%w: no payload", ErrInvalidToken)
	}
	return c, nil
}

// Validate 는 현재 시각 기준으로 ValidateAt 을 호출한다.
func (m *Manager) Validate(tokenString string) (*Claims, error) {
	return m.ValidateAt(tokenString, m.now())
}

// ValidateAt
//
// Parse 후 now >= exp 이면 ErrExpiredToken.
// claim 의미(role 등) 검사는 하지 않는다. 그건 인가 레이어의 몫이다.
func (m *Manager) ValidateAt(tokenString string, now time.Time) (*Claims, error) {
	c, err := m.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	nowMs := now.UnixMilli()
	if nowMs >= c.ExpiresAt {
		return nil, fmt.Errorf("%w: expired at %d, %d ms ago", ErrExpiredToken, c.ExpiresAt, nowMs-c.ExpiresAt)
	}
	return c, nil
}

// Refresh
//
// 유효한 토큰으로부터 새 토큰을 만든다. 원본 토큰은 변경되지 않는다.
//   - newTTLSeconds > 0 이면 그 값, 아니면 원래 수명(exp - iat)
//   - iat = now, exp = now + 수명
//   - subject, roles, user, proxy, issuer 는 그대로 유지
func (m *Manager) Refresh(tokenString string, newTTLSeconds int) (string, error) {
	now := m.now()
	c, err := m.ValidateAt(tokenString, now)
	if err != nil {
		return "", err
	}

	lifespan := c.ExpiresAt - c.IssuedAt
	if newTTLSeconds > 0 {
		lifespan = int64(newTTLSeconds) * 1000
	}

	next := *c
	next.Roles = append([]string(nil), c.Roles...)
	next.IssuedAt = now.UnixMilli()
	next.ExpiresAt = next.IssuedAt + lifespan

	zlog.Debug().Str("sub", c.Subject).Int64("lifespan_ms", lifespan).Msg("refreshing token")
	return m.sign(&next)
}

func (m *Manager) sign(c *Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	if m.encryptionKey == nil {
		return signed, nil
	}
	return m.encrypt(signed)
}

func (m *Manager) encrypt(signed string) (string, error) {
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: m.encryptionKey},
		(&jose.EncrypterOptions{}).WithContentType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("token: encrypter: %w", err)
	}
	obj, err := enc.Encrypt([]byte(signed))
	if err != nil {
		return "", fmt.Errorf("token: encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

func (m *Manager) decrypt(s string) (string, error) {
	obj, err := jose.ParseEncrypted(s, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return "", err
	}
	plain, err := obj.Decrypt(m.encryptionKey)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
