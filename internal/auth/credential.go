package auth

import (
	"encoding/json"
	"time"
)

// Credential 当前会话持有的令牌对；对外只暴露 Bearer 值
type Credential struct {
	access        string
	refresh       string
	accessExpiry  time.Time
	refreshExpiry time.Time
}

// NewCredential 由已知令牌构造凭证（用于外部签发的令牌）
func NewCredential(access, refresh string, accessExpiry, refreshExpiry time.Time) Credential {
	return Credential{
		access:        access,
		refresh:       refresh,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// Bearer 访问令牌（附加在所有出站请求上）
func (c Credential) Bearer() string { return c.access }

// AccessExpiry 访问令牌过期时间
func (c Credential) AccessExpiry() time.Time { return c.accessExpiry }

// IsZero 是否为空凭证
func (c Credential) IsZero() bool { return c.access == "" }

func (c Credential) accessValid(now time.Time) bool {
	return c.access != "" && now.Before(c.accessExpiry)
}

// storedToken 持久化到密钥库的令牌值
type storedToken struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expiresAt"` // Unix 毫秒
}

func (t storedToken) valid(now time.Time) bool {
	return t.Value != "" && now.Before(time.UnixMilli(t.ExpiresAt))
}

func (t storedToken) encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStoredToken(raw string) (storedToken, error) {
	var t storedToken
	err := json.Unmarshal([]byte(raw), &t)
	return t, err
}
