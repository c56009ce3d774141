package database

import "time"

// TokenRecord 缓存的 OAuth 令牌，存入数据库时序列化为 JSON
// 以 tenant/client/模式 组合为 Key，避免不同应用注册之间串用
type TokenRecord struct {
	Key          string    `json:"key"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ExpiresWithin 是否会在 d 之内过期；Expiry 为零值表示不过期
func (r *TokenRecord) ExpiresWithin(d time.Duration) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(d).After(r.Expiry)
}
