// pkg/model/token.go
package model

import (
	"time"
)

// TokenStatus 刷新令牌的有效期状态
type TokenStatus string

const (
	TokenStatusNotFound     TokenStatus = "not_found"
	TokenStatusExpired      TokenStatus = "expired"
	TokenStatusExpiringSoon TokenStatus = "expiring_soon" // 剩余不足24小时
	TokenStatusWarning      TokenStatus = "warning"       // 剩余不足2天
	TokenStatusValid        TokenStatus = "valid"
)

// TokenRecord J-Quants刷新令牌记录
// 同一user_identifier同时最多只有一条is_active记录，
// 保存新令牌时旧记录被置为无效而不是删除
type TokenRecord struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserIdentifier string     `gorm:"size:100;not null;index" json:"user_identifier"`
	RefreshToken   string     `gorm:"type:text;not null" json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `gorm:"not null" json:"expires_at"`
	LastUsedAt     *time.Time `json:"last_used_at"`
	IsActive       bool       `gorm:"default:true;index" json:"is_active"`
	PlanType       string     `gorm:"size:20;default:'Standard'" json:"plan_type"`
}

func (TokenRecord) TableName() string {
	return "jquants_tokens"
}

// ExpiryInfo 令牌有效期检查结果
type ExpiryInfo struct {
	Valid          bool        `json:"valid"`
	Status         TokenStatus `json:"status"`
	Message        string      `json:"message"`
	DaysRemaining  int         `json:"days_remaining"`
	HoursRemaining int         `json:"hours_remaining,omitempty"`
}
