// pkg/token/manager.go
package token

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"KabuRadar/pkg/database"
	"KabuRadar/pkg/model"
)

const (
	// TokenLifetime J-Quants刷新令牌固定7天有效
	TokenLifetime = 7 * 24 * time.Hour

	// inactiveRetention 失效记录保留30天后清理
	inactiveRetention = 30 * 24 * time.Hour
)

// Manager 刷新令牌生命周期管理
type Manager struct {
	store database.TokenStore

	// now 可注入，测试时固定时钟
	now func() time.Time
}

// NewManager 创建令牌管理器
func NewManager(store database.TokenStore) *Manager {
	return &Manager{
		store: store,
		now:   time.Now,
	}
}

// Save 保存新刷新令牌，旧令牌同事务内失效
func (m *Manager) Save(userIdentifier, refreshToken, planType string) (*model.TokenRecord, error) {
	if userIdentifier == "" {
		return nil, fmt.Errorf("用户标识不能为空")
	}
	if refreshToken == "" {
		return nil, fmt.Errorf("刷新令牌不能为空")
	}
	if planType == "" {
		planType = "Standard"
	}

	now := m.now()
	rec := &model.TokenRecord{
		UserIdentifier: userIdentifier,
		RefreshToken:   refreshToken,
		CreatedAt:      now,
		ExpiresAt:      now.Add(TokenLifetime),
		LastUsedAt:     &now,
		IsActive:       true,
		PlanType:       planType,
	}
	if err := m.store.Supersede(rec); err != nil {
		return nil, err
	}
	log.Printf("刷新令牌已保存: user=%s expires_at=%s", userIdentifier, rec.ExpiresAt.Format(time.RFC3339))
	return rec, nil
}

// GetActive 取当前有效的刷新令牌并更新使用时间
// 无有效令牌时返回database.ErrRecordNotFound
func (m *Manager) GetActive(userIdentifier string) (*model.TokenRecord, error) {
	rec, err := m.store.GetActive(userIdentifier, m.now())
	if err != nil {
		return nil, err
	}
	if err := m.store.TouchLastUsed(rec.ID, m.now()); err != nil {
		// 使用时间更新失败不影响令牌返回
		log.Printf("更新令牌使用时间失败: %v", err)
	}
	return rec, nil
}

// CheckExpiry 检查最新令牌的有效期状态，不修改任何记录
func (m *Manager) CheckExpiry(userIdentifier string) *model.ExpiryInfo {
	rec, err := m.store.GetNewestActive(userIdentifier)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return &model.ExpiryInfo{
				Valid:   false,
				Status:  model.TokenStatusNotFound,
				Message: "未登记刷新令牌",
			}
		}
		return &model.ExpiryInfo{
			Valid:   false,
			Status:  model.TokenStatusNotFound,
			Message: fmt.Sprintf("查询令牌失败: %v", err),
		}
	}

	remaining := rec.ExpiresAt.Sub(m.now())
	days := int(math.Floor(remaining.Hours() / 24))
	hours := int(math.Floor(remaining.Hours()))

	switch {
	case remaining <= 0:
		return &model.ExpiryInfo{
			Valid:   false,
			Status:  model.TokenStatusExpired,
			Message: "刷新令牌已过期，请重新登记",
		}
	case remaining <= 24*time.Hour:
		return &model.ExpiryInfo{
			Valid:          true,
			Status:         model.TokenStatusExpiringSoon,
			Message:        fmt.Sprintf("刷新令牌将在%d小时内过期", hours+1),
			DaysRemaining:  days,
			HoursRemaining: hours,
		}
	case remaining <= 2*24*time.Hour:
		return &model.ExpiryInfo{
			Valid:          true,
			Status:         model.TokenStatusWarning,
			Message:        fmt.Sprintf("刷新令牌剩余%d天有效期", days),
			DaysRemaining:  days,
			HoursRemaining: hours,
		}
	default:
		return &model.ExpiryInfo{
			Valid:          true,
			Status:         model.TokenStatusValid,
			Message:        fmt.Sprintf("刷新令牌有效，剩余%d天", days),
			DaysRemaining:  days,
			HoursRemaining: hours,
		}
	}
}

// NewestActive 取最新有效记录用于状态展示，不更新使用时间
func (m *Manager) NewestActive(userIdentifier string) (*model.TokenRecord, error) {
	return m.store.GetNewestActive(userIdentifier)
}

// Invalidate 使指定用户的全部有效令牌失效，幂等
func (m *Manager) Invalidate(userIdentifier string) (int64, error) {
	affected, err := m.store.Deactivate(userIdentifier)
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		log.Printf("刷新令牌已失效: user=%s count=%d", userIdentifier, affected)
	}
	return affected, nil
}

// Cleanup 清理失效超过保留期的令牌记录，返回删除条数
func (m *Manager) Cleanup() (int64, error) {
	before := m.now().Add(-inactiveRetention)
	purged, err := m.store.PurgeInactive(before)
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		log.Printf("过期令牌清理完成: 删除%d条", purged)
	}
	return purged, nil
}
