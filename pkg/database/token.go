// pkg/database/token.go
package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"KabuRadar/pkg/model"
)

type TokenDB struct {
	db *gorm.DB
}

func (d *DB) Token() *TokenDB {
	return &TokenDB{db: d.db}
}

// Supersede 保存新令牌并使旧令牌失效
// 两步在同一事务内完成，保证同一标识最多一条有效记录
func (t *TokenDB) Supersede(rec *model.TokenRecord) error {
	err := t.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.TokenRecord{}).
			Where("user_identifier = ? AND is_active = ?", rec.UserIdentifier, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		return fmt.Errorf("保存刷新令牌失败: %w", err)
	}
	return nil
}

func (t *TokenDB) GetActive(userIdentifier string, now time.Time) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	err := t.db.Where("user_identifier = ? AND is_active = ? AND expires_at > ?",
		userIdentifier, true, now).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取刷新令牌失败: %w", err)
	}
	return &rec, nil
}

func (t *TokenDB) GetNewestActive(userIdentifier string) (*model.TokenRecord, error) {
	var rec model.TokenRecord
	err := t.db.Where("user_identifier = ? AND is_active = ?", userIdentifier, true).
		Order("created_at DESC").
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取刷新令牌失败: %w", err)
	}
	return &rec, nil
}

func (t *TokenDB) TouchLastUsed(id uint, now time.Time) error {
	err := t.db.Model(&model.TokenRecord{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error
	if err != nil {
		return fmt.Errorf("更新令牌使用时间失败: %w", err)
	}
	return nil
}

func (t *TokenDB) Deactivate(userIdentifier string) (int64, error) {
	result := t.db.Model(&model.TokenRecord{}).
		Where("user_identifier = ? AND is_active = ?", userIdentifier, true).
		Update("is_active", false)
	if result.Error != nil {
		return 0, fmt.Errorf("使令牌失效失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (t *TokenDB) PurgeInactive(before time.Time) (int64, error) {
	result := t.db.Where("is_active = ? AND expires_at < ?", false, before).
		Delete(&model.TokenRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理过期令牌失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}
