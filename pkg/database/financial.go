// pkg/database/financial.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"KabuRadar/pkg/model"
)

type FinancialDB struct {
	db *gorm.DB
}

func (d *DB) Financial() *FinancialDB {
	return &FinancialDB{db: d.db}
}

func (f *FinancialDB) GetLatest(companyID uint) (*model.FinancialMetrics, error) {
	var metrics model.FinancialMetrics
	err := f.db.Where("company_id = ?", companyID).
		Order("report_date DESC").
		First(&metrics).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取最新财务指标失败: %w", err)
	}
	return &metrics, nil
}
