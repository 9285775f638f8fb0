// pkg/database/price.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"KabuRadar/pkg/model"
)

type PriceDB struct {
	db *gorm.DB
}

func (d *DB) Price() *PriceDB {
	return &PriceDB{db: d.db}
}

func (p *PriceDB) GetLatest(companyID uint) (*model.StockPrice, error) {
	var price model.StockPrice
	err := p.db.Where("company_id = ?", companyID).
		Order("price_date DESC").
		First(&price).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取最新股价失败: %w", err)
	}
	return &price, nil
}

func (p *PriceDB) GetHistory(companyID uint, limit int) ([]*model.StockPrice, error) {
	var prices []*model.StockPrice
	err := p.db.Where("company_id = ?", companyID).
		Order("price_date DESC").
		Limit(limit).
		Find(&prices).Error
	if err != nil {
		return nil, fmt.Errorf("查询股价历史失败: %w", err)
	}
	return prices, nil
}

func (p *PriceDB) GetByPeriod(companyID uint, periodType model.PeriodType, periodValue string) ([]*model.StockPrice, error) {
	var prices []*model.StockPrice
	query := p.db.Where("company_id = ?", companyID)

	switch periodType {
	case model.PeriodMonthly, model.PeriodYearly:
		query = query.Where("price_date LIKE ?", periodValue+"%")
	case model.PeriodAllTime:
		// 不加日期过滤
	default:
		return nil, fmt.Errorf("未知的统计周期类型: %s", periodType)
	}

	if err := query.Order("price_date ASC").Find(&prices).Error; err != nil {
		return nil, fmt.Errorf("查询周期内股价失败: %w", err)
	}
	return prices, nil
}
