// pkg/database/statistic.go
package database

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"KabuRadar/pkg/model"
)

type StatisticDB struct {
	db *gorm.DB
}

func (d *DB) Statistic() *StatisticDB {
	return &StatisticDB{db: d.db}
}

// Replace 按自然键整体覆盖统计行（不存在则插入）
func (s *StatisticDB) Replace(stat *model.PriceStatistic) error {
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "company_id"}, {Name: "period_type"}, {Name: "period_value"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"min_price", "max_price", "avg_price", "updated_at",
		}),
	}).Create(stat).Error
	if err != nil {
		return fmt.Errorf("保存价格统计失败: %w", err)
	}
	return nil
}

func (s *StatisticDB) Get(companyID uint, periodType model.PeriodType) ([]*model.PriceStatistic, error) {
	var stats []*model.PriceStatistic
	query := s.db.Where("company_id = ?", companyID)

	if periodType != "" {
		query = query.Where("period_type = ?", periodType)
	}

	if err := query.Order("period_value DESC").Find(&stats).Error; err != nil {
		return nil, fmt.Errorf("查询价格统计失败: %w", err)
	}
	return stats, nil
}
