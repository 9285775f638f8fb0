// pkg/model/statistic.go
package model

import (
	"time"
)

// PeriodType 统计周期类型
type PeriodType string

const (
	PeriodMonthly PeriodType = "monthly"
	PeriodYearly  PeriodType = "yearly"
	PeriodAllTime PeriodType = "all_time"
)

// AllTimeValue all_time周期使用的固定周期值
const AllTimeValue = "all"

// PriceStatistic 价格统计，(company_id, period_type, period_value)唯一
// 完全由stock_prices派生，每次聚合整体覆盖
type PriceStatistic struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CompanyID   uint       `gorm:"not null;uniqueIndex:idx_company_period" json:"company_id"`
	PeriodType  PeriodType `gorm:"size:20;not null;uniqueIndex:idx_company_period" json:"period_type"`
	PeriodValue string     `gorm:"size:10;not null;uniqueIndex:idx_company_period" json:"period_value"` // YYYY-MM / YYYY / all
	MinPrice    float64    `json:"min_price"`
	MaxPrice    float64    `json:"max_price"`
	AvgPrice    float64    `json:"avg_price"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (PriceStatistic) TableName() string {
	return "price_statistics"
}
