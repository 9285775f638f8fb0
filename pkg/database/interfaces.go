// pkg/database/interfaces.go
package database

import (
	"time"

	"KabuRadar/pkg/model"
)

// CompanyStore 企业信息存取能力
type CompanyStore interface {
	Create(company *model.Company) error
	GetBySymbol(symbol string) (*model.Company, error)
	GetByID(id uint) (*model.Company, error)
	Search(symbol, name, sector string) ([]*model.Company, error)
	UpdateInfo(id uint, fields map[string]interface{}) error
}

// PriceStore 股价记录存取能力
type PriceStore interface {
	GetLatest(companyID uint) (*model.StockPrice, error)
	GetHistory(companyID uint, limit int) ([]*model.StockPrice, error)
	// GetByPeriod 取周期内全部记录，periodValue为YYYY-MM/YYYY/all
	GetByPeriod(companyID uint, periodType model.PeriodType, periodValue string) ([]*model.StockPrice, error)
}

// FinancialStore 财务指标存取能力
type FinancialStore interface {
	GetLatest(companyID uint) (*model.FinancialMetrics, error)
}

// StatisticStore 价格统计存取能力
type StatisticStore interface {
	// Replace 按自然键整体覆盖统计行
	Replace(stat *model.PriceStatistic) error
	Get(companyID uint, periodType model.PeriodType) ([]*model.PriceStatistic, error)
}

// TokenStore 刷新令牌存取能力
type TokenStore interface {
	// Supersede 在同一事务内使旧记录失效并插入新记录
	Supersede(rec *model.TokenRecord) error
	// GetActive 取有效且未过期的记录，不存在时返回ErrRecordNotFound
	GetActive(userIdentifier string, now time.Time) (*model.TokenRecord, error)
	// GetNewestActive 取最新有效记录，即使已过期（供期限分类使用）
	GetNewestActive(userIdentifier string) (*model.TokenRecord, error)
	TouchLastUsed(id uint, now time.Time) error
	Deactivate(userIdentifier string) (int64, error)
	// PurgeInactive 删除已失效且过期时间早于before的记录
	PurgeInactive(before time.Time) (int64, error)
}
