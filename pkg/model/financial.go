// pkg/model/financial.go
package model

import (
	"time"
)

// FinancialMetrics 财务指标记录，(company_id, report_date)唯一
// 各项指标均为可选字段，缺失的字段不参与冲突比较
type FinancialMetrics struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CompanyID       uint      `gorm:"not null;uniqueIndex:idx_company_report_date" json:"company_id"`
	ReportDate      string    `gorm:"size:10;not null;uniqueIndex:idx_company_report_date" json:"report_date"` // YYYY-MM-DD
	Pbr             *float64  `json:"pbr"`
	Per             *float64  `json:"per"`
	EquityRatio     *float64  `json:"equity_ratio"`
	Roe             *float64  `json:"roe"`
	Roa             *float64  `json:"roa"`
	NetSales        *float64  `json:"net_sales"`
	OperatingProfit *float64  `json:"operating_profit"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (FinancialMetrics) TableName() string {
	return "financial_metrics"
}
