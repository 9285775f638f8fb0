// pkg/model/observation.go
package model

import (
	"time"
)

// StockObservation 外部数据源返回的单次行情观测
// 价格三要素(symbol/price/price_date)必填，财务指标为可选子集
type StockObservation struct {
	Symbol          string    `json:"symbol"`
	CompanyName     string    `json:"company_name"`
	Sector          string    `json:"sector"`
	Market          string    `json:"market"`
	Price           float64   `json:"price"`
	Volume          int64     `json:"volume"`
	PriceDate       string    `json:"price_date"` // YYYY-MM-DD
	Currency        string    `json:"currency"`
	Pbr             *float64  `json:"pbr,omitempty"`
	Per             *float64  `json:"per,omitempty"`
	EquityRatio     *float64  `json:"equity_ratio,omitempty"`
	Roe             *float64  `json:"roe,omitempty"`
	Roa             *float64  `json:"roa,omitempty"`
	NetSales        *float64  `json:"net_sales,omitempty"`
	OperatingProfit *float64  `json:"operating_profit,omitempty"`
	DataSource      string    `json:"data_source"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// HasFinancials 是否携带任何可入库的财务指标
func (o *StockObservation) HasFinancials() bool {
	return o.Pbr != nil || o.Per != nil || o.EquityRatio != nil ||
		o.Roe != nil || o.Roa != nil || o.NetSales != nil || o.OperatingProfit != nil
}
