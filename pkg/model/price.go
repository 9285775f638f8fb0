// pkg/model/price.go
package model

import (
	"time"
)

// StockPrice 每日股价记录，(company_id, price_date)唯一
type StockPrice struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CompanyID uint      `gorm:"not null;uniqueIndex:idx_company_price_date" json:"company_id"`
	PriceDate string    `gorm:"size:10;not null;uniqueIndex:idx_company_price_date" json:"price_date"` // YYYY-MM-DD
	Price     float64   `gorm:"not null" json:"price"`
	Volume    int64     `gorm:"default:0" json:"volume"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StockPrice) TableName() string {
	return "stock_prices"
}
