// pkg/model/company.go
package model

import (
	"time"
)

// Company 企业信息
type Company struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Symbol    string    `gorm:"size:10;uniqueIndex;not null" json:"symbol"` // 4位数字证券代码
	Name      string    `gorm:"not null" json:"name"`
	Sector    string    `json:"sector"`
	Market    string    `json:"market"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Company) TableName() string {
	return "companies"
}
