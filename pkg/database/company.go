// pkg/database/company.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"KabuRadar/pkg/model"
)

type CompanyDB struct {
	db *gorm.DB
}

func (d *DB) Company() *CompanyDB {
	return &CompanyDB{db: d.db}
}

func (c *CompanyDB) Create(company *model.Company) error {
	if err := c.db.Create(company).Error; err != nil {
		return fmt.Errorf("创建企业信息失败: %w", err)
	}
	return nil
}

func (c *CompanyDB) GetBySymbol(symbol string) (*model.Company, error) {
	var company model.Company
	err := c.db.First(&company, "symbol = ?", symbol).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取企业信息失败: %w", err)
	}
	return &company, nil
}

func (c *CompanyDB) GetByID(id uint) (*model.Company, error) {
	var company model.Company
	err := c.db.First(&company, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("获取企业信息失败: %w", err)
	}
	return &company, nil
}

func (c *CompanyDB) Search(symbol, name, sector string) ([]*model.Company, error) {
	var companies []*model.Company
	query := c.db.Model(&model.Company{})

	if symbol != "" {
		query = query.Where("symbol LIKE ?", "%"+symbol+"%")
	}
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	if sector != "" {
		query = query.Where("sector LIKE ?", "%"+sector+"%")
	}

	if err := query.Order("symbol ASC").Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("查询企业列表失败: %w", err)
	}
	return companies, nil
}

func (c *CompanyDB) UpdateInfo(id uint, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	err := c.db.Model(&model.Company{}).Where("id = ?", id).Updates(fields).Error
	if err != nil {
		return fmt.Errorf("更新企业信息失败: %w", err)
	}
	return nil
}
