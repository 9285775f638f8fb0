// pkg/database/generic.go
package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"KabuRadar/pkg/reconcile"
)

// GetByKey 按自然键取单行，不存在时返回(nil, nil)
func (d *DB) GetByKey(table string, key reconcile.Row) (reconcile.Row, error) {
	var row map[string]interface{}
	err := d.db.Table(table).Where(map[string]interface{}(key)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	return reconcile.Row(row), nil
}

// Insert 插入整行并返回新记录ID
func (d *DB) Insert(table string, fields reconcile.Row) (int64, error) {
	values := map[string]interface{}{
		"created_at": time.Now(),
		"updated_at": time.Now(),
	}
	for k, v := range fields {
		values[k] = v
	}

	if err := d.db.Table(table).Create(&values).Error; err != nil {
		return 0, fmt.Errorf("插入 %s 失败: %w", table, err)
	}

	// map插入不回填主键，按自然键回查取ID
	if id, ok := values["id"]; ok {
		return asInt64(id), nil
	}
	key := reconcile.Row{}
	for k, v := range fields {
		key[k] = v
	}
	row, err := d.GetByKey(table, key)
	if err != nil || row == nil {
		return 0, nil
	}
	return asInt64(row["id"]), nil
}

// UpdateByKey 按自然键更新指定字段，返回受影响行数
func (d *DB) UpdateByKey(table string, key reconcile.Row, fields reconcile.Row) (int64, error) {
	values := map[string]interface{}{"updated_at": time.Now()}
	for k, v := range fields {
		values[k] = v
	}

	result := d.db.Table(table).Where(map[string]interface{}(key)).Updates(values)
	if result.Error != nil {
		return 0, fmt.Errorf("更新 %s 失败: %w", table, result.Error)
	}
	return result.RowsAffected, nil
}

func asInt64(v interface{}) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case int32:
		return int64(value)
	case uint:
		return int64(value)
	case uint64:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
