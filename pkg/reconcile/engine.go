// pkg/reconcile/engine.go
package reconcile

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrNotFound 强制更新时目标记录不存在
var ErrNotFound = errors.New("目标记录不存在")

// Row 以列名为键的记录视图
type Row map[string]interface{}

// Store 记录存储能力，按自然键读写单行
// 核心逻辑不直接写SQL，跨实体组装也不依赖join
type Store interface {
	GetByKey(table string, key Row) (Row, error)
	Insert(table string, fields Row) (int64, error)
	UpdateByKey(table string, key Row, fields Row) (int64, error)
}

// Status 对账结果状态
type Status string

const (
	StatusCreated   Status = "created"
	StatusUnchanged Status = "unchanged"
	StatusConflict  Status = "conflict"
)

// Descriptor 一种记录类型的对账描述
// 同一算法参数化作用于所有记录类型，代替继承层次
type Descriptor struct {
	Table         string
	UniqueFields  []string
	CompareFields []string
	// 数值比较的允许误差，差值大于该值才视为不同
	Tolerance float64
	// 要求精确相等的数值字段（不适用Tolerance）
	ExactFields []string
}

// PriceDescriptor 股价记录：价格误差0.01，成交量精确比较
// 两套阈值的差异沿袭既有口径，保留为独立常量而不统一
var PriceDescriptor = Descriptor{
	Table:         "stock_prices",
	UniqueFields:  []string{"company_id", "price_date"},
	CompareFields: []string{"price", "volume"},
	Tolerance:     0.01,
	ExactFields:   []string{"volume"},
}

// FinancialDescriptor 财务指标记录：比率类误差0.0001
var FinancialDescriptor = Descriptor{
	Table:        "financial_metrics",
	UniqueFields: []string{"company_id", "report_date"},
	CompareFields: []string{
		"pbr", "per", "equity_ratio", "roe", "roa", "net_sales", "operating_profit",
	},
	Tolerance: 0.0001,
}

// Result 对账结果
type Result struct {
	ID           int64
	Status       Status
	Message      string
	ExistingData Row
	NewData      Row
}

// Engine 冲突感知的对账引擎
// stock_prices与financial_metrics的唯一写入方，发现分歧时只上报不覆盖
type Engine struct {
	store Store
}

// NewEngine 创建对账引擎
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Reconcile 按自然键对账候选数据
// 不存在则创建，完全一致则不动，存在分歧则返回冲突（不写入）
func (e *Engine) Reconcile(desc Descriptor, key Row, candidate Row) (*Result, error) {
	existing, err := e.store.GetByKey(desc.Table, key)
	if err != nil {
		return nil, fmt.Errorf("查询既有记录失败: %w", err)
	}

	if existing == nil {
		// 新建：自然键与候选字段合并后整行插入
		fields := Row{}
		for k, v := range key {
			fields[k] = v
		}
		for k, v := range candidate {
			fields[k] = v
		}
		id, err := e.store.Insert(desc.Table, fields)
		if err != nil {
			return nil, fmt.Errorf("插入新记录失败: %w", err)
		}
		return &Result{
			ID:      id,
			Status:  StatusCreated,
			Message: "已创建新记录",
		}, nil
	}

	existingID := toInt64(existing["id"])

	if hasDifference(existing, candidate, desc) {
		// 分歧只上报，由外部裁决，引擎绝不静默覆盖
		return &Result{
			ID:           existingID,
			Status:       StatusConflict,
			Message:      "存在相同自然键的不同数据",
			ExistingData: pickFields(existing, desc.CompareFields),
			NewData:      candidate,
		}, nil
	}

	return &Result{
		ID:      existingID,
		Status:  StatusUnchanged,
		Message: "相同数据已存在",
	}, nil
}

// ForceUpdate 管理性强制更新：无条件覆盖既有行
// 记录不存在时返回ErrNotFound，绝不创建新行
func (e *Engine) ForceUpdate(desc Descriptor, key Row, fields Row) error {
	if len(key) == 0 {
		return fmt.Errorf("未指定更新条件")
	}
	if len(fields) == 0 {
		return fmt.Errorf("未指定更新数据")
	}

	affected, err := e.store.UpdateByKey(desc.Table, key, fields)
	if err != nil {
		return fmt.Errorf("强制更新失败: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("强制更新 %s: %w", desc.Table, ErrNotFound)
	}
	return nil
}

// hasDifference 检查候选数据与既有记录是否存在实质差异
// 候选中缺失的字段跳过；单侧为空视为不同；数值按描述的误差比较
func hasDifference(existing Row, candidate Row, desc Descriptor) bool {
	exact := make(map[string]bool, len(desc.ExactFields))
	for _, f := range desc.ExactFields {
		exact[f] = true
	}

	for _, field := range desc.CompareFields {
		newValue, present := candidate[field]
		if !present {
			continue
		}

		existingValue, known := existing[field]
		if !known {
			continue
		}

		// 空值比较
		if isNil(existingValue) && isNil(newValue) {
			continue
		}
		if isNil(existingValue) || isNil(newValue) {
			return true
		}

		// 数值比较
		ev, evOK := toFloat64(existingValue)
		nv, nvOK := toFloat64(newValue)
		if evOK && nvOK {
			if exact[field] {
				if ev != nv {
					return true
				}
			} else if math.Abs(ev-nv) > desc.Tolerance {
				return true
			}
			continue
		}

		// 字符串比较
		if fmt.Sprintf("%v", existingValue) != fmt.Sprintf("%v", newValue) {
			return true
		}
	}

	return false
}

// pickFields 从记录中提取指定字段
func pickFields(row Row, fields []string) Row {
	out := Row{}
	for _, f := range fields {
		if v, ok := row[f]; ok {
			out[f] = v
		}
	}
	return out
}

// isNil 判断字段值是否为空（含有类型的空指针）
func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	switch p := v.(type) {
	case *float64:
		return p == nil
	case *int64:
		return p == nil
	case *string:
		return p == nil
	}
	return false
}

// toFloat64 将接口类型转换为float64
func toFloat64(v interface{}) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int32:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	case uint32:
		return float64(value), true
	case uint64:
		return float64(value), true
	case *float64:
		if value == nil {
			return 0, false
		}
		return *value, true
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// toInt64 将接口类型转换为int64
func toInt64(v interface{}) int64 {
	switch value := v.(type) {
	case int64:
		return value
	case int:
		return int64(value)
	case int32:
		return int64(value)
	case uint:
		return int64(value)
	case uint32:
		return int64(value)
	case uint64:
		return int64(value)
	case float64:
		return int64(value)
	default:
		return 0
	}
}
