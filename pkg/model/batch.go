// pkg/model/batch.go
package model

import (
	"time"
)

// ResultStatus 单个企业的批处理结果状态
type ResultStatus string

const (
	ResultSuccess  ResultStatus = "success"
	ResultError    ResultStatus = "error"
	ResultSkipped  ResultStatus = "skipped"
	ResultConflict ResultStatus = "conflict"
)

// CompanyResult 单个企业的处理结果
type CompanyResult struct {
	CompanyID   uint         `json:"company_id"`
	Symbol      string       `json:"symbol"`
	Status      ResultStatus `json:"status"`
	Message     string       `json:"message"`
	DataUpdated bool         `json:"data_updated"`
	Errors      []string     `json:"errors,omitempty"`
	LatestPrice *float64     `json:"latest_price,omitempty"`
	PriceDate   string       `json:"price_date,omitempty"`
	// 价格冲突时附带双方数据，供外部裁决
	ExistingData map[string]interface{} `json:"existing_data,omitempty"`
	NewData      map[string]interface{} `json:"new_data,omitempty"`
}

// BatchSummary 批处理汇总
type BatchSummary struct {
	RunID          string          `json:"run_id"`
	DataSource     string          `json:"data_source"`
	Total          int             `json:"total"`
	Success        int             `json:"success"`
	Error          int             `json:"error"`
	Skipped        int             `json:"skipped"`
	Conflict       int             `json:"conflict"`
	Results        []CompanyResult `json:"results"`
	StartTime      time.Time       `json:"start_time"`
	EndTime        time.Time       `json:"end_time"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
}

// ConflictEvent 数据冲突事件，发布到NATS供外部审查
type ConflictEvent struct {
	ID           string                 `json:"id"`
	Symbol       string                 `json:"symbol"`
	Table        string                 `json:"table"`
	NaturalKey   map[string]interface{} `json:"natural_key"`
	ExistingData map[string]interface{} `json:"existing_data"`
	NewData      map[string]interface{} `json:"new_data"`
	Timestamp    time.Time              `json:"timestamp"`
}
