// pkg/stats/aggregator.go
package stats

import (
	"fmt"

	"KabuRadar/pkg/database"
	"KabuRadar/pkg/model"
)

// Aggregator 价格统计聚合器
// 从股价记录重新计算周期统计并整体覆盖，保证统计值与明细一致
type Aggregator struct {
	prices database.PriceStore
	stats  database.StatisticStore
}

// NewAggregator 创建聚合器
func NewAggregator(prices database.PriceStore, stats database.StatisticStore) *Aggregator {
	return &Aggregator{prices: prices, stats: stats}
}

// MonthlyValue 从记录日期(YYYY-MM-DD)推导月度周期值
func MonthlyValue(priceDate string) string {
	if len(priceDate) < 7 {
		return priceDate
	}
	return priceDate[:7]
}

// YearlyValue 从记录日期推导年度周期值
func YearlyValue(priceDate string) string {
	if len(priceDate) < 4 {
		return priceDate
	}
	return priceDate[:4]
}

// Aggregate 重算单个周期的min/max/avg并覆盖统计行
// 周期内没有记录时不写入
func (a *Aggregator) Aggregate(companyID uint, periodType model.PeriodType, periodValue string) error {
	prices, err := a.prices.GetByPeriod(companyID, periodType, periodValue)
	if err != nil {
		return fmt.Errorf("查询周期股价失败: %w", err)
	}
	if len(prices) == 0 {
		return nil
	}

	min := prices[0].Price
	max := prices[0].Price
	sum := 0.0
	for _, p := range prices {
		if p.Price < min {
			min = p.Price
		}
		if p.Price > max {
			max = p.Price
		}
		sum += p.Price
	}

	stat := &model.PriceStatistic{
		CompanyID:   companyID,
		PeriodType:  periodType,
		PeriodValue: periodValue,
		MinPrice:    min,
		MaxPrice:    max,
		AvgPrice:    sum / float64(len(prices)),
	}
	if err := a.stats.Replace(stat); err != nil {
		return fmt.Errorf("覆盖价格统计失败: %w", err)
	}
	return nil
}

// AggregateForDate 按记录日期重算月度、年度、全期三类统计
func (a *Aggregator) AggregateForDate(companyID uint, priceDate string) error {
	if err := a.Aggregate(companyID, model.PeriodMonthly, MonthlyValue(priceDate)); err != nil {
		return err
	}
	if err := a.Aggregate(companyID, model.PeriodYearly, YearlyValue(priceDate)); err != nil {
		return err
	}
	return a.Aggregate(companyID, model.PeriodAllTime, model.AllTimeValue)
}
