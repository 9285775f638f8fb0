// pkg/stats/aggregator_test.go
package stats_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"KabuRadar/pkg/database/memory"
	"KabuRadar/pkg/model"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/stats"
)

func seedPrice(t *testing.T, store *memory.Store, companyID uint, date string, price float64) {
	t.Helper()
	_, err := store.Insert("stock_prices", reconcile.Row{
		"company_id": companyID,
		"price_date": date,
		"price":      price,
		"volume":     int64(1000),
	})
	require.NoError(t, err)
}

func TestAggregateMonthly(t *testing.T) {
	store := memory.NewStore()
	aggregator := stats.NewAggregator(store.Price(), store.Statistic())

	seedPrice(t, store, 1, "2024-01-10", 100)
	seedPrice(t, store, 1, "2024-01-20", 120)
	seedPrice(t, store, 1, "2024-02-05", 300) // 别的月份不参与

	err := aggregator.Aggregate(1, model.PeriodMonthly, "2024-01")
	require.NoError(t, err)

	result, err := store.Statistic().Get(1, model.PeriodMonthly)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.Equal(t, "2024-01", result[0].PeriodValue)
	require.InDelta(t, 100, result[0].MinPrice, 1e-9)
	require.InDelta(t, 120, result[0].MaxPrice, 1e-9)
	require.InDelta(t, 110, result[0].AvgPrice, 1e-9)
}

func TestAggregateEmptyPeriodIsNoop(t *testing.T) {
	store := memory.NewStore()
	aggregator := stats.NewAggregator(store.Price(), store.Statistic())

	err := aggregator.Aggregate(1, model.PeriodMonthly, "2024-01")
	require.NoError(t, err)

	result, err := store.Statistic().Get(1, "")
	require.NoError(t, err)
	require.Empty(t, result)
}

func TestAggregateReplacesExisting(t *testing.T) {
	store := memory.NewStore()
	aggregator := stats.NewAggregator(store.Price(), store.Statistic())

	seedPrice(t, store, 1, "2024-01-10", 100)
	require.NoError(t, aggregator.Aggregate(1, model.PeriodMonthly, "2024-01"))

	seedPrice(t, store, 1, "2024-01-11", 200)
	require.NoError(t, aggregator.Aggregate(1, model.PeriodMonthly, "2024-01"))

	// 重算整体覆盖，不累加
	result, err := store.Statistic().Get(1, model.PeriodMonthly)
	require.NoError(t, err)
	require.Len(t, result, 1)
	require.InDelta(t, 200, result[0].MaxPrice, 1e-9)
	require.InDelta(t, 150, result[0].AvgPrice, 1e-9)
}

func TestAggregateForDate(t *testing.T) {
	store := memory.NewStore()
	aggregator := stats.NewAggregator(store.Price(), store.Statistic())

	seedPrice(t, store, 1, "2024-01-10", 100)
	seedPrice(t, store, 2, "2024-01-10", 999) // 别的企业不参与

	require.NoError(t, aggregator.AggregateForDate(1, "2024-01-10"))

	result, err := store.Statistic().Get(1, "")
	require.NoError(t, err)
	require.Len(t, result, 3)

	byType := map[model.PeriodType]string{}
	for _, stat := range result {
		byType[stat.PeriodType] = stat.PeriodValue
		require.InDelta(t, 100, stat.AvgPrice, 1e-9)
	}
	require.Equal(t, "2024-01", byType[model.PeriodMonthly])
	require.Equal(t, "2024", byType[model.PeriodYearly])
	require.Equal(t, model.AllTimeValue, byType[model.PeriodAllTime])
}

func TestPeriodValueHelpers(t *testing.T) {
	require.Equal(t, "2024-01", stats.MonthlyValue("2024-01-15"))
	require.Equal(t, "2024", stats.YearlyValue("2024-01-15"))
}
