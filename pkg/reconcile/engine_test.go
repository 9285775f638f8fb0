// pkg/reconcile/engine_test.go
package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"KabuRadar/pkg/database/memory"
	"KabuRadar/pkg/reconcile"
)

func TestReconcileCreatesThenUnchanged(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "price_date": "2024-01-15"}
	candidate := reconcile.Row{"price": 100.0, "volume": int64(5000)}

	result, err := engine.Reconcile(reconcile.PriceDescriptor, key, candidate)
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusCreated, result.Status)
	require.NotZero(t, result.ID)

	// 相同数据再次对账必须幂等
	result, err = engine.Reconcile(reconcile.PriceDescriptor, key, candidate)
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusUnchanged, result.Status)
}

func TestReconcilePriceTolerance(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "price_date": "2024-01-15"}
	_, err := engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.00, "volume": int64(5000)})
	require.NoError(t, err)

	// 误差0.01以内视为相同
	result, err := engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.005, "volume": int64(5000)})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusUnchanged, result.Status)

	// 超过误差上报冲突，且不覆盖既有值
	result, err = engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.02, "volume": int64(5000)})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusConflict, result.Status)
	require.NotNil(t, result.ExistingData)
	require.NotNil(t, result.NewData)

	existing, err := store.GetByKey("stock_prices", key)
	require.NoError(t, err)
	require.InDelta(t, 100.00, existing["price"], 1e-9)
}

func TestReconcileVolumeExact(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "price_date": "2024-01-15"}
	_, err := engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.0, "volume": int64(5000)})
	require.NoError(t, err)

	// 成交量不适用价格误差，差1也算冲突
	result, err := engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.0, "volume": int64(5001)})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusConflict, result.Status)
}

func TestReconcileFinancialNullHandling(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "report_date": "2024-03-31"}
	_, err := engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"pbr": 1.2, "roe": 0.08})
	require.NoError(t, err)

	// 候选缺失的字段不参与比较
	result, err := engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"pbr": 1.2})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusUnchanged, result.Status)

	// 既有为空、候选有值视为分歧
	result, err = engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"pbr": 1.2, "per": 15.0})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusConflict, result.Status)
}

func TestReconcileFinancialRatioTolerance(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "report_date": "2024-03-31"}
	_, err := engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"roe": 0.0800})
	require.NoError(t, err)

	result, err := engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"roe": 0.08005})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusUnchanged, result.Status)

	result, err = engine.Reconcile(reconcile.FinancialDescriptor, key,
		reconcile.Row{"roe": 0.0805})
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusConflict, result.Status)
}

func TestForceUpdate(t *testing.T) {
	store := memory.NewStore()
	engine := reconcile.NewEngine(store)

	key := reconcile.Row{"company_id": uint(1), "price_date": "2024-01-15"}

	// 目标不存在时报错且不创建
	err := engine.ForceUpdate(reconcile.PriceDescriptor, key, reconcile.Row{"price": 99.0})
	require.ErrorIs(t, err, reconcile.ErrNotFound)
	row, err := store.GetByKey("stock_prices", key)
	require.NoError(t, err)
	require.Nil(t, row)

	_, err = engine.Reconcile(reconcile.PriceDescriptor, key,
		reconcile.Row{"price": 100.0, "volume": int64(5000)})
	require.NoError(t, err)

	// 强制更新无条件覆盖
	err = engine.ForceUpdate(reconcile.PriceDescriptor, key, reconcile.Row{"price": 250.0})
	require.NoError(t, err)

	row, err = store.GetByKey("stock_prices", key)
	require.NoError(t, err)
	require.InDelta(t, 250.0, row["price"], 1e-9)
}

func TestForceUpdateRequiresKeyAndFields(t *testing.T) {
	engine := reconcile.NewEngine(memory.NewStore())

	err := engine.ForceUpdate(reconcile.PriceDescriptor, reconcile.Row{}, reconcile.Row{"price": 1.0})
	require.Error(t, err)

	err = engine.ForceUpdate(reconcile.PriceDescriptor,
		reconcile.Row{"company_id": uint(1), "price_date": "2024-01-15"}, reconcile.Row{})
	require.Error(t, err)
}
