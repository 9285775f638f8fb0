// pkg/batch/processor_test.go
package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"KabuRadar/pkg/database/memory"
	"KabuRadar/pkg/fetcher"
	"KabuRadar/pkg/model"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/stats"
)

// stubFetcher 固定返回观测或错误的假数据源
type stubFetcher struct {
	obs   *model.StockObservation
	err   error
	calls int
}

func (s *stubFetcher) Name() string { return "stub" }

func (s *stubFetcher) Fetch(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	obs := *s.obs
	obs.Symbol = symbol
	return &obs, nil
}

// capturePublisher 记录发布的事件
type capturePublisher struct {
	summaries []*model.BatchSummary
	conflicts []*model.ConflictEvent
}

func (c *capturePublisher) PublishSummary(summary *model.BatchSummary) error {
	c.summaries = append(c.summaries, summary)
	return nil
}

func (c *capturePublisher) PublishConflict(event *model.ConflictEvent) error {
	c.conflicts = append(c.conflicts, event)
	return nil
}

func newTestProcessor(t *testing.T, store *memory.Store, f fetcher.QuoteFetcher, pub Publisher) *Processor {
	t.Helper()
	engine := reconcile.NewEngine(store)
	aggregator := stats.NewAggregator(store.Price(), store.Statistic())
	p := NewProcessor(store.Company(), store.Price(), engine, aggregator, f, pub, 1, 0, 5)
	p.now = func() time.Time { return time.Date(2024, 1, 17, 18, 0, 0, 0, time.UTC) }
	p.sleep = func(time.Duration) {}
	return p
}

func registerCompany(t *testing.T, store *memory.Store, symbol, name string) *model.Company {
	t.Helper()
	company := &model.Company{Symbol: symbol, Name: name}
	require.NoError(t, store.Company().Create(company))
	return company
}

func testObservation() *model.StockObservation {
	roe := 0.08
	return &model.StockObservation{
		Price:       2500.0,
		Volume:      50000,
		PriceDate:   "2024-01-17",
		Currency:    "JPY",
		Roe:         &roe,
		Sector:      "輸送用機器",
		Market:      "東証プライム",
		DataSource:  "stub",
		CompanyName: "トヨタ自動車",
	}
}

func TestRunBatchUnregisteredSymbol(t *testing.T) {
	store := memory.NewStore()
	registerCompany(t, store, "7203", "トヨタ自動車")
	stub := &stubFetcher{obs: testObservation()}
	p := newTestProcessor(t, store, stub, nil)

	summary, err := p.RunBatch(context.Background(), Options{Symbols: []string{"7203", "9999"}})
	require.NoError(t, err)

	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, summary.Error)
	require.NotEmpty(t, summary.RunID)

	// 未注册代码只记结果，不触发取数
	require.Equal(t, 1, stub.calls)
	var errResult *model.CompanyResult
	for i := range summary.Results {
		if summary.Results[i].Symbol == "9999" {
			errResult = &summary.Results[i]
		}
	}
	require.NotNil(t, errResult)
	require.Equal(t, model.ResultError, errResult.Status)
	require.Contains(t, errResult.Message, "未注册")
}

func TestRunBatchCreatesPriceAndStatistics(t *testing.T) {
	store := memory.NewStore()
	company := registerCompany(t, store, "7203", "トヨタ自動車")
	stub := &stubFetcher{obs: testObservation()}
	pub := &capturePublisher{}
	p := newTestProcessor(t, store, stub, pub)

	summary, err := p.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)

	latest, err := store.Price().GetLatest(company.ID)
	require.NoError(t, err)
	require.InDelta(t, 2500.0, latest.Price, 1e-9)
	require.Equal(t, "2024-01-17", latest.PriceDate)

	// 新增记录后三类统计全部重算
	statistics, err := store.Statistic().Get(company.ID, "")
	require.NoError(t, err)
	require.Len(t, statistics, 3)

	// 财务指标独立入库
	metrics, err := store.Financial().GetLatest(company.ID)
	require.NoError(t, err)
	require.InDelta(t, 0.08, *metrics.Roe, 1e-9)

	// 数据源带回的企业属性回写
	updated, err := store.Company().GetByID(company.ID)
	require.NoError(t, err)
	require.Equal(t, "輸送用機器", updated.Sector)
	require.Equal(t, "東証プライム", updated.Market)

	require.Len(t, pub.summaries, 1)
	require.Empty(t, pub.conflicts)
}

func TestRunBatchSkipsFreshData(t *testing.T) {
	store := memory.NewStore()
	company := registerCompany(t, store, "7203", "トヨタ自動車")

	// 当日数据已存在
	_, err := store.Insert("stock_prices", reconcile.Row{
		"company_id": company.ID,
		"price_date": "2024-01-17",
		"price":      2500.0,
		"volume":     int64(50000),
	})
	require.NoError(t, err)

	stub := &stubFetcher{obs: testObservation()}
	p := newTestProcessor(t, store, stub, nil)

	summary, err := p.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Skipped)
	require.Zero(t, stub.calls)

	// 强制更新忽略新鲜度
	summary, err = p.RunBatch(context.Background(), Options{ForceUpdate: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, stub.calls)
}

func TestRunBatchReportsConflict(t *testing.T) {
	store := memory.NewStore()
	company := registerCompany(t, store, "7203", "トヨタ自動車")

	// 既有记录与数据源返回值分歧
	_, err := store.Insert("stock_prices", reconcile.Row{
		"company_id": company.ID,
		"price_date": "2024-01-17",
		"price":      2400.0,
		"volume":     int64(50000),
	})
	require.NoError(t, err)

	stub := &stubFetcher{obs: testObservation()}
	pub := &capturePublisher{}
	p := newTestProcessor(t, store, stub, pub)

	summary, err := p.RunBatch(context.Background(), Options{ForceUpdate: true})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Conflict)

	result := summary.Results[0]
	require.Equal(t, model.ResultConflict, result.Status)
	require.NotNil(t, result.ExistingData)
	require.NotNil(t, result.NewData)

	// 既有值未被覆盖
	latest, err := store.Price().GetLatest(company.ID)
	require.NoError(t, err)
	require.InDelta(t, 2400.0, latest.Price, 1e-9)

	// 冲突事件已发布
	require.Len(t, pub.conflicts, 1)
	require.Equal(t, "7203", pub.conflicts[0].Symbol)
	require.Equal(t, "stock_prices", pub.conflicts[0].Table)
}

func TestRunBatchFetchError(t *testing.T) {
	store := memory.NewStore()
	registerCompany(t, store, "7203", "トヨタ自動車")
	stub := &stubFetcher{err: fetcher.ErrNotFound}
	p := newTestProcessor(t, store, stub, nil)

	summary, err := p.RunBatch(context.Background(), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Error)
	require.Contains(t, summary.Results[0].Message, "数据源无该证券行情")
}

func TestRunBatchMaxCompanies(t *testing.T) {
	store := memory.NewStore()
	registerCompany(t, store, "7203", "トヨタ自動車")
	registerCompany(t, store, "6758", "ソニーグループ")
	registerCompany(t, store, "9984", "ソフトバンクグループ")

	stub := &stubFetcher{obs: testObservation()}
	p := newTestProcessor(t, store, stub, nil)

	summary, err := p.RunBatch(context.Background(), Options{MaxCompanies: 2})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 2, stub.calls)
}

func TestProcessOne(t *testing.T) {
	store := memory.NewStore()
	registerCompany(t, store, "7203", "トヨタ自動車")
	stub := &stubFetcher{obs: testObservation()}
	p := newTestProcessor(t, store, stub, nil)

	result, err := p.ProcessOne(context.Background(), "7203", Options{})
	require.NoError(t, err)
	require.Equal(t, model.ResultSuccess, result.Status)

	_, err = p.ProcessOne(context.Background(), "9999", Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "未注册")
}

func TestRunBatchCanceledContext(t *testing.T) {
	store := memory.NewStore()
	registerCompany(t, store, "7203", "トヨタ自動車")
	stub := &stubFetcher{obs: testObservation()}
	p := newTestProcessor(t, store, stub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.RunBatch(ctx, Options{})
	require.NoError(t, err)
	require.Zero(t, stub.calls)
	require.Empty(t, summary.Results)
}
