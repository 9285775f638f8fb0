// pkg/batch/processor.go
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"KabuRadar/pkg/database"
	"KabuRadar/pkg/fetcher"
	"KabuRadar/pkg/model"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/stats"
)

// Publisher 批处理事件发布能力，允许为nil(不发布)
type Publisher interface {
	PublishSummary(summary *model.BatchSummary) error
	PublishConflict(event *model.ConflictEvent) error
}

// Options 单次批处理的运行参数
type Options struct {
	// Symbols 指定证券代码列表，为空时处理全部注册企业
	Symbols []string
	// ForceUpdate 忽略新鲜度检查，强制重新获取
	ForceUpdate bool
	// MaxCompanies 处理企业数上限，0为不限
	MaxCompanies int
	// Date 指定查询日期(YYYY-MM-DD)，为空取最近交易日
	Date string
}

// Processor 批量数据更新编排器
// 串行遍历企业，调用间隔+抖动保护数据源，结果只累计不中断
type Processor struct {
	companies database.CompanyStore
	prices    database.PriceStore
	engine    *reconcile.Engine
	stats     *stats.Aggregator
	fetcher   fetcher.QuoteFetcher
	publisher Publisher

	stalenessDays  int
	interCallDelay time.Duration
	progressEvery  int

	// now/sleep 可注入，测试时替换
	now   func() time.Time
	sleep func(time.Duration)
}

// NewProcessor 创建批处理编排器
func NewProcessor(
	companies database.CompanyStore,
	prices database.PriceStore,
	engine *reconcile.Engine,
	aggregator *stats.Aggregator,
	quoteFetcher fetcher.QuoteFetcher,
	publisher Publisher,
	stalenessDays int,
	interCallDelay time.Duration,
	progressEvery int,
) *Processor {
	if stalenessDays <= 0 {
		stalenessDays = 1
	}
	if progressEvery <= 0 {
		progressEvery = 5
	}
	return &Processor{
		companies:      companies,
		prices:         prices,
		engine:         engine,
		stats:          aggregator,
		fetcher:        quoteFetcher,
		publisher:      publisher,
		stalenessDays:  stalenessDays,
		interCallDelay: interCallDelay,
		progressEvery:  progressEvery,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// RunBatch 执行一轮批量更新
// 单个企业的失败只记入结果，批次继续；ctx取消时停止后续企业
func (p *Processor) RunBatch(ctx context.Context, opts Options) (*model.BatchSummary, error) {
	start := p.now()
	summary := &model.BatchSummary{
		RunID:      uuid.New().String(),
		DataSource: p.fetcher.Name(),
		StartTime:  start,
	}

	targets, err := p.selectTargets(opts)
	if err != nil {
		return nil, err
	}
	if opts.MaxCompanies > 0 && len(targets) > opts.MaxCompanies {
		targets = targets[:opts.MaxCompanies]
	}
	summary.Total = len(targets)

	log.Printf("批处理开始: run_id=%s source=%s total=%d force=%v",
		summary.RunID, summary.DataSource, summary.Total, opts.ForceUpdate)

	for i, target := range targets {
		if ctx.Err() != nil {
			log.Printf("批处理被取消: 已处理%d/%d", i, summary.Total)
			break
		}

		var result model.CompanyResult
		if target.company == nil {
			// 未注册代码：记错误结果，不触发任何写入
			result = model.CompanyResult{
				Symbol:  target.symbol,
				Status:  model.ResultError,
				Message: fmt.Sprintf("证券代码未注册: %s", target.symbol),
			}
		} else {
			result = p.processCompany(ctx, target.company, opts)
		}
		summary.Results = append(summary.Results, result)

		switch result.Status {
		case model.ResultSuccess:
			summary.Success++
		case model.ResultSkipped:
			summary.Skipped++
		case model.ResultConflict:
			summary.Conflict++
		default:
			summary.Error++
		}

		if (i+1)%p.progressEvery == 0 {
			log.Printf("批处理进度: %d/%d (成功%d 跳过%d 冲突%d 失败%d)",
				i+1, summary.Total, summary.Success, summary.Skipped, summary.Conflict, summary.Error)
		}

		// 最后一个企业之后不再等待
		if i < len(targets)-1 && target.company != nil && result.Status != model.ResultSkipped {
			p.sleep(p.callDelay())
		}
	}

	summary.EndTime = p.now()
	summary.ElapsedSeconds = summary.EndTime.Sub(start).Seconds()

	log.Printf("批处理完成: run_id=%s total=%d success=%d skipped=%d conflict=%d error=%d elapsed=%.1fs",
		summary.RunID, summary.Total, summary.Success, summary.Skipped,
		summary.Conflict, summary.Error, summary.ElapsedSeconds)

	if p.publisher != nil {
		if err := p.publisher.PublishSummary(summary); err != nil {
			log.Printf("发布批处理汇总失败: %v", err)
		}
	}
	return summary, nil
}

// ProcessOne 处理单个企业，供API按需触发
func (p *Processor) ProcessOne(ctx context.Context, symbol string, opts Options) (*model.CompanyResult, error) {
	company, err := p.companies.GetBySymbol(symbol)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			return nil, fmt.Errorf("证券代码未注册: %s", symbol)
		}
		return nil, err
	}
	result := p.processCompany(ctx, company, opts)
	return &result, nil
}

type batchTarget struct {
	symbol  string
	company *model.Company
}

// selectTargets 确定本轮处理对象
// 显式指定代码时未注册代码保留为错误目标，全量模式取全部注册企业
func (p *Processor) selectTargets(opts Options) ([]batchTarget, error) {
	if len(opts.Symbols) > 0 {
		targets := make([]batchTarget, 0, len(opts.Symbols))
		for _, symbol := range opts.Symbols {
			company, err := p.companies.GetBySymbol(symbol)
			if err != nil {
				if errors.Is(err, database.ErrRecordNotFound) {
					targets = append(targets, batchTarget{symbol: symbol})
					continue
				}
				return nil, fmt.Errorf("查询企业失败: %w", err)
			}
			targets = append(targets, batchTarget{symbol: symbol, company: company})
		}
		return targets, nil
	}

	companies, err := p.companies.Search("", "", "")
	if err != nil {
		return nil, fmt.Errorf("查询企业列表失败: %w", err)
	}
	targets := make([]batchTarget, 0, len(companies))
	for _, company := range companies {
		targets = append(targets, batchTarget{symbol: company.Symbol, company: company})
	}
	return targets, nil
}

// processCompany 单个企业的取数-对账-统计流程
func (p *Processor) processCompany(ctx context.Context, company *model.Company, opts Options) model.CompanyResult {
	result := model.CompanyResult{
		CompanyID: company.ID,
		Symbol:    company.Symbol,
	}

	// 新鲜度检查：最新记录仍在窗口内时跳过，避免重复打数据源
	if !opts.ForceUpdate {
		if latest, err := p.prices.GetLatest(company.ID); err == nil {
			if p.isFresh(latest.PriceDate) {
				result.Status = model.ResultSkipped
				result.Message = fmt.Sprintf("数据仍然新鲜: %s", latest.PriceDate)
				result.LatestPrice = &latest.Price
				result.PriceDate = latest.PriceDate
				return result
			}
		}
	}

	obs, err := p.fetcher.Fetch(ctx, company.Symbol, opts.Date)
	if err != nil {
		result.Status = model.ResultError
		result.Message = p.describeFetchError(err)
		return result
	}

	// 股价对账
	key := reconcile.Row{"company_id": company.ID, "price_date": obs.PriceDate}
	candidate := reconcile.Row{"price": obs.Price, "volume": obs.Volume}
	priceResult, err := p.engine.Reconcile(reconcile.PriceDescriptor, key, candidate)
	if err != nil {
		result.Status = model.ResultError
		result.Message = fmt.Sprintf("股价对账失败: %v", err)
		return result
	}

	result.LatestPrice = &obs.Price
	result.PriceDate = obs.PriceDate

	switch priceResult.Status {
	case reconcile.StatusConflict:
		result.Status = model.ResultConflict
		result.Message = priceResult.Message
		result.ExistingData = priceResult.ExistingData
		result.NewData = priceResult.NewData
		p.publishConflict(company.Symbol, reconcile.PriceDescriptor.Table, key, priceResult)
		return result
	case reconcile.StatusCreated:
		result.DataUpdated = true
		// 统计只在新增记录后重算
		if err := p.stats.AggregateForDate(company.ID, obs.PriceDate); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("统计重算失败: %v", err))
		}
	}

	// 财务指标独立对账，失败不影响股价结果
	if obs.HasFinancials() {
		p.reconcileFinancials(company, obs, &result)
	}

	// 企业信息补全：数据源带回的板块/市场信息择机回写
	p.refreshCompanyInfo(company, obs, &result)

	result.Status = model.ResultSuccess
	if result.Message == "" {
		result.Message = priceResult.Message
	}
	return result
}

// reconcileFinancials 财务指标对账，冲突记入Errors并上报事件
func (p *Processor) reconcileFinancials(company *model.Company, obs *model.StockObservation, result *model.CompanyResult) {
	key := reconcile.Row{"company_id": company.ID, "report_date": obs.PriceDate}
	candidate := reconcile.Row{}
	putIf := func(name string, v *float64) {
		if v != nil {
			candidate[name] = *v
		}
	}
	putIf("pbr", obs.Pbr)
	putIf("per", obs.Per)
	putIf("equity_ratio", obs.EquityRatio)
	putIf("roe", obs.Roe)
	putIf("roa", obs.Roa)
	putIf("net_sales", obs.NetSales)
	putIf("operating_profit", obs.OperatingProfit)

	finResult, err := p.engine.Reconcile(reconcile.FinancialDescriptor, key, candidate)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("财务指标对账失败: %v", err))
		return
	}
	switch finResult.Status {
	case reconcile.StatusConflict:
		result.Errors = append(result.Errors, "财务指标存在数据冲突")
		p.publishConflict(company.Symbol, reconcile.FinancialDescriptor.Table, key, finResult)
	case reconcile.StatusCreated:
		result.DataUpdated = true
	}
}

// refreshCompanyInfo 数据源返回的企业属性与库内不一致时回写
func (p *Processor) refreshCompanyInfo(company *model.Company, obs *model.StockObservation, result *model.CompanyResult) {
	fields := map[string]interface{}{}
	if obs.Sector != "" && obs.Sector != company.Sector {
		fields["sector"] = obs.Sector
	}
	if obs.Market != "" && obs.Market != company.Market {
		fields["market"] = obs.Market
	}
	if len(fields) == 0 {
		return
	}
	if err := p.companies.UpdateInfo(company.ID, fields); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("企业信息更新失败: %v", err))
	}
}

func (p *Processor) publishConflict(symbol, table string, key reconcile.Row, res *reconcile.Result) {
	if p.publisher == nil {
		return
	}
	event := &model.ConflictEvent{
		ID:           uuid.New().String(),
		Symbol:       symbol,
		Table:        table,
		NaturalKey:   map[string]interface{}(key),
		ExistingData: map[string]interface{}(res.ExistingData),
		NewData:      map[string]interface{}(res.NewData),
		Timestamp:    p.now(),
	}
	if err := p.publisher.PublishConflict(event); err != nil {
		log.Printf("发布冲突事件失败: %v", err)
	}
}

// isFresh 最新记录日期是否在新鲜度窗口内
func (p *Processor) isFresh(priceDate string) bool {
	recorded, err := time.Parse("2006-01-02", priceDate)
	if err != nil {
		return false
	}
	today, _ := time.Parse("2006-01-02", p.now().Format("2006-01-02"))
	age := int(today.Sub(recorded).Hours() / 24)
	return age <= p.stalenessDays
}

// describeFetchError 取数错误转换为结果消息
func (p *Processor) describeFetchError(err error) string {
	switch {
	case errors.Is(err, fetcher.ErrNotFound):
		return fmt.Sprintf("数据源无该证券行情: %v", err)
	case errors.Is(err, fetcher.ErrAuth):
		return fmt.Sprintf("数据源认证失败: %v", err)
	case errors.Is(err, fetcher.ErrSourceUnavailable):
		return fmt.Sprintf("数据源暂时不可用: %v", err)
	default:
		return fmt.Sprintf("取数失败: %v", err)
	}
}

// callDelay 调用间隔加1~3秒随机抖动
func (p *Processor) callDelay() time.Duration {
	jitter := time.Second + time.Duration(rand.Int63n(int64(2*time.Second)))
	return p.interCallDelay + jitter
}
