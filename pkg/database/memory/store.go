// pkg/database/memory/store.go
// 内存版记录存储，与PostgreSQL实现提供相同能力，供单元测试和本地试运行使用
package memory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"KabuRadar/pkg/database"
	"KabuRadar/pkg/model"
	"KabuRadar/pkg/reconcile"
)

// Store 内存存储
type Store struct {
	mu         sync.RWMutex
	nextID     map[string]int64
	companies  []*model.Company
	prices     []*model.StockPrice
	financials []*model.FinancialMetrics
	statistics []*model.PriceStatistic
	tokens     []*model.TokenRecord
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		nextID: make(map[string]int64),
	}
}

func (s *Store) Company() database.CompanyStore     { return &companyStore{s} }
func (s *Store) Price() database.PriceStore         { return &priceStore{s} }
func (s *Store) Financial() database.FinancialStore { return &financialStore{s} }
func (s *Store) Statistic() database.StatisticStore { return &statisticStore{s} }
func (s *Store) Token() database.TokenStore         { return &tokenStore{s} }

func (s *Store) allocID(table string) uint {
	s.nextID[table]++
	return uint(s.nextID[table])
}

// ---- reconcile.Store ----

// GetByKey 按自然键取单行，不存在时返回(nil, nil)
func (s *Store) GetByKey(table string, key reconcile.Row) (reconcile.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.tableRows(table)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if matchesKey(row, key) {
			return row, nil
		}
	}
	return nil, nil
}

// Insert 插入整行并返回新记录ID
func (s *Store) Insert(table string, fields reconcile.Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.allocID(table)
	switch table {
	case "stock_prices":
		s.prices = append(s.prices, &model.StockPrice{
			ID:        id,
			CompanyID: uint(asInt64(fields["company_id"])),
			PriceDate: asString(fields["price_date"]),
			Price:     asFloat64(fields["price"]),
			Volume:    asInt64(fields["volume"]),
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		})
	case "financial_metrics":
		s.financials = append(s.financials, &model.FinancialMetrics{
			ID:              id,
			CompanyID:       uint(asInt64(fields["company_id"])),
			ReportDate:      asString(fields["report_date"]),
			Pbr:             asFloatPtr(fields["pbr"]),
			Per:             asFloatPtr(fields["per"]),
			EquityRatio:     asFloatPtr(fields["equity_ratio"]),
			Roe:             asFloatPtr(fields["roe"]),
			Roa:             asFloatPtr(fields["roa"]),
			NetSales:        asFloatPtr(fields["net_sales"]),
			OperatingProfit: asFloatPtr(fields["operating_profit"]),
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		})
	default:
		return 0, fmt.Errorf("不支持的表: %s", table)
	}
	return int64(id), nil
}

// UpdateByKey 按自然键更新指定字段，返回受影响行数
func (s *Store) UpdateByKey(table string, key reconcile.Row, fields reconcile.Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch table {
	case "stock_prices":
		for _, p := range s.prices {
			if matchesKey(priceRow(p), key) {
				if v, ok := fields["price"]; ok {
					p.Price = asFloat64(v)
				}
				if v, ok := fields["volume"]; ok {
					p.Volume = asInt64(v)
				}
				p.UpdatedAt = time.Now()
				return 1, nil
			}
		}
		return 0, nil
	case "financial_metrics":
		for _, f := range s.financials {
			if matchesKey(financialRow(f), key) {
				applyFinancialFields(f, fields)
				f.UpdatedAt = time.Now()
				return 1, nil
			}
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("不支持的表: %s", table)
	}
}

func (s *Store) tableRows(table string) ([]reconcile.Row, error) {
	switch table {
	case "stock_prices":
		rows := make([]reconcile.Row, 0, len(s.prices))
		for _, p := range s.prices {
			rows = append(rows, priceRow(p))
		}
		return rows, nil
	case "financial_metrics":
		rows := make([]reconcile.Row, 0, len(s.financials))
		for _, f := range s.financials {
			rows = append(rows, financialRow(f))
		}
		return rows, nil
	default:
		return nil, fmt.Errorf("不支持的表: %s", table)
	}
}

func priceRow(p *model.StockPrice) reconcile.Row {
	return reconcile.Row{
		"id":         int64(p.ID),
		"company_id": int64(p.CompanyID),
		"price_date": p.PriceDate,
		"price":      p.Price,
		"volume":     p.Volume,
	}
}

func financialRow(f *model.FinancialMetrics) reconcile.Row {
	row := reconcile.Row{
		"id":          int64(f.ID),
		"company_id":  int64(f.CompanyID),
		"report_date": f.ReportDate,
	}
	putFloat := func(name string, v *float64) {
		if v != nil {
			row[name] = *v
		} else {
			row[name] = nil
		}
	}
	putFloat("pbr", f.Pbr)
	putFloat("per", f.Per)
	putFloat("equity_ratio", f.EquityRatio)
	putFloat("roe", f.Roe)
	putFloat("roa", f.Roa)
	putFloat("net_sales", f.NetSales)
	putFloat("operating_profit", f.OperatingProfit)
	return row
}

func applyFinancialFields(f *model.FinancialMetrics, fields reconcile.Row) {
	set := func(name string, dst **float64) {
		if v, ok := fields[name]; ok {
			*dst = asFloatPtr(v)
		}
	}
	set("pbr", &f.Pbr)
	set("per", &f.Per)
	set("equity_ratio", &f.EquityRatio)
	set("roe", &f.Roe)
	set("roa", &f.Roa)
	set("net_sales", &f.NetSales)
	set("operating_profit", &f.OperatingProfit)
}

// matchesKey 自然键全部字段相等
func matchesKey(row reconcile.Row, key reconcile.Row) bool {
	for field, want := range key {
		got, ok := row[field]
		if !ok {
			return false
		}
		if asString(got) != asString(want) {
			return false
		}
	}
	return true
}

// ---- database.CompanyStore ----

type companyStore struct{ s *Store }

func (c *companyStore) Create(company *model.Company) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, existing := range c.s.companies {
		if existing.Symbol == company.Symbol {
			return fmt.Errorf("证券代码已存在: %s", company.Symbol)
		}
	}
	company.ID = c.s.allocID("companies")
	company.CreatedAt = time.Now()
	company.UpdatedAt = time.Now()
	c.s.companies = append(c.s.companies, company)
	return nil
}

func (c *companyStore) GetBySymbol(symbol string) (*model.Company, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, company := range c.s.companies {
		if company.Symbol == symbol {
			cp := *company
			return &cp, nil
		}
	}
	return nil, database.ErrRecordNotFound
}

func (c *companyStore) GetByID(id uint) (*model.Company, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, company := range c.s.companies {
		if company.ID == id {
			cp := *company
			return &cp, nil
		}
	}
	return nil, database.ErrRecordNotFound
}

func (c *companyStore) Search(symbol, name, sector string) ([]*model.Company, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []*model.Company
	for _, company := range c.s.companies {
		if symbol != "" && !strings.Contains(company.Symbol, symbol) {
			continue
		}
		if name != "" && !strings.Contains(company.Name, name) {
			continue
		}
		if sector != "" && !strings.Contains(company.Sector, sector) {
			continue
		}
		cp := *company
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (c *companyStore) UpdateInfo(id uint, fields map[string]interface{}) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	for _, company := range c.s.companies {
		if company.ID == id {
			if v, ok := fields["name"]; ok {
				company.Name = asString(v)
			}
			if v, ok := fields["sector"]; ok {
				company.Sector = asString(v)
			}
			if v, ok := fields["market"]; ok {
				company.Market = asString(v)
			}
			company.UpdatedAt = time.Now()
			return nil
		}
	}
	return database.ErrRecordNotFound
}

// ---- database.PriceStore ----

type priceStore struct{ s *Store }

func (p *priceStore) GetLatest(companyID uint) (*model.StockPrice, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var latest *model.StockPrice
	for _, price := range p.s.prices {
		if price.CompanyID != companyID {
			continue
		}
		if latest == nil || price.PriceDate > latest.PriceDate {
			latest = price
		}
	}
	if latest == nil {
		return nil, database.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (p *priceStore) GetHistory(companyID uint, limit int) ([]*model.StockPrice, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []*model.StockPrice
	for _, price := range p.s.prices {
		if price.CompanyID == companyID {
			cp := *price
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceDate > out[j].PriceDate })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p *priceStore) GetByPeriod(companyID uint, periodType model.PeriodType, periodValue string) ([]*model.StockPrice, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	var out []*model.StockPrice
	for _, price := range p.s.prices {
		if price.CompanyID != companyID {
			continue
		}
		switch periodType {
		case model.PeriodMonthly, model.PeriodYearly:
			if !strings.HasPrefix(price.PriceDate, periodValue) {
				continue
			}
		case model.PeriodAllTime:
			// 全量
		default:
			return nil, fmt.Errorf("未知的统计周期类型: %s", periodType)
		}
		cp := *price
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceDate < out[j].PriceDate })
	return out, nil
}

// ---- database.FinancialStore ----

type financialStore struct{ s *Store }

func (f *financialStore) GetLatest(companyID uint) (*model.FinancialMetrics, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	var latest *model.FinancialMetrics
	for _, metrics := range f.s.financials {
		if metrics.CompanyID != companyID {
			continue
		}
		if latest == nil || metrics.ReportDate > latest.ReportDate {
			latest = metrics
		}
	}
	if latest == nil {
		return nil, database.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

// ---- database.StatisticStore ----

type statisticStore struct{ s *Store }

func (st *statisticStore) Replace(stat *model.PriceStatistic) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()
	for _, existing := range st.s.statistics {
		if existing.CompanyID == stat.CompanyID &&
			existing.PeriodType == stat.PeriodType &&
			existing.PeriodValue == stat.PeriodValue {
			existing.MinPrice = stat.MinPrice
			existing.MaxPrice = stat.MaxPrice
			existing.AvgPrice = stat.AvgPrice
			existing.UpdatedAt = time.Now()
			return nil
		}
	}
	stat.ID = st.s.allocID("price_statistics")
	stat.CreatedAt = time.Now()
	stat.UpdatedAt = time.Now()
	st.s.statistics = append(st.s.statistics, stat)
	return nil
}

func (st *statisticStore) Get(companyID uint, periodType model.PeriodType) ([]*model.PriceStatistic, error) {
	st.s.mu.RLock()
	defer st.s.mu.RUnlock()
	var out []*model.PriceStatistic
	for _, stat := range st.s.statistics {
		if stat.CompanyID != companyID {
			continue
		}
		if periodType != "" && stat.PeriodType != periodType {
			continue
		}
		cp := *stat
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodValue > out[j].PeriodValue })
	return out, nil
}

// ---- database.TokenStore ----

type tokenStore struct{ s *Store }

func (t *tokenStore) Supersede(rec *model.TokenRecord) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, existing := range t.s.tokens {
		if existing.UserIdentifier == rec.UserIdentifier && existing.IsActive {
			existing.IsActive = false
		}
	}
	rec.ID = t.s.allocID("jquants_tokens")
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.IsActive = true
	cp := *rec
	t.s.tokens = append(t.s.tokens, &cp)
	return nil
}

func (t *tokenStore) GetActive(userIdentifier string, now time.Time) (*model.TokenRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var newest *model.TokenRecord
	for _, rec := range t.s.tokens {
		if rec.UserIdentifier != userIdentifier || !rec.IsActive {
			continue
		}
		if !rec.ExpiresAt.After(now) {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, database.ErrRecordNotFound
	}
	cp := *newest
	return &cp, nil
}

func (t *tokenStore) GetNewestActive(userIdentifier string) (*model.TokenRecord, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var newest *model.TokenRecord
	for _, rec := range t.s.tokens {
		if rec.UserIdentifier != userIdentifier || !rec.IsActive {
			continue
		}
		if newest == nil || rec.CreatedAt.After(newest.CreatedAt) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, database.ErrRecordNotFound
	}
	cp := *newest
	return &cp, nil
}

func (t *tokenStore) TouchLastUsed(id uint, now time.Time) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, rec := range t.s.tokens {
		if rec.ID == id {
			at := now
			rec.LastUsedAt = &at
			return nil
		}
	}
	return database.ErrRecordNotFound
}

func (t *tokenStore) Deactivate(userIdentifier string) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var affected int64
	for _, rec := range t.s.tokens {
		if rec.UserIdentifier == userIdentifier && rec.IsActive {
			rec.IsActive = false
			affected++
		}
	}
	return affected, nil
}

func (t *tokenStore) PurgeInactive(before time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var kept []*model.TokenRecord
	var purged int64
	for _, rec := range t.s.tokens {
		if !rec.IsActive && rec.ExpiresAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, rec)
	}
	t.s.tokens = kept
	return purged, nil
}

// ---- 类型转换辅助 ----

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

func asFloat64(v interface{}) float64 {
	switch value := v.(type) {
	case float64:
		return value
	case float32:
		return float64(value)
	case int:
		return float64(value)
	case int64:
		return float64(value)
	case uint:
		return float64(value)
	case *float64:
		if value == nil {
			return 0
		}
		return *value
	default:
		return 0
	}
}

func asFloatPtr(v interface{}) *float64 {
	if v == nil {
		return nil
	}
	switch value := v.(type) {
	case *float64:
		return value
	default:
		f := asFloat64(v)
		return &f
	}
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
