// pkg/fetcher/yahoo.go
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"KabuRadar/pkg/model"
)

// YahooFetcher 免费行情数据源
// 日股代码自动追加.T后缀走东证市场，无需认证但稳定性一般，
// 故障统一按暂时性错误进入重试
type YahooFetcher struct {
	baseURL string
	client  *http.Client
	retry   *RetryPolicy
}

// NewYahooFetcher 创建Yahoo数据源
func NewYahooFetcher(baseURL string, timeout time.Duration) *YahooFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &YahooFetcher{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		retry:   DefaultRetryPolicy(),
	}
}

func (y *YahooFetcher) Name() string {
	return "yahoo"
}

// chartResponse Yahoo图表接口响应
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ExchangeName       string  `json:"exchangeName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch 获取单只证券最近交易日的行情
func (y *YahooFetcher) Fetch(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error) {
	var obs *model.StockObservation
	err := y.retry.Do(ctx, func() error {
		var opErr error
		obs, opErr = y.fetchOnce(ctx, symbol, asOfDate)
		return opErr
	})
	if err != nil {
		if IsTransient(err) {
			// 重试耗尽，视为数据源不可用
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return nil, err
	}
	return obs, nil
}

func (y *YahooFetcher) fetchOnce(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error) {
	url := fmt.Sprintf("%s/v8/finance/chart/%s.T?range=5d&interval=1d", y.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("请求Yahoo行情失败: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("Yahoo限流: HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, Transient(fmt.Errorf("Yahoo响应异常: HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("读取响应失败: %w", err))
	}

	var chart chartResponse
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, Transient(fmt.Errorf("解析响应失败: %w", err))
	}
	if chart.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]

	// 从后向前取最近一条有效记录；指定日期时精确匹配
	idx := -1
	for i := len(result.Timestamp) - 1; i >= 0; i-- {
		if i >= len(quote.Close) || quote.Close[i] == nil {
			continue
		}
		day := time.Unix(result.Timestamp[i], 0).UTC().Format("2006-01-02")
		if asOfDate != "" && day != asOfDate {
			continue
		}
		idx = i
		break
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s 无有效收盘价", ErrNotFound, symbol)
	}

	var volume int64
	if idx < len(quote.Volume) && quote.Volume[idx] != nil {
		volume = *quote.Volume[idx]
	}

	obs := &model.StockObservation{
		Symbol:     symbol,
		Price:      *quote.Close[idx],
		Volume:     volume,
		PriceDate:  time.Unix(result.Timestamp[idx], 0).UTC().Format("2006-01-02"),
		Currency:   result.Meta.Currency,
		Market:     result.Meta.ExchangeName,
		DataSource: y.Name(),
		FetchedAt:  time.Now(),
	}
	if obs.Currency == "" {
		obs.Currency = "JPY"
	}

	// 财务指标与企业信息属于补充数据，失败只记录日志不中断
	if err := y.fillRatios(ctx, symbol, obs); err != nil {
		log.Printf("获取Yahoo财务指标失败 %s: %v", symbol, err)
	}

	if err := validateObservation(obs); err != nil {
		// 数据源返回了无法入库的数据，按未找到处理
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return obs, nil
}

// yahooNumber quoteSummary中的数值字段包装
type yahooNumber struct {
	Raw *float64 `json:"raw"`
}

// quoteSummaryResponse Yahoo企业概要接口响应
type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			Price struct {
				LongName string `json:"longName"`
			} `json:"price"`
			AssetProfile struct {
				Sector string `json:"sector"`
			} `json:"assetProfile"`
			SummaryDetail struct {
				TrailingPE yahooNumber `json:"trailingPE"`
			} `json:"summaryDetail"`
			DefaultKeyStatistics struct {
				PriceToBook yahooNumber `json:"priceToBook"`
			} `json:"defaultKeyStatistics"`
			FinancialData struct {
				ReturnOnEquity yahooNumber `json:"returnOnEquity"`
				ReturnOnAssets yahooNumber `json:"returnOnAssets"`
			} `json:"financialData"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

// fillRatios 从企业概要接口补充财务指标与企业信息
// ROE/ROA可能以百分数返回，统一折算为小数
func (y *YahooFetcher) fillRatios(ctx context.Context, symbol string, obs *model.StockObservation) error {
	url := fmt.Sprintf(
		"%s/v10/finance/quoteSummary/%s.T?modules=price,assetProfile,summaryDetail,defaultKeyStatistics,financialData",
		y.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("请求企业概要失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("企业概要响应异常: HTTP %d", resp.StatusCode)
	}

	var summary quoteSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		return fmt.Errorf("解析企业概要失败: %w", err)
	}
	if len(summary.QuoteSummary.Result) == 0 {
		return nil
	}
	result := summary.QuoteSummary.Result[0]

	if result.Price.LongName != "" {
		obs.CompanyName = result.Price.LongName
	}
	if result.AssetProfile.Sector != "" {
		obs.Sector = result.AssetProfile.Sector
	}
	if v := result.DefaultKeyStatistics.PriceToBook.Raw; v != nil {
		obs.Pbr = v
	}
	if v := result.SummaryDetail.TrailingPE.Raw; v != nil {
		obs.Per = v
	}
	if v := result.FinancialData.ReturnOnEquity.Raw; v != nil {
		roe := normalizeRatio(*v)
		obs.Roe = &roe
	}
	if v := result.FinancialData.ReturnOnAssets.Raw; v != nil {
		roa := normalizeRatio(*v)
		obs.Roa = &roa
	}
	return nil
}
