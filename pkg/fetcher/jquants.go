// pkg/fetcher/jquants.go
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"KabuRadar/pkg/model"
)

// maxLookbackDays 目标日无数据时最多再向前回溯的日历天数
const maxLookbackDays = 7

// RefreshTokenSource 提供持久化的刷新令牌，允许为nil
type RefreshTokenSource func() (string, error)

// JQuantsFetcher J-Quants授权数据源
// idToken仅驻留内存，过期或首次使用时通过刷新令牌换取；
// 刷新令牌按 显式配置 > 持久化存储 > 邮箱密码认证 的顺序解析
type JQuantsFetcher struct {
	baseURL      string
	email        string
	password     string
	refreshToken string
	tokenSource  RefreshTokenSource

	client  *http.Client
	limiter *rate.Limiter
	retry   *RetryPolicy

	idToken string

	// now 可注入，测试时固定时钟
	now func() time.Time
}

// NewJQuantsFetcher 创建J-Quants数据源
func NewJQuantsFetcher(baseURL, email, password, refreshToken string, ratePerSec float64, timeout time.Duration, tokenSource RefreshTokenSource) *JQuantsFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	return &JQuantsFetcher{
		baseURL:      baseURL,
		email:        email,
		password:     password,
		refreshToken: refreshToken,
		tokenSource:  tokenSource,
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(ratePerSec), 1),
		retry:        DefaultRetryPolicy(),
		now:          time.Now,
	}
}

func (j *JQuantsFetcher) Name() string {
	return "jquants"
}

// Fetch 获取单只证券的行情与财务指标
func (j *JQuantsFetcher) Fetch(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error) {
	var obs *model.StockObservation
	err := j.retry.Do(ctx, func() error {
		var opErr error
		obs, opErr = j.fetchOnce(ctx, symbol, asOfDate)
		return opErr
	})
	if err != nil {
		if IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		return nil, err
	}
	return obs, nil
}

func (j *JQuantsFetcher) fetchOnce(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error) {
	if err := j.ensureIDToken(ctx); err != nil {
		return nil, err
	}

	target := asOfDate
	if target == "" {
		target = LatestBusinessDay(j.now())
	}

	price, priceDate, volume, err := j.fetchDailyQuote(ctx, symbol, target)
	if err != nil {
		return nil, err
	}

	obs := &model.StockObservation{
		Symbol:     symbol,
		Price:      price,
		Volume:     volume,
		PriceDate:  priceDate,
		Currency:   "JPY",
		DataSource: j.Name(),
		FetchedAt:  time.Now(),
	}

	// 企业信息与财务指标属于补充数据，失败只记录日志不中断
	if err := j.fillCompanyInfo(ctx, symbol, obs); err != nil {
		log.Printf("获取企业信息失败 %s: %v", symbol, err)
	}
	if err := j.fillFinancials(ctx, symbol, obs); err != nil {
		log.Printf("获取财务指标失败 %s: %v", symbol, err)
	}

	if err := validateObservation(obs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return obs, nil
}

// LatestBusinessDay 最近一个交易日(YYYY-MM-DD)
// 周末回退到周五；工作日15:00收盘前回退到前一交易日
func LatestBusinessDay(now time.Time) string {
	day := now
	if day.Hour() < 15 {
		day = day.AddDate(0, 0, -1)
	}
	for day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day.Format("2006-01-02")
}

// ---- 认证 ----

// ensureIDToken 确保内存中有可用的idToken
func (j *JQuantsFetcher) ensureIDToken(ctx context.Context) error {
	if j.idToken != "" {
		return nil
	}

	refresh, err := j.resolveRefreshToken(ctx)
	if err != nil {
		return err
	}

	idToken, err := j.exchangeIDToken(ctx, refresh)
	if err != nil {
		return err
	}
	j.idToken = idToken
	return nil
}

// resolveRefreshToken 按优先级解析刷新令牌
func (j *JQuantsFetcher) resolveRefreshToken(ctx context.Context) (string, error) {
	if j.refreshToken != "" {
		return j.refreshToken, nil
	}
	if j.tokenSource != nil {
		if tok, err := j.tokenSource(); err == nil && tok != "" {
			return tok, nil
		}
	}
	if j.email != "" && j.password != "" {
		return j.authUser(ctx)
	}
	return "", fmt.Errorf("%w: 未配置刷新令牌或邮箱密码", ErrAuth)
}

// authUser 邮箱密码认证换取刷新令牌
func (j *JQuantsFetcher) authUser(ctx context.Context) (string, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload := fmt.Sprintf(`{"mailaddress":%q,"password":%q}`, j.email, j.password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		j.baseURL+"/token/auth_user", strings.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("构建认证请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("请求认证接口失败: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: 邮箱或密码错误", ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Transient(fmt.Errorf("认证接口响应异常: HTTP %d", resp.StatusCode))
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", Transient(fmt.Errorf("解析认证响应失败: %w", err))
	}
	if body.RefreshToken == "" {
		return "", fmt.Errorf("%w: 认证响应缺少刷新令牌", ErrAuth)
	}
	return body.RefreshToken, nil
}

// exchangeIDToken 刷新令牌换取idToken
func (j *JQuantsFetcher) exchangeIDToken(ctx context.Context, refreshToken string) (string, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/token/auth_refresh?refreshtoken=%s",
		j.baseURL, url.QueryEscape(refreshToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("构建令牌请求失败: %w", err)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("请求令牌接口失败: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: 刷新令牌无效或已过期", ErrAuth)
	}
	if resp.StatusCode != http.StatusOK {
		return "", Transient(fmt.Errorf("令牌接口响应异常: HTTP %d", resp.StatusCode))
	}

	var body struct {
		IDToken string `json:"idToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", Transient(fmt.Errorf("解析令牌响应失败: %w", err))
	}
	if body.IDToken == "" {
		return "", fmt.Errorf("%w: 令牌响应缺少idToken", ErrAuth)
	}
	return body.IDToken, nil
}

// get 发送携带idToken的GET请求
// 401时清空idToken，下次请求重新换取
func (j *JQuantsFetcher) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if err := j.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := j.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("构建请求失败: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+j.idToken)

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("请求J-Quants失败: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		j.idToken = ""
		return nil, fmt.Errorf("%w: idToken已失效", ErrAuth)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transient(fmt.Errorf("J-Quants限流: HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, Transient(fmt.Errorf("J-Quants响应异常: HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("读取响应失败: %w", err))
	}
	return body, nil
}

// ---- 行情 ----

type dailyQuotesResponse struct {
	DailyQuotes []struct {
		Code            string   `json:"Code"`
		Date            string   `json:"Date"`
		Close           *float64 `json:"Close"`
		AdjustmentClose *float64 `json:"AdjustmentClose"`
		Volume          *float64 `json:"Volume"`
	} `json:"daily_quotes"`
}

// fetchDailyQuote 取指定日期的日线
// 目标日无数据时逐日回溯，目标日加最多7个日历日；周末照常查询(返回空)，
// 不占用回溯额度之外的天数
func (j *JQuantsFetcher) fetchDailyQuote(ctx context.Context, symbol, target string) (float64, string, int64, error) {
	start, err := time.Parse("2006-01-02", target)
	if err != nil {
		return 0, "", 0, fmt.Errorf("无效的查询日期 %s: %w", target, err)
	}

	for offset := 0; offset <= maxLookbackDays; offset++ {
		day := start.AddDate(0, 0, -offset)

		query := url.Values{}
		query.Set("code", symbol)
		query.Set("date", day.Format("2006-01-02"))
		body, err := j.get(ctx, "/prices/daily_quotes", query)
		if err != nil {
			return 0, "", 0, err
		}

		var quotes dailyQuotesResponse
		if err := json.Unmarshal(body, &quotes); err != nil {
			return 0, "", 0, Transient(fmt.Errorf("解析日线响应失败: %w", err))
		}

		for _, q := range quotes.DailyQuotes {
			// 优先采用复权收盘价
			closePrice := q.AdjustmentClose
			if closePrice == nil {
				closePrice = q.Close
			}
			if closePrice == nil {
				continue
			}
			var volume int64
			if q.Volume != nil {
				volume = int64(*q.Volume)
			}
			return *closePrice, day.Format("2006-01-02"), volume, nil
		}
	}
	return 0, "", 0, fmt.Errorf("%w: %s 目标日及之前%d天均无行情", ErrNotFound, symbol, maxLookbackDays)
}

// ---- 企业信息 ----

type listedInfoResponse struct {
	Info []struct {
		Code             string `json:"Code"`
		CompanyName      string `json:"CompanyName"`
		Sector33CodeName string `json:"Sector33CodeName"`
		MarketCode       string `json:"MarketCode"`
	} `json:"info"`
}

func (j *JQuantsFetcher) fillCompanyInfo(ctx context.Context, symbol string, obs *model.StockObservation) error {
	query := url.Values{}
	query.Set("code", symbol)
	body, err := j.get(ctx, "/listed/info", query)
	if err != nil {
		return err
	}

	var info listedInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("解析企业信息失败: %w", err)
	}
	if len(info.Info) == 0 {
		return nil
	}

	obs.CompanyName = info.Info[0].CompanyName
	obs.Sector = info.Info[0].Sector33CodeName
	obs.Market = MarketName(info.Info[0].MarketCode)
	return nil
}

// ---- 财务指标 ----

type statementsResponse struct {
	Statements []struct {
		DisclosedDate       string `json:"DisclosedDate"`
		TypeOfCurrentPeriod string `json:"TypeOfCurrentPeriod"`
		NetSales            string `json:"NetSales"`
		OperatingProfit     string `json:"OperatingProfit"`
		Profit              string `json:"Profit"`
		Equity              string `json:"Equity"`
		TotalAssets         string `json:"TotalAssets"`
		EquityToAssetRatio  string `json:"EquityToAssetRatio"`
		EarningsPerShare    string `json:"EarningsPerShare"`
		BookValuePerShare   string `json:"BookValuePerShare"`
	} `json:"statements"`
}

// fillFinancials 从决算短信推导财务指标
// 优先采用年度(FY)披露，缺失时回退到最新任意期别
func (j *JQuantsFetcher) fillFinancials(ctx context.Context, symbol string, obs *model.StockObservation) error {
	query := url.Values{}
	query.Set("code", symbol)
	body, err := j.get(ctx, "/fins/statements", query)
	if err != nil {
		return err
	}

	var stmts statementsResponse
	if err := json.Unmarshal(body, &stmts); err != nil {
		return fmt.Errorf("解析决算响应失败: %w", err)
	}
	if len(stmts.Statements) == 0 {
		return nil
	}

	chosen := -1
	for i, s := range stmts.Statements {
		if s.TypeOfCurrentPeriod != "FY" && s.TypeOfCurrentPeriod != "4Q" {
			continue
		}
		if chosen < 0 || s.DisclosedDate > stmts.Statements[chosen].DisclosedDate {
			chosen = i
		}
	}
	if chosen < 0 {
		for i, s := range stmts.Statements {
			if chosen < 0 || s.DisclosedDate > stmts.Statements[chosen].DisclosedDate {
				chosen = i
			}
		}
	}
	stmt := stmts.Statements[chosen]

	netSales := parseNumber(stmt.NetSales)
	operatingProfit := parseNumber(stmt.OperatingProfit)
	profit := parseNumber(stmt.Profit)
	equity := parseNumber(stmt.Equity)
	totalAssets := parseNumber(stmt.TotalAssets)
	eps := parseNumber(stmt.EarningsPerShare)
	bvps := parseNumber(stmt.BookValuePerShare)

	obs.NetSales = netSales
	obs.OperatingProfit = operatingProfit

	if equityRatio := parseNumber(stmt.EquityToAssetRatio); equityRatio != nil {
		ratio := normalizeRatio(*equityRatio)
		obs.EquityRatio = &ratio
	} else if equity != nil && totalAssets != nil && *totalAssets != 0 {
		ratio := *equity / *totalAssets
		obs.EquityRatio = &ratio
	}
	if profit != nil && equity != nil && *equity != 0 {
		roe := *profit / *equity
		obs.Roe = &roe
	}
	if profit != nil && totalAssets != nil && *totalAssets != 0 {
		roa := *profit / *totalAssets
		obs.Roa = &roa
	}
	// PER/PBR需要股价，使用同批次取得的收盘价
	if eps != nil && *eps != 0 && obs.Price > 0 {
		per := obs.Price / *eps
		obs.Per = &per
	}
	if bvps != nil && *bvps != 0 && obs.Price > 0 {
		pbr := obs.Price / *bvps
		obs.Pbr = &pbr
	}
	return nil
}

// parseNumber J-Quants数值字段为字符串，空串视为缺失
func parseNumber(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
