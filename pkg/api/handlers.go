// pkg/api/handlers.go
package api

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"KabuRadar/pkg/batch"
	"KabuRadar/pkg/database"
	"KabuRadar/pkg/model"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/token"
)

// symbolPattern 日股证券代码为4位数字
var symbolPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Handlers API处理器集合
type Handlers struct {
	companies  database.CompanyStore
	prices     database.PriceStore
	financials database.FinancialStore
	statistics database.StatisticStore
	engine     *reconcile.Engine
	processor  *batch.Processor
	tokens     *token.Manager

	// defaultUser 未指定用户标识时使用的令牌归属
	defaultUser string
}

// NewHandlers 创建处理器集合
func NewHandlers(
	companies database.CompanyStore,
	prices database.PriceStore,
	financials database.FinancialStore,
	statistics database.StatisticStore,
	engine *reconcile.Engine,
	processor *batch.Processor,
	tokens *token.Manager,
	defaultUser string,
) *Handlers {
	if defaultUser == "" {
		defaultUser = "default"
	}
	return &Handlers{
		companies:   companies,
		prices:      prices,
		financials:  financials,
		statistics:  statistics,
		engine:      engine,
		processor:   processor,
		tokens:      tokens,
		defaultUser: defaultUser,
	}
}

// HealthCheck 健康检查
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "kaburadar",
	})
}

// ReadinessCheck 就绪检查
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	// 存储可达即视为就绪
	if _, err := h.companies.Search("", "", ""); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ---- 企业接口 ----

type registerCompanyRequest struct {
	Symbol string `json:"symbol" binding:"required"`
	Name   string `json:"name" binding:"required"`
	Sector string `json:"sector"`
	Market string `json:"market"`
	// FetchData 注册后立即取一次行情
	FetchData bool `json:"fetch_data"`
}

// RegisterCompany 注册企业
func (h *Handlers) RegisterCompany(c *gin.Context) {
	var req registerCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}

	req.Symbol = strings.TrimSpace(req.Symbol)
	if !symbolPattern.MatchString(req.Symbol) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "证券代码必须为4位数字"})
		return
	}

	if _, err := h.companies.GetBySymbol(req.Symbol); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "证券代码已注册: " + req.Symbol})
		return
	} else if !errors.Is(err, database.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	company := &model.Company{
		Symbol: req.Symbol,
		Name:   req.Name,
		Sector: req.Sector,
		Market: req.Market,
	}
	if err := h.companies.Create(company); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// 立即取数为尽力而为，失败只随响应返回结果
	if req.FetchData {
		result, err := h.processor.ProcessOne(c.Request.Context(), company.Symbol, batch.Options{})
		if err != nil {
			c.JSON(http.StatusCreated, gin.H{"company": company, "fetch_error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"company": company, "fetch_result": result})
		return
	}
	c.JSON(http.StatusCreated, company)
}

// ListCompanies 企业列表查询，附带最新行情快照
func (h *Handlers) ListCompanies(c *gin.Context) {
	companies, err := h.companies.Search(
		c.Query("symbol"), c.Query("name"), c.Query("sector"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	payload := make([]gin.H, 0, len(companies))
	for _, company := range companies {
		payload = append(payload, h.companyPayload(company, 0))
	}
	c.JSON(http.StatusOK, gin.H{
		"total":     len(payload),
		"companies": payload,
	})
}

// GetCompany 企业详情，附带股价历史
func (h *Handlers) GetCompany(c *gin.Context) {
	company, ok := h.resolveCompany(c)
	if !ok {
		return
	}

	limit := 30
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	c.JSON(http.StatusOK, h.companyPayload(company, limit))
}

// companyPayload 跨实体组装企业视图：企业 + 最新股价 + 财务指标 + 统计
// 不依赖join，每个实体单独查询后在应用内拼装
func (h *Handlers) companyPayload(company *model.Company, historyLimit int) gin.H {
	payload := gin.H{
		"id":     company.ID,
		"symbol": company.Symbol,
		"name":   company.Name,
		"sector": company.Sector,
		"market": company.Market,
	}

	if latest, err := h.prices.GetLatest(company.ID); err == nil {
		payload["latest_price"] = gin.H{
			"price":      latest.Price,
			"volume":     latest.Volume,
			"price_date": latest.PriceDate,
		}
	}
	if metrics, err := h.financials.GetLatest(company.ID); err == nil {
		payload["financial_metrics"] = metrics
	}
	if stats, err := h.statistics.Get(company.ID, ""); err == nil && len(stats) > 0 {
		payload["statistics"] = stats
	}
	if historyLimit > 0 {
		if history, err := h.prices.GetHistory(company.ID, historyLimit); err == nil {
			payload["price_history"] = history
		}
	}
	return payload
}

// ---- 批量更新接口 ----

type triggerBatchRequest struct {
	Symbols      []string `json:"symbols"`
	ForceUpdate  bool     `json:"force_update"`
	MaxCompanies int      `json:"max_companies"`
	Date         string   `json:"date"`
}

// TriggerBatch 触发批量更新，同步执行并返回汇总
func (h *Handlers) TriggerBatch(c *gin.Context) {
	var req triggerBatchRequest
	// 空请求体表示全量默认参数
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
			return
		}
	}

	summary, err := h.processor.RunBatch(c.Request.Context(), batch.Options{
		Symbols:      req.Symbols,
		ForceUpdate:  req.ForceUpdate,
		MaxCompanies: req.MaxCompanies,
		Date:         req.Date,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// FetchOne 按需更新单个企业
func (h *Handlers) FetchOne(c *gin.Context) {
	symbol := c.Param("symbol")
	force := c.Query("force") == "true"

	result, err := h.processor.ProcessOne(c.Request.Context(), symbol, batch.Options{
		ForceUpdate: force,
		Date:        c.Query("date"),
	})
	if err != nil {
		if strings.Contains(err.Error(), "未注册") {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ---- 冲突裁决接口 ----

type forceUpdateRequest struct {
	Symbol    string   `json:"symbol" binding:"required"`
	PriceDate string   `json:"price_date" binding:"required"`
	Price     float64  `json:"price" binding:"required"`
	Volume    *int64   `json:"volume"`
}

// ForceUpdatePrice 管理性强制覆盖股价记录，用于冲突裁决
func (h *Handlers) ForceUpdatePrice(c *gin.Context) {
	var req forceUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}
	if req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "价格必须为正数"})
		return
	}

	company, err := h.companies.GetBySymbol(req.Symbol)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "证券代码未注册: " + req.Symbol})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	key := reconcile.Row{"company_id": company.ID, "price_date": req.PriceDate}
	fields := reconcile.Row{"price": req.Price}
	if req.Volume != nil {
		fields["volume"] = *req.Volume
	}

	if err := h.engine.ForceUpdate(reconcile.PriceDescriptor, key, fields); err != nil {
		if errors.Is(err, reconcile.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "目标股价记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"symbol":     req.Symbol,
		"price_date": req.PriceDate,
	})
}

// ---- 令牌接口 ----

type saveTokenRequest struct {
	RefreshToken   string `json:"refresh_token" binding:"required"`
	UserIdentifier string `json:"user_identifier"`
	PlanType       string `json:"plan_type"`
}

// SaveToken 登记刷新令牌
func (h *Handlers) SaveToken(c *gin.Context) {
	var req saveTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数无效: " + err.Error()})
		return
	}
	user := req.UserIdentifier
	if user == "" {
		user = h.defaultUser
	}

	rec, err := h.tokens.Save(user, req.RefreshToken, req.PlanType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"expires_at":  rec.ExpiresAt,
		"expiry_info": h.tokens.CheckExpiry(user),
	})
}

// TokenStatus 令牌有效期状态查询
func (h *Handlers) TokenStatus(c *gin.Context) {
	user := c.Query("user_identifier")
	if user == "" {
		user = h.defaultUser
	}

	info := h.tokens.CheckExpiry(user)
	payload := gin.H{
		"has_token":   info.Status != model.TokenStatusNotFound,
		"expiry_info": info,
	}
	// 令牌本体不外泄，只展示元数据
	if rec, err := h.tokens.NewestActive(user); err == nil {
		payload["token_info"] = gin.H{
			"plan_type":    rec.PlanType,
			"created_at":   rec.CreatedAt,
			"expires_at":   rec.ExpiresAt,
			"last_used_at": rec.LastUsedAt,
		}
	}
	c.JSON(http.StatusOK, payload)
}

// ---- 统计接口 ----

// GetStatistics 价格统计查询
func (h *Handlers) GetStatistics(c *gin.Context) {
	company, ok := h.resolveCompany(c)
	if !ok {
		return
	}

	periodType := model.PeriodType(c.Query("period_type"))
	switch periodType {
	case "", model.PeriodMonthly, model.PeriodYearly, model.PeriodAllTime:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "未知的统计周期类型"})
		return
	}

	stats, err := h.statistics.Get(company.ID, periodType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":     company.Symbol,
		"statistics": stats,
	})
}

// resolveCompany 从路径参数解析企业，未注册时响应404
func (h *Handlers) resolveCompany(c *gin.Context) (*model.Company, bool) {
	symbol := c.Param("symbol")
	company, err := h.companies.GetBySymbol(symbol)
	if err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "证券代码未注册: " + symbol})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return company, true
}
