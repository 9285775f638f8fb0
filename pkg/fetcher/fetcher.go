// pkg/fetcher/fetcher.go
package fetcher

import (
	"context"
	"time"

	"KabuRadar/pkg/model"
)

// MaxReasonablePrice 单股价格上限，超出视为数据异常
const MaxReasonablePrice = 1000000.0

// QuoteFetcher 行情数据获取接口
// asOfDate为空时取数据源最新记录，格式YYYY-MM-DD
type QuoteFetcher interface {
	// Name 数据源标识(yahoo/jquants)
	Name() string
	// Fetch 获取单只证券的行情观测
	Fetch(ctx context.Context, symbol string, asOfDate string) (*model.StockObservation, error)
}

// marketNames 市场代码到日文名称的映射(J-Quants市场区分)
var marketNames = map[string]string{
	"0101": "東証プライム",
	"0102": "東証スタンダード",
	"0104": "東証グロース",
	"0105": "TOKYO PRO MARKET",
	"0106": "名証プレミア",
	"0107": "名証メイン",
	"0108": "名証ネクスト",
	"0109": "札証",
	"0110": "札証アンビシャス",
	"0111": "福証",
	"0112": "福証Q-Board",
}

// MarketName 市场代码转名称，未知代码原样返回
func MarketName(code string) string {
	if name, ok := marketNames[code]; ok {
		return name
	}
	return code
}

// normalizeRatio 比率统一为小数，百分数形式(>1)折算
func normalizeRatio(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// validateObservation 入库前的行情校验
// 价格必须为正且不超过上限，日期必须是合法的YYYY-MM-DD
func validateObservation(obs *model.StockObservation) error {
	if obs.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "为空"}
	}
	if obs.Price <= 0 {
		return &ValidationError{Field: "price", Reason: "必须为正数"}
	}
	if obs.Price > MaxReasonablePrice {
		return &ValidationError{Field: "price", Reason: "超过合理上限"}
	}
	if obs.Volume < 0 {
		return &ValidationError{Field: "volume", Reason: "不能为负数"}
	}
	if _, err := time.Parse("2006-01-02", obs.PriceDate); err != nil {
		return &ValidationError{Field: "price_date", Reason: "日期格式无效"}
	}
	return nil
}
