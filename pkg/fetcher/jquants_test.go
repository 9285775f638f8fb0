// pkg/fetcher/jquants_test.go
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLatestBusinessDay(t *testing.T) {
	cases := []struct {
		name string
		now  time.Time
		want string
	}{
		{"周三收盘后", time.Date(2024, 1, 17, 16, 0, 0, 0, time.UTC), "2024-01-17"},
		{"周三收盘前回退", time.Date(2024, 1, 17, 10, 0, 0, 0, time.UTC), "2024-01-16"},
		{"周六回退到周五", time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC), "2024-01-19"},
		{"周日回退到周五", time.Date(2024, 1, 21, 12, 0, 0, 0, time.UTC), "2024-01-19"},
		{"周一收盘前回退到周五", time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC), "2024-01-19"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, LatestBusinessDay(tc.now))
		})
	}
}

// newJQuantsTestServer 模拟J-Quants接口
// quotesByDate 为按日期返回的收盘价，缺失日期返回空列表
func newJQuantsTestServer(t *testing.T, quotesByDate map[string]float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/auth_refresh":
			require.Equal(t, http.MethodPost, r.Method)
			if r.URL.Query().Get("refreshtoken") != "valid-refresh" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fmt.Fprint(w, `{"idToken":"test-id-token"}`)
		case "/prices/daily_quotes":
			require.Equal(t, "Bearer test-id-token", r.Header.Get("Authorization"))
			date := r.URL.Query().Get("date")
			if close, ok := quotesByDate[date]; ok {
				fmt.Fprintf(w, `{"daily_quotes":[{"Code":"72030","Date":%q,"Close":%f,"AdjustmentClose":%f,"Volume":50000}]}`,
					date, close, close)
			} else {
				fmt.Fprint(w, `{"daily_quotes":[]}`)
			}
		case "/listed/info":
			fmt.Fprint(w, `{"info":[{"Code":"72030","CompanyName":"トヨタ自動車","Sector33CodeName":"輸送用機器","MarketCode":"0101"}]}`)
		case "/fins/statements":
			fmt.Fprint(w, `{"statements":[
				{"DisclosedDate":"2024-02-06","TypeOfCurrentPeriod":"3Q","Profit":"2000","Equity":"30000","TotalAssets":"80000","NetSales":"33000","OperatingProfit":"4000","EarningsPerShare":"","BookValuePerShare":""},
				{"DisclosedDate":"2023-05-10","TypeOfCurrentPeriod":"FY","Profit":"2450","Equity":"28000","TotalAssets":"74000","NetSales":"37000","OperatingProfit":"2725","EarningsPerShare":"179.47","BookValuePerShare":"2089.08"}
			]}`)
		default:
			t.Errorf("未预期的请求路径: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func newTestJQuantsFetcher(server *httptest.Server, refreshToken string) *JQuantsFetcher {
	j := NewJQuantsFetcher(server.URL, "", "", refreshToken, 1000, time.Second, nil)
	j.retry = noSleepPolicy()
	j.now = func() time.Time { return time.Date(2024, 1, 17, 16, 0, 0, 0, time.UTC) }
	return j
}

func TestJQuantsFetchWithFinancials(t *testing.T) {
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-17": 2500.0})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "valid-refresh")
	obs, err := j.Fetch(context.Background(), "7203", "")
	require.NoError(t, err)

	require.Equal(t, "7203", obs.Symbol)
	require.InDelta(t, 2500.0, obs.Price, 1e-9)
	require.EqualValues(t, 50000, obs.Volume)
	require.Equal(t, "2024-01-17", obs.PriceDate)
	require.Equal(t, "jquants", obs.DataSource)

	// 企业信息
	require.Equal(t, "トヨタ自動車", obs.CompanyName)
	require.Equal(t, "輸送用機器", obs.Sector)
	require.Equal(t, "東証プライム", obs.Market)

	// 年度披露优先于更新的3Q披露
	require.True(t, obs.HasFinancials())
	require.InDelta(t, 2450.0/28000.0, *obs.Roe, 1e-9)
	require.InDelta(t, 2450.0/74000.0, *obs.Roa, 1e-9)
	require.InDelta(t, 28000.0/74000.0, *obs.EquityRatio, 1e-9)
	require.InDelta(t, 37000.0, *obs.NetSales, 1e-9)
	require.InDelta(t, 2500.0/179.47, *obs.Per, 1e-6)
	require.InDelta(t, 2500.0/2089.08, *obs.Pbr, 1e-6)
}

func TestJQuantsWalkbackToEarlierDay(t *testing.T) {
	// 17日(周三)停牌无数据，16日有
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-16": 2480.0})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "valid-refresh")
	obs, err := j.Fetch(context.Background(), "7203", "")
	require.NoError(t, err)
	require.Equal(t, "2024-01-16", obs.PriceDate)
	require.InDelta(t, 2480.0, obs.Price, 1e-9)
}

func TestJQuantsWalkbackFullWindow(t *testing.T) {
	// 目标日为周一，数据只在整7天前的上周一；中间的周末也照常查询，
	// 不得吞掉回溯额度
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-08": 2450.0})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "valid-refresh")
	obs, err := j.Fetch(context.Background(), "7203", "2024-01-15")
	require.NoError(t, err)
	require.Equal(t, "2024-01-08", obs.PriceDate)
	require.InDelta(t, 2450.0, obs.Price, 1e-9)
}

func TestJQuantsWalkbackStopsBeyondWindow(t *testing.T) {
	// 8天前的数据超出回溯窗口
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-07": 2450.0})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "valid-refresh")
	_, err := j.Fetch(context.Background(), "7203", "2024-01-15")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJQuantsNoQuotesWithinLookback(t *testing.T) {
	server := newJQuantsTestServer(t, map[string]float64{})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "valid-refresh")
	_, err := j.Fetch(context.Background(), "7203", "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestJQuantsInvalidRefreshToken(t *testing.T) {
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-17": 2500.0})
	defer server.Close()

	j := newTestJQuantsFetcher(server, "bad-refresh")
	_, err := j.Fetch(context.Background(), "7203", "")
	require.ErrorIs(t, err, ErrAuth)
}

func TestJQuantsMissingCredentials(t *testing.T) {
	server := newJQuantsTestServer(t, nil)
	defer server.Close()

	j := newTestJQuantsFetcher(server, "")
	_, err := j.Fetch(context.Background(), "7203", "")
	require.ErrorIs(t, err, ErrAuth)
}

func TestJQuantsTokenSourceFallback(t *testing.T) {
	server := newJQuantsTestServer(t, map[string]float64{"2024-01-17": 2500.0})
	defer server.Close()

	j := NewJQuantsFetcher(server.URL, "", "", "", 1000, time.Second,
		func() (string, error) { return "valid-refresh", nil })
	j.retry = noSleepPolicy()
	j.now = func() time.Time { return time.Date(2024, 1, 17, 16, 0, 0, 0, time.UTC) }

	obs, err := j.Fetch(context.Background(), "7203", "")
	require.NoError(t, err)
	require.InDelta(t, 2500.0, obs.Price, 1e-9)
}

func TestJQuantsAuthUserFlow(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token/auth_user":
			fmt.Fprint(w, `{"refreshToken":"valid-refresh"}`)
		case "/token/auth_refresh":
			require.Equal(t, "valid-refresh", r.URL.Query().Get("refreshtoken"))
			fmt.Fprint(w, `{"idToken":"test-id-token"}`)
		case "/prices/daily_quotes":
			fmt.Fprint(w, `{"daily_quotes":[{"Code":"72030","Date":"2024-01-17","Close":2500.0,"AdjustmentClose":2500.0,"Volume":50000}]}`)
		case "/listed/info":
			fmt.Fprint(w, `{"info":[]}`)
		case "/fins/statements":
			fmt.Fprint(w, `{"statements":[]}`)
		}
	}))
	defer server.Close()

	j := NewJQuantsFetcher(server.URL, "user@example.com", "secret", "", 1000, time.Second, nil)
	j.retry = noSleepPolicy()
	j.now = func() time.Time { return time.Date(2024, 1, 17, 16, 0, 0, 0, time.UTC) }

	obs, err := j.Fetch(context.Background(), "7203", "")
	require.NoError(t, err)
	require.InDelta(t, 2500.0, obs.Price, 1e-9)
	require.False(t, obs.HasFinancials())
}
