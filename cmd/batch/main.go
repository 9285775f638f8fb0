// cmd/batch/main.go
// 批量更新的一次性运行入口，供人工触发或外部编排使用
package main

import (
	"context"
	"flag"
	"log"
	"strings"

	"KabuRadar/pkg/batch"
	"KabuRadar/pkg/config"
	"KabuRadar/pkg/database"
	"KabuRadar/pkg/fetcher"
	"KabuRadar/pkg/messaging"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/stats"
	"KabuRadar/pkg/token"
)

func main() {
	var (
		symbolsFlag = flag.String("symbols", "", "证券代码列表，逗号分隔，为空处理全部注册企业")
		forceFlag   = flag.Bool("force", false, "忽略新鲜度检查强制更新")
		maxFlag     = flag.Int("max", 0, "处理企业数上限，0为不限")
		dateFlag    = flag.String("date", "", "查询日期(YYYY-MM-DD)，为空取最近交易日")
		sourceFlag  = flag.String("source", "", "数据源(yahoo/jquants)，覆盖配置文件")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *sourceFlag != "" {
		cfg.DataSources.Source = *sourceFlag
	}

	db, err := database.NewPostgres(cfg)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	var publisher batch.Publisher
	if cfg.NATS.URL != "" {
		natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID)
		if err != nil {
			log.Printf("警告: 连接NATS失败，事件发布已禁用: %v", err)
		} else {
			publisher = natsClient
			defer natsClient.Close()
		}
	}

	tokenManager := token.NewManager(db.Token())
	quoteFetcher, err := buildFetcher(cfg, tokenManager)
	if err != nil {
		log.Fatalf("初始化数据源失败: %v", err)
	}

	engine := reconcile.NewEngine(db)
	aggregator := stats.NewAggregator(db.Price(), db.Statistic())
	processor := batch.NewProcessor(
		db.Company(), db.Price(), engine, aggregator, quoteFetcher, publisher,
		cfg.Batch.StalenessDays, cfg.Batch.InterCallDelay, cfg.Batch.ProgressEvery,
	)

	opts := batch.Options{
		ForceUpdate:  *forceFlag,
		MaxCompanies: *maxFlag,
		Date:         *dateFlag,
	}
	if *symbolsFlag != "" {
		for _, symbol := range strings.Split(*symbolsFlag, ",") {
			if s := strings.TrimSpace(symbol); s != "" {
				opts.Symbols = append(opts.Symbols, s)
			}
		}
	}

	summary, err := processor.RunBatch(context.Background(), opts)
	if err != nil {
		log.Fatalf("批量更新失败: %v", err)
	}

	log.Printf("批量更新结束: run_id=%s total=%d success=%d skipped=%d conflict=%d error=%d elapsed=%.1fs",
		summary.RunID, summary.Total, summary.Success, summary.Skipped,
		summary.Conflict, summary.Error, summary.ElapsedSeconds)
	for _, result := range summary.Results {
		if result.Status != "success" {
			log.Printf("  [%s] %s: %s", result.Status, result.Symbol, result.Message)
		}
	}
}

// buildFetcher 按配置组装行情数据源
func buildFetcher(cfg *config.Config, tokenManager *token.Manager) (fetcher.QuoteFetcher, error) {
	jq := cfg.DataSources.JQuants
	switch cfg.DataSources.Source {
	case "jquants":
		user := jq.Email
		if user == "" {
			user = "default"
		}
		source := func() (string, error) {
			rec, err := tokenManager.GetActive(user)
			if err != nil {
				return "", err
			}
			return rec.RefreshToken, nil
		}
		return fetcher.NewJQuantsFetcher(
			jq.BaseURL, jq.Email, jq.Password, jq.RefreshToken,
			jq.RatePerSec, jq.Timeout, source,
		), nil
	default:
		return fetcher.NewYahooFetcher(cfg.DataSources.Yahoo.BaseURL, cfg.DataSources.Yahoo.Timeout), nil
	}
}
