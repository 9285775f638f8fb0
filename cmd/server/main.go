// cmd/server/main.go
package main

import (
	"fmt"
	"log"

	"KabuRadar/pkg/api"
	"KabuRadar/pkg/batch"
	"KabuRadar/pkg/config"
	"KabuRadar/pkg/database"
	"KabuRadar/pkg/fetcher"
	"KabuRadar/pkg/messaging"
	"KabuRadar/pkg/reconcile"
	"KabuRadar/pkg/scheduler"
	"KabuRadar/pkg/stats"
	"KabuRadar/pkg/token"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("KabuRadar启动: env=%s source=%s", cfg.App.Env, cfg.DataSources.Source)

	// 连接数据库
	db, err := database.NewPostgres(cfg)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}
	defer db.Close()

	// NATS可选：未配置时跳过，事件只记日志不发布
	var publisher batch.Publisher
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsClient, err = messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID)
		if err != nil {
			log.Printf("警告: 连接NATS失败，事件发布已禁用: %v", err)
		} else {
			publisher = natsClient
			defer natsClient.Close()
		}
	}

	// 令牌管理
	tokenManager := token.NewManager(db.Token())

	// 按配置选择数据源
	quoteFetcher, err := buildFetcher(cfg, tokenManager)
	if err != nil {
		log.Fatalf("初始化数据源失败: %v", err)
	}
	log.Printf("行情数据源: %s", quoteFetcher.Name())

	// 对账引擎与统计聚合
	engine := reconcile.NewEngine(db)
	aggregator := stats.NewAggregator(db.Price(), db.Statistic())

	// 批处理编排
	processor := batch.NewProcessor(
		db.Company(), db.Price(), engine, aggregator, quoteFetcher, publisher,
		cfg.Batch.StalenessDays, cfg.Batch.InterCallDelay, cfg.Batch.ProgressEvery,
	)

	// 定时任务
	sched := scheduler.NewScheduler(processor, tokenManager)
	if err := sched.Start(); err != nil {
		log.Fatalf("启动定时任务失败: %v", err)
	}
	defer sched.Stop()

	// API服务器
	handlers := api.NewHandlers(
		db.Company(), db.Price(), db.Financial(), db.Statistic(),
		engine, processor, tokenManager, cfg.DataSources.JQuants.Email,
	)
	server := api.NewServer(cfg.API.Port, cfg.API.ReadTimeout, cfg.API.WriteTimeout)
	server.SetupRoutes(handlers)
	server.Start()
}

// buildFetcher 按配置组装行情数据源
func buildFetcher(cfg *config.Config, tokenManager *token.Manager) (fetcher.QuoteFetcher, error) {
	jq := cfg.DataSources.JQuants
	switch cfg.DataSources.Source {
	case "yahoo":
		return fetcher.NewYahooFetcher(cfg.DataSources.Yahoo.BaseURL, cfg.DataSources.Yahoo.Timeout), nil
	case "jquants":
		user := jq.Email
		if user == "" {
			user = "default"
		}
		// 持久化令牌作为配置缺失时的后备来源
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
		return nil, fmt.Errorf("未知的数据源: %s", cfg.DataSources.Source)
	}
}
