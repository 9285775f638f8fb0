// pkg/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"KabuRadar/pkg/batch"
	"KabuRadar/pkg/token"
)

// Scheduler 定时任务调度器
// 工作日收盘后批量更新 + 每日凌晨令牌清理
type Scheduler struct {
	cron      *cron.Cron
	processor *batch.Processor
	tokens    *token.Manager
}

// NewScheduler 创建调度器
func NewScheduler(processor *batch.Processor, tokens *token.Manager) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		processor: processor,
		tokens:    tokens,
	}
}

// Start 注册任务并启动调度
func (s *Scheduler) Start() error {
	// 工作日18:00批量更新，此时收盘数据已稳定
	if _, err := s.cron.AddFunc("0 18 * * 1-5", s.runNightlyBatch); err != nil {
		return err
	}

	// 每日04:00清理失效令牌
	if _, err := s.cron.AddFunc("0 4 * * *", s.runTokenCleanup); err != nil {
		return err
	}

	s.cron.Start()
	log.Println("定时任务调度器已启动")
	return nil
}

// Stop 停止调度，等待运行中的任务结束
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("定时任务调度器已停止")
}

func (s *Scheduler) runNightlyBatch() {
	log.Println("定时批量更新开始")
	summary, err := s.processor.RunBatch(context.Background(), batch.Options{})
	if err != nil {
		log.Printf("定时批量更新失败: %v", err)
		return
	}
	log.Printf("定时批量更新完成: run_id=%s success=%d error=%d",
		summary.RunID, summary.Success, summary.Error)
}

func (s *Scheduler) runTokenCleanup() {
	purged, err := s.tokens.Cleanup()
	if err != nil {
		log.Printf("令牌清理失败: %v", err)
		return
	}
	log.Printf("令牌清理完成: 删除%d条", purged)
}
