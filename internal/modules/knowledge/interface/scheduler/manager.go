package scheduler

import (
	"context"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// maintenanceTimeout 单次维护任务（落盘或重建）的时间预算
const maintenanceTimeout = 10 * time.Minute

// IndexMaintainer 索引后台维护：周期落盘快照；墓碑占比超阈值时触发重建。
// 重建与落盘共用索引的单写者互斥，不会与在线写入撕裂
type IndexMaintainer struct {
	cron  *cron.Cron
	index repository.VectorIndex
}

func NewIndexMaintainer(index repository.VectorIndex) *IndexMaintainer {
	// 标准5段Cron表达式（不含秒）
	return &IndexMaintainer{cron: cron.New(), index: index}
}

// Start 注册并启动维护任务，checkpointCron 为空时用默认每10分钟
func (m *IndexMaintainer) Start(checkpointCron string) error {
	if checkpointCron == "" {
		checkpointCron = "*/10 * * * *"
	}
	if _, err := m.cron.AddFunc(checkpointCron, m.runMaintenance); err != nil {
		return err
	}
	m.cron.Start()
	zlog.Info("索引维护调度已启动", zap.String("cron", checkpointCron))
	return nil
}

// Stop 停止调度并等待在跑的任务结束
func (m *IndexMaintainer) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
}

func (m *IndexMaintainer) runMaintenance() {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	// 先判断是否需要重建：重建完紧跟一次落盘，快照里就没有墓碑了
	if m.index.NeedsRebuild() {
		start := time.Now()
		if err := m.index.Rebuild(ctx); err != nil {
			zlog.Error("索引重建失败", zap.Error(err))
		} else {
			zlog.Info("索引重建完成", zap.Duration("elapsed", time.Since(start)))
		}
	}

	if err := m.index.Persist(ctx); err != nil {
		zlog.Error("索引快照落盘失败", zap.Error(err))
		return
	}
	stats := m.index.Stats()
	zlog.Info("索引快照已落盘",
		zap.Int("totalEntries", stats.TotalEntries),
		zap.Int("tombstones", stats.Tombstones))
}
