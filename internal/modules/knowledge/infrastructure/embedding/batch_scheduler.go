package embedding

import (
	"context"
	"fmt"

	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"github.com/cloudwego/eino/components/embedding"
	"go.uber.org/zap"
)

// BatchScheduler 内存感知的嵌入批处理调度器。
// 在软水位之上逐次减半批次并强制释放内存；最小批次下连续两次越过硬水位
// 则放弃本次任务并返回资源耗尽错误。向量顺序与输入文本一一对应
type BatchScheduler struct {
	embedder embedding.Embedder
	monitor  MemoryMonitor

	dim          int
	softLimitMB  int
	hardLimitMB  int
	maxBatchSize int
	minBatchSize int
}

type BatchSchedulerConfig struct {
	Dim          int
	SoftLimitMB  int
	HardLimitMB  int
	MaxBatchSize int
	MinBatchSize int
}

func NewBatchScheduler(embedder embedding.Embedder, monitor MemoryMonitor, cfg BatchSchedulerConfig) *BatchScheduler {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = 1
	}
	if cfg.MinBatchSize > cfg.MaxBatchSize {
		cfg.MinBatchSize = cfg.MaxBatchSize
	}
	return &BatchScheduler{
		embedder:     embedder,
		monitor:      monitor,
		dim:          cfg.Dim,
		softLimitMB:  cfg.SoftLimitMB,
		hardLimitMB:  cfg.HardLimitMB,
		maxBatchSize: cfg.MaxBatchSize,
		minBatchSize: cfg.MinBatchSize,
	}
}

// EmbedTexts 将全部文本按批嵌入，返回与输入等长、顺序一致的向量表
func (s *BatchScheduler) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	batchSize := s.maxBatchSize
	strikes := 0

	for offset := 0; offset < len(texts); {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// 软水位之上先收缩批次，把空闲内存还给系统后再试
		for s.monitor.UsedMB() > s.softLimitMB && batchSize > s.minBatchSize {
			batchSize = batchSize / 2
			if batchSize < s.minBatchSize {
				batchSize = s.minBatchSize
			}
			zlog.Warn("内存超过软水位，收缩嵌入批次",
				zap.Int("usedMB", s.monitor.UsedMB()),
				zap.Int("softLimitMB", s.softLimitMB),
				zap.Int("batchSize", batchSize))
			s.monitor.ForceRelease()
		}

		// 已到最小批次仍越过硬水位：记一次 strike，连续两次就放弃
		if batchSize <= s.minBatchSize && s.monitor.UsedMB() > s.hardLimitMB {
			strikes++
			zlog.Warn("最小批次下仍超过硬水位",
				zap.Int("usedMB", s.monitor.UsedMB()),
				zap.Int("hardLimitMB", s.hardLimitMB),
				zap.Int("strikes", strikes))
			if strikes >= 2 {
				return nil, xerr.ErrResourceExhausted
			}
			s.monitor.ForceRelease()
			continue
		}
		strikes = 0

		end := offset + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		vectors, err := s.embedder.EmbedStrings(ctx, texts[offset:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", offset, end, err)
		}
		if len(vectors) != end-offset {
			return nil, fmt.Errorf("embed batch [%d:%d]: got %d vectors", offset, end, len(vectors))
		}

		for i, vec := range vectors {
			if s.dim > 0 && len(vec) != s.dim {
				return nil, xerr.Wrap(xerr.ErrDimensionMismatch,
					fmt.Sprintf("文本 %d 返回 %d 维，期望 %d 维", offset+i, len(vec), s.dim))
			}
			converted := make([]float32, len(vec))
			for j, v := range vec {
				converted[j] = float32(v)
			}
			out = append(out, converted)
		}
		offset = end
	}

	return out, nil
}
