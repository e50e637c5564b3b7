package queue

import (
	"context"
	"errors"

	"KnowledgeHub/internal/modules/knowledge/application/service"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/mq"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

// IngestConsumerWorker 异步入库消费端：从 Kafka 拉取入库事件，
// 交给 IngestService 落地。处理失败不提交位点，等下一轮重试
type IngestConsumerWorker struct {
	consumer mq.Consumer
	ingest   *service.IngestService
}

func NewIngestConsumerWorker(consumer mq.Consumer, ingest *service.IngestService) *IngestConsumerWorker {
	return &IngestConsumerWorker{consumer: consumer, ingest: ingest}
}

func (w *IngestConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.ingest == nil {
		return errors.New("ingest service is nil")
	}
	return w.consumer.Run(ctx, w)
}

func (w *IngestConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	if len(msg.Value) == 0 {
		zlog.Warn("入库事件消息体为空，丢弃", zap.String("topic", msg.Topic))
		return nil
	}
	return w.ingest.HandleIngestEvent(ctx, msg.Value)
}

func (w *IngestConsumerWorker) Close() error {
	if w == nil || w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}

var _ mq.Handler = (*IngestConsumerWorker)(nil)
