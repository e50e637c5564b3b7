package pipeline

import (
	"context"
	"fmt"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/contextfold"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/embedding"

	"github.com/cloudwego/eino/compose"
)

// 降级原因码（答案为空或退化时给前端的机器可读标识）
const (
	ReasonNone             = ""
	ReasonEmbeddingFailed  = "embedding_failed"
	ReasonIndexEmpty       = "index_empty"
	ReasonNoEligibleResult = "no_eligible_result"
)

// QueryRequest 检索 Pipeline 的输入
type QueryRequest struct {
	Identity  kb.Identity // 请求者身份（从 JWT 提取，权限过滤的唯一依据）
	SessionID string      // 会话 ID，空表示单轮独立提问
	Question  string      // 用户问题（必填）
	TopK      int         // 返回条数（默认 5，范围 1-50）
}

// QueryResult 检索 Pipeline 的输出
type QueryResult struct {
	QueryID        string               // 本次查询唯一 ID（日志回放用）
	Question       string               // 原始问题
	EffectiveQuery string               // 折叠会话历史后的有效查询
	Results        []kb.RetrievalResult // 权限过滤并截断后的命中（喂给生成器）
	Redacted       []kb.RetrievalResult // 面向 UI 的来源列表（viewer 为空）
	Truncated      bool                 // 过采样后仍凑不满 TopK
	ReasonCode     string               // 降级原因码，正常为空串
	TotalHits      int                  // 过滤前的原始命中数
	DurationMs     int64
	EmbeddingMs    int64
	SearchMs       int64
	FilterMs       int64
}

// QueryPipeline 检索编排（基于 Eino compose.Graph）。
//
// 设计原则：
// 1. 只依赖 domain 层接口，不直接依赖索引实现
// 2. 权限过滤内建在 Pipeline 里，任何出口都先过 access.Filter
// 3. 过采样 k*multiplier 条候选，过滤后截断到 k，不足则打 Truncated 标记
// 4. 观测优先：query_id、各阶段耗时、命中数都在结果里
type QueryPipeline struct {
	folder     *contextfold.Manager
	scheduler  *embedding.BatchScheduler
	index      repository.VectorIndex
	docRepo    repository.DocumentRepository
	multiplier int
	r          compose.Runnable[*QueryRequest, *QueryResult]
}

func NewQueryPipeline(
	folder *contextfold.Manager,
	scheduler *embedding.BatchScheduler,
	index repository.VectorIndex,
	docRepo repository.DocumentRepository,
	multiplier int,
) (*QueryPipeline, error) {
	if folder == nil {
		return nil, fmt.Errorf("context folder is nil")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("batch scheduler is nil")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is nil")
	}
	if docRepo == nil {
		return nil, fmt.Errorf("document repository is nil")
	}
	if multiplier < 1 {
		multiplier = 2
	}
	p := &QueryPipeline{
		folder:     folder,
		scheduler:  scheduler,
		index:      index,
		docRepo:    docRepo,
		multiplier: multiplier,
	}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Query 执行一次检索（封装 Eino Runnable.Invoke）
func (p *QueryPipeline) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	if req == nil {
		return nil, fmt.Errorf("query request is nil")
	}
	if p.r == nil {
		return nil, fmt.Errorf("pipeline runnable is nil")
	}
	return p.r.Invoke(ctx, req)
}

// normalizeTopK 默认 5，范围 1-50
func normalizeTopK(topK int) int {
	if topK <= 0 {
		return 5
	}
	if topK > 50 {
		return 50
	}
	return topK
}
