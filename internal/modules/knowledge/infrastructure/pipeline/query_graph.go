package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/access"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/util"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// queryState 检索 Pipeline 的中间状态（在节点间传递）
type queryState struct {
	Req            *QueryRequest
	EffectiveQuery string                 // 折叠会话历史后的有效查询
	QueryVec       []float32              // 查询向量
	Hits           []repository.SearchHit // 索引原始命中（过采样）
	Results        []kb.RetrievalResult   // 权限过滤并截断后的命中
	Redacted       []kb.RetrievalResult   // 面向 UI 的来源列表
	Truncated      bool
	ReasonCode     string
	Start          time.Time
	EmbeddingMs    int64
	SearchMs       int64
	FilterMs       int64
	Err            error
}

// buildGraph 构建检索 Pipeline 的 Eino Graph
//
// 节点顺序：Validate → FoldContext → EmbedQuery → SearchVector → FilterResults → BuildResult
func (p *QueryPipeline) buildGraph(ctx context.Context) (compose.Runnable[*QueryRequest, *QueryResult], error) {
	const (
		Validate      = "Validate"
		FoldContext   = "FoldContext"
		EmbedQuery    = "EmbedQuery"
		SearchVector  = "SearchVector"
		FilterResults = "FilterResults"
		BuildResult   = "BuildResult"
	)
	g := compose.NewGraph[*QueryRequest, *QueryResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(FoldContext, compose.InvokableLambdaWithOption(p.foldContextNode), compose.WithNodeName(FoldContext))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(FilterResults, compose.InvokableLambdaWithOption(p.filterResultsNode), compose.WithNodeName(FilterResults))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))

	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, FoldContext)
	_ = g.AddEdge(FoldContext, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, FilterResults)
	_ = g.AddEdge(FilterResults, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)

	return g.Compile(ctx, compose.WithGraphName("KnowledgeQueryPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 节点 1：校验身份与参数
func (p *QueryPipeline) validateNode(ctx context.Context, req *QueryRequest, _ ...any) (*queryState, error) {
	st := &queryState{Req: req, Start: time.Now()}
	if req == nil {
		st.Err = xerr.Wrap(xerr.ErrParam, "query request is nil")
		return st, nil
	}
	// 未知角色一律拒绝，宁可漏答不可越权
	if !req.Identity.Role.Valid() {
		st.Err = xerr.Wrap(xerr.ErrParam, fmt.Sprintf("未知角色: %s", req.Identity.Role))
		return st, nil
	}
	question := strings.TrimSpace(req.Question)
	req.Question = question
	if question == "" {
		st.Err = xerr.Wrap(xerr.ErrParam, "question is empty")
		return st, nil
	}
	req.TopK = normalizeTopK(req.TopK)
	return st, nil
}

// foldContextNode 节点 2：折叠会话历史，得到有效查询
func (p *QueryPipeline) foldContextNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil {
		return st, nil
	}

	effective, err := p.folder.Fold(ctx, st.Req.SessionID, st.Req.Question)
	if err != nil {
		// 会话存储故障不阻断检索，退化为单轮提问
		zlog.Warn("会话折叠失败，按单轮提问处理",
			zap.String("sessionID", st.Req.SessionID), zap.Error(err))
		effective = st.Req.Question
	}
	st.EffectiveQuery = effective
	return st, nil
}

// embedQueryNode 节点 3：有效查询向量化。
// 失败不报错，降级为空结果并带 embedding_failed 原因码
func (p *QueryPipeline) embedQueryNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.ReasonCode != "" {
		return st, nil
	}

	embStart := time.Now()
	vectors, err := p.scheduler.EmbedTexts(ctx, []string{st.EffectiveQuery})
	st.EmbeddingMs = time.Since(embStart).Milliseconds()
	if err != nil || len(vectors) == 0 {
		zlog.Error("查询向量化失败", zap.Error(err))
		st.ReasonCode = ReasonEmbeddingFailed
		return st, nil
	}
	st.QueryVec = vectors[0]
	return st, nil
}

// searchVectorNode 节点 4：过采样检索 k*multiplier 条候选
func (p *QueryPipeline) searchVectorNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.ReasonCode != "" {
		return st, nil
	}

	searchStart := time.Now()
	hits, err := p.index.Search(ctx, st.QueryVec, st.Req.TopK, p.multiplier)
	st.SearchMs = time.Since(searchStart).Milliseconds()
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Hits = hits
	if len(hits) == 0 {
		st.ReasonCode = ReasonIndexEmpty
	}
	return st, nil
}

// filterResultsNode 节点 5：回填切片内容、权限过滤、截断到 TopK
func (p *QueryPipeline) filterResultsNode(ctx context.Context, st *queryState, _ ...any) (*queryState, error) {
	if st == nil {
		return &queryState{Err: fmt.Errorf("nil state"), Start: time.Now()}, nil
	}
	if st.Err != nil || st.ReasonCode != "" {
		return st, nil
	}

	filterStart := time.Now()

	// 1. 从元数据库回填切片内容与文档名（索引里只有回引）
	chunkIDs := make([]int64, 0, len(st.Hits))
	docUuids := make([]string, 0, len(st.Hits))
	seenDoc := make(map[string]struct{})
	for _, h := range st.Hits {
		chunkIDs = append(chunkIDs, h.Entry.ChunkID)
		if _, ok := seenDoc[h.Entry.DocumentUuid]; !ok {
			seenDoc[h.Entry.DocumentUuid] = struct{}{}
			docUuids = append(docUuids, h.Entry.DocumentUuid)
		}
	}
	chunks, err := p.docRepo.GetChunksByIDs(ctx, chunkIDs)
	if err != nil {
		st.Err = err
		return st, nil
	}
	docs, err := p.docRepo.GetDocumentsByUuids(ctx, docUuids)
	if err != nil {
		st.Err = err
		return st, nil
	}

	candidates := make([]kb.RetrievalResult, 0, len(st.Hits))
	for _, h := range st.Hits {
		chunk := chunks[h.Entry.ChunkID]
		doc := docs[h.Entry.DocumentUuid]
		if chunk == nil || doc == nil {
			// 索引与元数据短暂不一致（删除进行中），跳过而不是报错
			zlog.Warn("命中条目缺少元数据，跳过",
				zap.String("vectorID", h.Entry.VectorID),
				zap.String("documentUuid", h.Entry.DocumentUuid))
			continue
		}
		candidates = append(candidates, kb.RetrievalResult{
			DocumentUuid: h.Entry.DocumentUuid,
			ChunkID:      h.Entry.ChunkID,
			FileName:     doc.FileName,
			Department:   doc.Department,
			Content:      chunk.Content,
			Score:        h.Score,
		})
	}

	// 2. 权限过滤（顺序保持），再截断到 TopK
	eligible := access.Filter(candidates, st.Req.Identity)
	if len(eligible) > st.Req.TopK {
		eligible = eligible[:st.Req.TopK]
	}
	st.Results = eligible
	st.Truncated = len(eligible) < st.Req.TopK
	if len(eligible) == 0 {
		st.ReasonCode = ReasonNoEligibleResult
	}

	// 3. 来源列表按角色脱敏（viewer 不给可浏览的来源清单）
	st.Redacted = access.Redact(eligible, st.Req.Identity)

	st.FilterMs = time.Since(filterStart).Milliseconds()
	return st, nil
}

// buildResultNode 节点 6：组装最终结果
func (p *QueryPipeline) buildResultNode(ctx context.Context, st *queryState, _ ...any) (*QueryResult, error) {
	_ = ctx
	if st == nil {
		return nil, fmt.Errorf("nil state")
	}
	if st.Err != nil {
		return nil, st.Err
	}

	res := &QueryResult{
		QueryID:        "q_" + util.GenerateShortUUID(),
		EffectiveQuery: st.EffectiveQuery,
		Results:        st.Results,
		Redacted:       st.Redacted,
		Truncated:      st.Truncated,
		ReasonCode:     st.ReasonCode,
		TotalHits:      len(st.Hits),
		DurationMs:     time.Since(st.Start).Milliseconds(),
		EmbeddingMs:    st.EmbeddingMs,
		SearchMs:       st.SearchMs,
		FilterMs:       st.FilterMs,
	}
	if st.Req != nil {
		res.Question = st.Req.Question
	}
	if res.Results == nil {
		res.Results = []kb.RetrievalResult{}
	}
	if res.Redacted == nil {
		res.Redacted = []kb.RetrievalResult{}
	}

	zlog.Info("检索完成",
		zap.String("queryID", res.QueryID),
		zap.Int("totalHits", res.TotalHits),
		zap.Int("returned", len(res.Results)),
		zap.Bool("truncated", res.Truncated),
		zap.String("reasonCode", res.ReasonCode),
		zap.Int64("durationMs", res.DurationMs))
	return res, nil
}
