package service

import (
	"context"
	"time"

	"KnowledgeHub/internal/modules/knowledge/application/dto/request"
	"KnowledgeHub/internal/modules/knowledge/application/dto/respond"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/contextfold"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/llm"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/pipeline"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

// ReasonGenerationFailed 生成器失败但检索成功时的降级原因码
const ReasonGenerationFailed = "generation_failed"

// QueryService 问答编排：检索 Pipeline + 答案生成 + 会话记录 + 审计日志
type QueryService struct {
	pipeline  *pipeline.QueryPipeline
	generator llm.Generator
	folder    *contextfold.Manager
	repo      repository.DocumentRepository
}

func NewQueryService(
	p *pipeline.QueryPipeline,
	generator llm.Generator,
	folder *contextfold.Manager,
	repo repository.DocumentRepository,
) *QueryService {
	return &QueryService{pipeline: p, generator: generator, folder: folder, repo: repo}
}

// Query 执行一次问答。
// 检索失败原因码透传；生成失败降级为模板回答并带 generation_failed
func (s *QueryService) Query(ctx context.Context, identity kb.Identity, req request.QueryRequest) (*respond.QueryRespond, error) {
	result, err := s.pipeline.Query(ctx, &pipeline.QueryRequest{
		Identity:  identity,
		SessionID: req.SessionID,
		Question:  req.Question,
		TopK:      req.TopK,
	})
	if err != nil {
		return nil, err
	}

	resp := &respond.QueryRespond{
		QueryID:    result.QueryID,
		Truncated:  result.Truncated,
		ReasonCode: result.ReasonCode,
		TotalHits:  result.TotalHits,
		DurationMs: result.DurationMs,
		Sources:    make([]respond.SourceItem, 0, len(result.Redacted)),
	}
	for _, r := range result.Redacted {
		resp.Sources = append(resp.Sources, respond.SourceItem{
			DocumentUuid: r.DocumentUuid,
			FileName:     r.FileName,
			Department:   r.Department,
			Score:        r.Score,
		})
	}

	// 生成答案：检索已经降级时不再调用生成器
	if len(result.Results) > 0 {
		answer, genErr := s.generator.Answer(ctx, result.Question, result.Results)
		if genErr != nil {
			zlog.Error("答案生成失败，降级为模板回答",
				zap.String("queryID", result.QueryID), zap.Error(genErr))
			resp.ReasonCode = ReasonGenerationFailed
			answer, _ = llm.NewTemplateGenerator().Answer(ctx, result.Question, result.Results)
		}
		resp.Answer = answer
	} else {
		resp.Answer = "知识库中没有找到与该问题相关的内容。"
	}

	// 回答写入会话历史，供下一轮折叠
	if err := s.folder.RecordAnswer(ctx, req.SessionID, resp.Answer); err != nil {
		zlog.Warn("记录会话回答失败", zap.String("sessionID", req.SessionID), zap.Error(err))
	}

	// 审计日志失败不影响响应
	if err := s.repo.LogSearch(ctx, &kb.KBSearchLog{
		UserId:      identity.UserID,
		Query:       req.Question,
		ResultCount: len(result.Results),
		CreatedAt:   time.Now(),
	}); err != nil {
		zlog.Warn("写检索日志失败", zap.Error(err))
	}

	return resp, nil
}

// ClearSession 清空会话历史
func (s *QueryService) ClearSession(ctx context.Context, sessionID string) error {
	return s.folder.Clear(ctx, sessionID)
}
