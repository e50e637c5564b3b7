package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"KnowledgeHub/internal/modules/knowledge/application/dto/request"
	"KnowledgeHub/internal/modules/knowledge/application/dto/respond"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/chunking"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/embedding"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/extract"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/mq"
	"KnowledgeHub/pkg/util"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

// IngestEvent 异步入库事件（Kafka 消息体）
type IngestEvent struct {
	FileName   string  `json:"file_name"`
	Department string  `json:"department"`
	Content    string  `json:"content"`
	UploadedBy string  `json:"uploaded_by"`
	Role       kb.Role `json:"role"`
	EnqueuedAt int64   `json:"enqueued_at"`
}

// IngestService 增量入库协调器。
// 同批文档顺序处理、互不影响：单个文档失败只影响它自己，
// 其余文档照常入库。重复内容（哈希相同且未删除）跳过并报 duplicate
type IngestService struct {
	repo        repository.DocumentRepository
	index       repository.VectorIndex
	chunker     *chunking.SimpleChunker
	scheduler   *embedding.BatchScheduler
	extractors  *extract.Registry
	publisher   mq.Publisher // 可空，空则不支持异步入库
	ingestTopic string
}

func NewIngestService(
	repo repository.DocumentRepository,
	index repository.VectorIndex,
	chunker *chunking.SimpleChunker,
	scheduler *embedding.BatchScheduler,
	extractors *extract.Registry,
	publisher mq.Publisher,
	ingestTopic string,
) *IngestService {
	return &IngestService{
		repo:        repo,
		index:       index,
		chunker:     chunker,
		scheduler:   scheduler,
		extractors:  extractors,
		publisher:   publisher,
		ingestTopic: ingestTopic,
	}
}

// IngestDocuments 同步批量入库。viewer 无上传权限
func (s *IngestService) IngestDocuments(ctx context.Context, identity kb.Identity, items []request.IngestItem) (*respond.IngestRespond, error) {
	if err := s.checkUploadPermission(identity); err != nil {
		return nil, err
	}

	outcomes := make([]respond.IngestOutcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, s.ingestOne(ctx, identity, item))
	}
	return &respond.IngestRespond{Outcomes: outcomes}, nil
}

// EnqueueIngest 把入库任务投递到消息队列，由消费端落地
func (s *IngestService) EnqueueIngest(ctx context.Context, identity kb.Identity, items []request.IngestItem) (*respond.IngestRespond, error) {
	if err := s.checkUploadPermission(identity); err != nil {
		return nil, err
	}
	if s.publisher == nil {
		return nil, fmt.Errorf("异步入库未启用")
	}

	outcomes := make([]respond.IngestOutcome, 0, len(items))
	for _, item := range items {
		event := IngestEvent{
			FileName:   item.FileName,
			Department: s.resolveDepartment(identity, item.Department),
			Content:    item.Content,
			UploadedBy: identity.UserID,
			Role:       identity.Role,
			EnqueuedAt: time.Now().Unix(),
		}
		payload, err := json.Marshal(&event)
		if err != nil {
			outcomes = append(outcomes, respond.IngestOutcome{
				FileName: item.FileName, Status: respond.IngestStatusFailed, Reason: err.Error(),
			})
			continue
		}
		if _, err := s.publisher.Publish(ctx, mq.Message{
			Topic: s.ingestTopic,
			Key:   []byte(item.FileName),
			Value: payload,
		}); err != nil {
			outcomes = append(outcomes, respond.IngestOutcome{
				FileName: item.FileName, Status: respond.IngestStatusFailed, Reason: err.Error(),
			})
			continue
		}
		outcomes = append(outcomes, respond.IngestOutcome{
			FileName: item.FileName, Status: respond.IngestStatusQueued,
		})
	}
	return &respond.IngestRespond{Outcomes: outcomes}, nil
}

// HandleIngestEvent 消费端入口：反序列化事件并执行同步入库
func (s *IngestService) HandleIngestEvent(ctx context.Context, payload []byte) error {
	var event IngestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		// 消息体坏了重试也没用，记日志后吞掉
		zlog.Error("入库事件反序列化失败，丢弃", zap.Error(err))
		return nil
	}

	identity := kb.Identity{UserID: event.UploadedBy, Role: event.Role, Department: event.Department}
	outcome := s.ingestOne(ctx, identity, request.IngestItem{
		FileName:   event.FileName,
		Department: event.Department,
		Content:    event.Content,
	})
	if outcome.Status == respond.IngestStatusFailed {
		zlog.Error("异步入库失败",
			zap.String("fileName", event.FileName), zap.String("reason", outcome.Reason))
		return fmt.Errorf("ingest %s: %s", event.FileName, outcome.Reason)
	}
	return nil
}

func (s *IngestService) checkUploadPermission(identity kb.Identity) error {
	switch identity.Role {
	case kb.RoleAdmin, kb.RoleResearcher:
		return nil
	default:
		return xerr.New(xerr.Forbidden, "当前角色无上传权限")
	}
}

// resolveDepartment 管理员可指定任意部门（含全局）；
// 研究员上传的文档一律归到本人部门，防止越权投放
func (s *IngestService) resolveDepartment(identity kb.Identity, requested string) string {
	if identity.Role == kb.RoleAdmin {
		return requested
	}
	return identity.Department
}

func (s *IngestService) ingestOne(ctx context.Context, identity kb.Identity, item request.IngestItem) respond.IngestOutcome {
	outcome := respond.IngestOutcome{FileName: item.FileName}

	// 1. 抽取纯文本
	text, err := s.extractors.Extract(ctx, item.FileName, []byte(item.Content))
	if err != nil {
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}

	// 2. 内容哈希去重：与未删除文档重复则跳过
	hash := util.ContentHash(text)
	existing, err := s.repo.GetDocumentByContentHash(ctx, hash)
	if err != nil {
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}
	if existing != nil {
		outcome.Status = respond.IngestStatusDuplicate
		outcome.DocumentUuid = existing.Uuid
		return outcome
	}

	// 3. 同名同部门的旧版本先下线，新内容重建索引（覆盖入库）
	department := s.resolveDepartment(identity, item.Department)
	old, err := s.repo.GetDocumentByFileName(ctx, item.FileName, department)
	if err != nil {
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}
	if old != nil {
		if err := s.checkReplacePermission(identity, old); err != nil {
			outcome.Status = respond.IngestStatusFailed
			outcome.Reason = err.Error()
			return outcome
		}
		if err := s.removeDocument(ctx, old.Uuid); err != nil {
			outcome.Status = respond.IngestStatusFailed
			outcome.Reason = err.Error()
			return outcome
		}
		zlog.Info("同名文档内容变更，覆盖入库",
			zap.String("fileName", item.FileName), zap.String("oldUuid", old.Uuid))
	}

	// 4. 建文档记录（pending）
	now := time.Now()
	doc := &kb.KBDocument{
		Uuid:        util.GenerateUUID(),
		FileName:    item.FileName,
		Department:  department,
		UploadedBy:  identity.UserID,
		ContentHash: hash,
		Status:      kb.DocumentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}
	outcome.DocumentUuid = doc.Uuid

	// 5. 切片并持久化（拿到切片 ID 才能建索引回引）
	fragments, err := s.chunker.Fragments(ctx, text)
	if err != nil {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}
	if len(fragments) == 0 {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = "文档内容为空"
		return outcome
	}

	chunks := make([]kb.KBChunk, 0, len(fragments))
	texts := make([]string, 0, len(fragments))
	for i, f := range fragments {
		chunks = append(chunks, kb.KBChunk{
			DocumentUuid: doc.Uuid,
			ChunkIndex:   i,
			Content:      f.Text,
			StartPos:     f.Start,
			EndPos:       f.End,
			ChunkHash:    util.ContentHash(f.Text),
			CreatedAt:    now,
		})
		texts = append(texts, f.Text)
	}
	if err := s.repo.CreateChunks(ctx, chunks); err != nil {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}

	// 6. 嵌入 + 写索引
	vectors, err := s.scheduler.EmbedTexts(ctx, texts)
	if err != nil {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}

	entries := make([]repository.IndexEntry, 0, len(chunks))
	ingestedAt := time.Now().UnixNano()
	for i := range chunks {
		entries = append(entries, repository.IndexEntry{
			VectorID:     fmt.Sprintf("%s-%d", doc.Uuid, chunks[i].ChunkIndex),
			DocumentUuid: doc.Uuid,
			ChunkID:      chunks[i].Id,
			Department:   doc.Department,
			Vector:       vectors[i],
			IngestedAt:   ingestedAt,
		})
	}
	if err := s.index.Add(ctx, entries); err != nil {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}

	// 7. 全部成功后 pending -> indexed
	if err := s.repo.MarkDocumentIndexed(ctx, doc.Uuid, len(chunks)); err != nil {
		s.rollback(ctx, doc.Uuid)
		outcome.Status = respond.IngestStatusFailed
		outcome.Reason = err.Error()
		return outcome
	}

	zlog.Info("文档入库完成",
		zap.String("documentUuid", doc.Uuid),
		zap.String("fileName", doc.FileName),
		zap.Int("chunkCount", len(chunks)))
	outcome.Status = respond.IngestStatusIndexed
	outcome.ChunkCount = len(chunks)
	return outcome
}

// checkReplacePermission 覆盖等价于删旧建新：管理员任意，研究员只能覆盖本人上传的本部门文档
func (s *IngestService) checkReplacePermission(identity kb.Identity, old *kb.KBDocument) error {
	if identity.Role == kb.RoleAdmin {
		return nil
	}
	if old.UploadedBy == identity.UserID && old.Department == identity.Department {
		return nil
	}
	return xerr.New(xerr.Forbidden, "同名文档已存在，无权覆盖")
}

// removeDocument 按依赖顺序删除：索引条目 -> 切片 -> 文档记录
func (s *IngestService) removeDocument(ctx context.Context, documentUuid string) error {
	if _, err := s.index.RemoveByDocument(ctx, documentUuid); err != nil {
		return err
	}
	if err := s.repo.DeleteChunksByDocument(ctx, documentUuid); err != nil {
		return err
	}
	return s.repo.DeleteDocument(ctx, documentUuid)
}

// rollback 入库中途失败时清理半成品：索引条目 -> 切片 -> 文档记录
func (s *IngestService) rollback(ctx context.Context, documentUuid string) {
	if _, err := s.index.RemoveByDocument(ctx, documentUuid); err != nil {
		zlog.Error("回滚索引条目失败", zap.String("documentUuid", documentUuid), zap.Error(err))
	}
	if err := s.repo.DeleteChunksByDocument(ctx, documentUuid); err != nil {
		zlog.Error("回滚切片失败", zap.String("documentUuid", documentUuid), zap.Error(err))
	}
	if err := s.repo.DeleteDocument(ctx, documentUuid); err != nil {
		zlog.Error("回滚文档记录失败", zap.String("documentUuid", documentUuid), zap.Error(err))
	}
}
