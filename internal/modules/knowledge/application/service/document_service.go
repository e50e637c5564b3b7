package service

import (
	"context"

	"KnowledgeHub/internal/modules/knowledge/application/dto/respond"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

// DocumentService 文档管理：列表、删除、统计
type DocumentService struct {
	repo  repository.DocumentRepository
	index repository.VectorIndex
}

func NewDocumentService(repo repository.DocumentRepository, index repository.VectorIndex) *DocumentService {
	return &DocumentService{repo: repo, index: index}
}

// ListDocuments 管理员看全部；其他角色只看本部门 + 全局
func (s *DocumentService) ListDocuments(ctx context.Context, identity kb.Identity) ([]respond.DocumentItem, error) {
	docs, err := s.repo.ListDocuments(ctx, identity.Department, identity.Role == kb.RoleAdmin)
	if err != nil {
		return nil, err
	}

	items := make([]respond.DocumentItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, respond.DocumentItem{
			Uuid:       d.Uuid,
			FileName:   d.FileName,
			Department: d.Department,
			UploadedBy: d.UploadedBy,
			ChunkCount: d.ChunkCount,
			Status:     d.Status,
			CreatedAt:  d.CreatedAt.Unix(),
		})
	}
	return items, nil
}

// DeleteDocument 删除文档及其全部派生数据。
// 子项先行：索引条目 -> 切片 -> 文档记录，任何一步失败都不动后面的，
// 残留只会是可回收的孤儿切片，不会出现指向空文档的索引条目
func (s *DocumentService) DeleteDocument(ctx context.Context, identity kb.Identity, uuid string) error {
	doc, err := s.repo.GetDocumentByUuid(ctx, uuid)
	if err != nil {
		return err
	}
	if doc == nil {
		return xerr.New(xerr.NotFound, "文档不存在")
	}
	if err := s.checkDeletePermission(identity, doc); err != nil {
		return err
	}

	removed, err := s.index.RemoveByDocument(ctx, uuid)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteChunksByDocument(ctx, uuid); err != nil {
		return err
	}
	if err := s.repo.DeleteDocument(ctx, uuid); err != nil {
		return err
	}

	zlog.Info("文档已删除",
		zap.String("documentUuid", uuid),
		zap.String("operator", identity.UserID),
		zap.Int("indexEntriesRemoved", removed))
	return nil
}

// checkDeletePermission 管理员可删任意文档；研究员只能删本人上传的本部门文档
func (s *DocumentService) checkDeletePermission(identity kb.Identity, doc *kb.KBDocument) error {
	if identity.Role == kb.RoleAdmin {
		return nil
	}
	if identity.Role == kb.RoleResearcher &&
		doc.UploadedBy == identity.UserID &&
		doc.Department == identity.Department {
		return nil
	}
	return xerr.New(xerr.Forbidden, "当前角色无权删除该文档")
}

// Stats 知识库运行统计
func (s *DocumentService) Stats(ctx context.Context) (*respond.StatsRespond, error) {
	docCount, err := s.repo.CountDocuments(ctx)
	if err != nil {
		return nil, err
	}
	chunkCount, err := s.repo.CountChunks(ctx)
	if err != nil {
		return nil, err
	}

	idx := s.index.Stats()
	return &respond.StatsRespond{
		DocumentCount: docCount,
		ChunkCount:    chunkCount,
		IndexEntries:  idx.TotalEntries,
		IndexLive:     idx.LiveEntries,
		Tombstones:    idx.Tombstones,
		Dimension:     idx.Dimension,
		LastPersist:   idx.LastPersist,
		NeedsRebuild:  s.index.NeedsRebuild(),
	}, nil
}
