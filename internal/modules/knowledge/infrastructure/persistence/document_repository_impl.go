package persistence

import (
	"context"
	"strings"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"

	"gorm.io/gorm"
)

type documentRepositoryImpl struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) repository.DocumentRepository {
	return &documentRepositoryImpl{db: db}
}

func (r *documentRepositoryImpl) CreateDocument(ctx context.Context, doc *kb.KBDocument) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

func (r *documentRepositoryImpl) GetDocumentByUuid(ctx context.Context, uuid string) (*kb.KBDocument, error) {
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return nil, nil
	}

	var doc kb.KBDocument
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) GetDocumentByContentHash(ctx context.Context, hash string) (*kb.KBDocument, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}

	var doc kb.KBDocument
	err := r.db.WithContext(ctx).Where("content_hash = ?", hash).Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) GetDocumentByFileName(ctx context.Context, fileName, department string) (*kb.KBDocument, error) {
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, nil
	}

	var doc kb.KBDocument
	err := r.db.WithContext(ctx).
		Where("file_name = ? AND department = ?", fileName, department).
		Take(&doc).Error
	if err == nil {
		return &doc, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, err
}

func (r *documentRepositoryImpl) ListDocuments(ctx context.Context, department string, admin bool) ([]kb.KBDocument, error) {
	var docs []kb.KBDocument
	query := r.db.WithContext(ctx)

	// 权限控制：非管理员只能看本部门文档 + 全局文档
	if !admin {
		if department == "" {
			query = query.Where("department = ''")
		} else {
			query = query.Where("(department = ? OR department = '')", department)
		}
	}

	err := query.Order("created_at DESC").Find(&docs).Error
	return docs, err
}

func (r *documentRepositoryImpl) MarkDocumentIndexed(ctx context.Context, uuid string, chunkCount int) error {
	return r.db.WithContext(ctx).
		Model(&kb.KBDocument{}).
		Where("uuid = ?", uuid).
		Updates(map[string]interface{}{
			"status":      kb.DocumentStatusIndexed,
			"chunk_count": chunkCount,
			"indexed_at":  time.Now(),
		}).Error
}

func (r *documentRepositoryImpl) DeleteDocument(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).Where("uuid = ?", uuid).Delete(&kb.KBDocument{}).Error
}

func (r *documentRepositoryImpl) CreateChunks(ctx context.Context, chunks []kb.KBChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(chunks, 200).Error
}

func (r *documentRepositoryImpl) GetChunksByIDs(ctx context.Context, chunkIDs []int64) (map[int64]*kb.KBChunk, error) {
	out := make(map[int64]*kb.KBChunk, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	var chunks []kb.KBChunk
	if err := r.db.WithContext(ctx).Where("id IN ?", chunkIDs).Find(&chunks).Error; err != nil {
		return nil, err
	}
	for i := range chunks {
		out[chunks[i].Id] = &chunks[i]
	}
	return out, nil
}

func (r *documentRepositoryImpl) DeleteChunksByDocument(ctx context.Context, documentUuid string) error {
	return r.db.WithContext(ctx).
		Where("document_uuid = ?", documentUuid).
		Delete(&kb.KBChunk{}).Error
}

func (r *documentRepositoryImpl) GetDocumentsByUuids(ctx context.Context, uuids []string) (map[string]*kb.KBDocument, error) {
	out := make(map[string]*kb.KBDocument, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}

	var docs []kb.KBDocument
	if err := r.db.WithContext(ctx).Where("uuid IN ?", uuids).Find(&docs).Error; err != nil {
		return nil, err
	}
	for i := range docs {
		out[docs[i].Uuid] = &docs[i]
	}
	return out, nil
}

func (r *documentRepositoryImpl) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&kb.KBDocument{}).Count(&count).Error
	return count, err
}

func (r *documentRepositoryImpl) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&kb.KBChunk{}).Count(&count).Error
	return count, err
}

func (r *documentRepositoryImpl) LogSearch(ctx context.Context, entry *kb.KBSearchLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
