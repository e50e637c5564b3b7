package repository

import (
	"context"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
)

// DocumentRepository 负责文档/切片元数据（MySQL）的持久化
type DocumentRepository interface {
	CreateDocument(ctx context.Context, doc *kb.KBDocument) error

	GetDocumentByUuid(ctx context.Context, uuid string) (*kb.KBDocument, error)

	// GetDocumentByContentHash 按内容哈希查找未删除文档（去重用）
	GetDocumentByContentHash(ctx context.Context, hash string) (*kb.KBDocument, error)

	// GetDocumentByFileName 按文件名+部门查找未删除文档（同名覆盖入库用）
	GetDocumentByFileName(ctx context.Context, fileName, department string) (*kb.KBDocument, error)

	// ListDocuments department 为空且 admin=false 时只返回全局文档；
	// admin=true 返回全部
	ListDocuments(ctx context.Context, department string, admin bool) ([]kb.KBDocument, error)

	// MarkDocumentIndexed 所有切片条目持久化成功后才允许 pending -> indexed
	MarkDocumentIndexed(ctx context.Context, uuid string, chunkCount int) error

	// DeleteDocument 删除文档记录本身；调用方必须先删除其切片与索引条目
	DeleteDocument(ctx context.Context, uuid string) error

	CreateChunks(ctx context.Context, chunks []kb.KBChunk) error

	GetChunksByIDs(ctx context.Context, chunkIDs []int64) (map[int64]*kb.KBChunk, error)

	DeleteChunksByDocument(ctx context.Context, documentUuid string) error

	GetDocumentsByUuids(ctx context.Context, uuids []string) (map[string]*kb.KBDocument, error)

	CountDocuments(ctx context.Context) (int64, error)

	CountChunks(ctx context.Context) (int64, error)

	LogSearch(ctx context.Context, entry *kb.KBSearchLog) error
}
