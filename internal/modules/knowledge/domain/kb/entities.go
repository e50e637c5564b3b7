package kb

import (
	"database/sql"
	"time"
)

// 文档状态：pending -> indexed，删除时先删子项（chunk/向量）再删文档记录
const (
	DocumentStatusPending int8 = 0
	DocumentStatusIndexed int8 = 1
)

// KBDocument 知识库文档元数据
// Department 为空表示全局文档（所有部门可见）；首次索引成功后部门不可原地修改，
// 调整部门必须走删除重建，避免权限策略悄悄漂移
type KBDocument struct {
	Id          int64        `gorm:"column:id;primaryKey;autoIncrement"`
	Uuid        string       `gorm:"column:uuid;type:char(36);not null;uniqueIndex:uniq_kb_doc_uuid"`
	FileName    string       `gorm:"column:file_name;type:varchar(255);not null"`
	Department  string       `gorm:"column:department;type:varchar(64);index:idx_kb_doc_department"`
	UploadedBy  string       `gorm:"column:uploaded_by;type:varchar(64);not null"`
	ContentHash string       `gorm:"column:content_hash;type:char(64);not null;index:idx_kb_doc_hash"`
	ChunkCount  int          `gorm:"column:chunk_count;type:int;not null;default:0"`
	Status      int8         `gorm:"column:status;type:tinyint;not null;default:0"`
	IndexedAt   sql.NullTime `gorm:"column:indexed_at;type:datetime"`
	CreatedAt   time.Time    `gorm:"column:created_at;type:datetime;not null"`
	UpdatedAt   time.Time    `gorm:"column:updated_at;type:datetime;not null"`
}

func (KBDocument) TableName() string { return "kb_document" }

// IsGlobal 无部门标签的文档对所有部门可见
func (d *KBDocument) IsGlobal() bool { return d.Department == "" }

// KBChunk 文档切片，归属且仅归属一个文档
type KBChunk struct {
	Id           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DocumentUuid string    `gorm:"column:document_uuid;type:char(36);not null;index:idx_kb_chunk_doc"`
	ChunkIndex   int       `gorm:"column:chunk_index;type:int;not null"`
	Content      string    `gorm:"column:content;type:mediumtext"`
	StartPos     int       `gorm:"column:start_pos;type:int;not null"`
	EndPos       int       `gorm:"column:end_pos;type:int;not null"`
	ChunkHash    string    `gorm:"column:chunk_hash;type:char(64);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (KBChunk) TableName() string { return "kb_chunk" }

// KBSearchLog 检索历史（审计与调优用）
type KBSearchLog struct {
	Id          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserId      string    `gorm:"column:user_id;type:varchar(64);not null;index:idx_kb_search_user"`
	Query       string    `gorm:"column:query;type:text"`
	ResultCount int       `gorm:"column:result_count;type:int;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;type:datetime;not null"`
}

func (KBSearchLog) TableName() string { return "kb_search_log" }
