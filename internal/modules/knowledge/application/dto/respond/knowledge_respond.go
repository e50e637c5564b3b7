package respond

// SourceItem 命中来源（已按请求者角色脱敏）
type SourceItem struct {
	DocumentUuid string  `json:"document_uuid"`
	FileName     string  `json:"file_name"`
	Department   string  `json:"department"`
	Score        float32 `json:"score"`
}

// QueryRespond 检索问答响应
type QueryRespond struct {
	QueryID    string       `json:"query_id"`
	Answer     string       `json:"answer"`
	Sources    []SourceItem `json:"sources"`
	Truncated  bool         `json:"truncated"`   // 权限过滤后凑不满 top_k
	ReasonCode string       `json:"reason_code"` // 降级原因码，正常为空串
	TotalHits  int          `json:"total_hits"`
	DurationMs int64        `json:"duration_ms"`
}

// 入库结果状态
const (
	IngestStatusIndexed   = "indexed"
	IngestStatusDuplicate = "duplicate"
	IngestStatusFailed    = "failed"
	IngestStatusQueued    = "queued"
)

// IngestOutcome 单个文档的入库结果，批内互不影响
type IngestOutcome struct {
	FileName     string `json:"file_name"`
	DocumentUuid string `json:"document_uuid,omitempty"`
	Status       string `json:"status"`
	ChunkCount   int    `json:"chunk_count,omitempty"`
	Reason       string `json:"reason,omitempty"` // Status=failed 时的失败原因
}

// IngestRespond 批量入库响应
type IngestRespond struct {
	Outcomes []IngestOutcome `json:"outcomes"`
}

// DocumentItem 文档列表项
type DocumentItem struct {
	Uuid       string `json:"uuid"`
	FileName   string `json:"file_name"`
	Department string `json:"department"`
	UploadedBy string `json:"uploaded_by"`
	ChunkCount int    `json:"chunk_count"`
	Status     int8   `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

// StatsRespond 知识库运行统计
type StatsRespond struct {
	DocumentCount int64 `json:"document_count"`
	ChunkCount    int64 `json:"chunk_count"`
	IndexEntries  int   `json:"index_entries"`
	IndexLive     int   `json:"index_live"`
	Tombstones    int   `json:"tombstones"`
	Dimension     int   `json:"dimension"`
	LastPersist   int64 `json:"last_persist"`
	NeedsRebuild  bool  `json:"needs_rebuild"`
}
