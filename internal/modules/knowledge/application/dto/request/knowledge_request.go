package request

// QueryRequest 知识检索问答请求
type QueryRequest struct {
	SessionID string `json:"session_id"` // 会话 ID，空表示单轮独立提问
	Question  string `json:"question" binding:"required"`
	TopK      int    `json:"top_k"` // 默认 5，范围 1-50
}

// IngestItem 单个待入库文档
type IngestItem struct {
	FileName   string `json:"file_name" binding:"required"`
	Department string `json:"department"` // 空 = 全局文档
	Content    string `json:"content" binding:"required"`
}

// IngestRequest 批量入库请求，逐个文档独立处理
type IngestRequest struct {
	Documents []IngestItem `json:"documents" binding:"required,min=1"`
	Async     bool         `json:"async"` // true 时投递到消息队列异步处理
}

// ClearSessionRequest 清空会话历史
type ClearSessionRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}
