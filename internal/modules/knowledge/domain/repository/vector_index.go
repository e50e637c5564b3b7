package repository

import "context"

// IndexEntry 向量索引的存储单元：向量 + 回引（文档/切片/部门）。
// 回引只用于过滤与归属展示，不承载所有权；文档删除时必须连带删除其全部条目
type IndexEntry struct {
	VectorID     string
	DocumentUuid string
	ChunkID      int64
	Department   string // 空串 = 全局
	Vector       []float32
	IngestedAt   int64 // unix 纳秒，同分时新者优先
}

// SearchHit 检索命中：条目 + 相似度得分（余弦，越大越相关）
type SearchHit struct {
	Entry IndexEntry
	Score float32
}

// IndexStats 索引统计
type IndexStats struct {
	TotalEntries int   `json:"total_entries"`
	LiveEntries  int   `json:"live_entries"`
	Tombstones   int   `json:"tombstones"`
	Dimension    int   `json:"dimension"`
	LastPersist  int64 `json:"last_persist"` // unix 秒，0 表示尚未落盘
}

// VectorIndex 是 domain 层定义的向量索引能力抽象。
//
// 设计约束：
//  1. application 层只依赖本接口，不直接依赖本地索引实现或 Milvus SDK。
//  2. Add/RemoveByDocument/Rebuild/Persist 互斥（单写者），Search 可并发、
//     读到的要么是变更前快照要么是变更后快照，不允许撕裂读。
//  3. Add 遇到维度不匹配整批拒绝，不允许部分写入。
type VectorIndex interface {
	// Add 增量追加，代价与本批条目数成正比，不重建既有条目
	Add(ctx context.Context, entries []IndexEntry) error

	// RemoveByDocument 逻辑删除某文档的全部条目（写墓碑），返回本次删除数。
	// 重复调用第二次返回 0，不报错
	RemoveByDocument(ctx context.Context, documentUuid string) (int, error)

	// Search 返回 top k*multiplier 个最近邻（过采样交给上层权限过滤后截断）
	Search(ctx context.Context, vector []float32, k, multiplier int) ([]SearchHit, error)

	// Rebuild 从存活条目重建物理结构并清空墓碑；批间可被 ctx 取消，
	// 取消时原结构与墓碑保持权威，完成时原子切换
	Rebuild(ctx context.Context) error

	// NeedsRebuild 墓碑占比是否超过配置阈值
	NeedsRebuild() bool

	// Persist 持久化索引结构与墓碑集（带版本与维度标签的快照）
	Persist(ctx context.Context) error

	// Load 从快照恢复；维度与配置不符时拒绝加载
	Load(ctx context.Context) error

	Stats() IndexStats
}
