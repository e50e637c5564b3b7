package vectordb

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	"go.uber.org/zap"
)

const snapshotVersion = 1

// rebuildBatchSize 重建时每处理这么多条目检查一次 ctx
const rebuildBatchSize = 1024

// snapshotFile gob 快照的持久化布局，带版本与维度标签
type snapshotFile struct {
	Version    int
	Dim        int
	Entries    []repository.IndexEntry
	Tombstones []string
}

// FlatIndex 进程内平铺余弦索引。
// 向量入库时归一化，检索用点积即余弦相似度；删除走墓碑，
// 墓碑占比超过阈值后由上层触发 Rebuild 压实。
//
// 并发模型：mu 保护读视图，writeMu 串行化 Add/Remove/Rebuild/Persist，
// 写操作在持有 mu 写锁的窗口内完成切换，Search 不会见到中间状态
type FlatIndex struct {
	mu      sync.RWMutex
	writeMu sync.Mutex

	dim              int
	snapshotPath     string
	rebuildThreshold float64

	entries    map[string]*repository.IndexEntry // vectorID -> entry
	tombstones map[string]struct{}               // vectorID 集合
	byDocument map[string][]string               // documentUuid -> vectorIDs

	lastPersist int64
}

func NewFlatIndex(dim int, snapshotPath string, rebuildThreshold float64) *FlatIndex {
	if rebuildThreshold <= 0 {
		rebuildThreshold = 0.3
	}
	return &FlatIndex{
		dim:              dim,
		snapshotPath:     snapshotPath,
		rebuildThreshold: rebuildThreshold,
		entries:          make(map[string]*repository.IndexEntry),
		tombstones:       make(map[string]struct{}),
		byDocument:       make(map[string][]string),
	}
}

// Add 整批校验维度后再写入，任何一条不匹配则整批拒绝
func (idx *FlatIndex) Add(ctx context.Context, entries []repository.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	for i := range entries {
		if len(entries[i].Vector) != idx.dim {
			return xerr.Wrap(xerr.ErrDimensionMismatch,
				fmt.Sprintf("条目 %s 为 %d 维，索引为 %d 维", entries[i].VectorID, len(entries[i].Vector), idx.dim))
		}
	}

	normalized := make([]*repository.IndexEntry, len(entries))
	for i := range entries {
		e := entries[i]
		e.Vector = normalize(e.Vector)
		if e.IngestedAt == 0 {
			e.IngestedAt = time.Now().UnixNano()
		}
		normalized[i] = &e
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, e := range normalized {
		if _, exists := idx.entries[e.VectorID]; !exists {
			idx.byDocument[e.DocumentUuid] = append(idx.byDocument[e.DocumentUuid], e.VectorID)
		}
		idx.entries[e.VectorID] = e
		delete(idx.tombstones, e.VectorID)
	}
	return nil
}

// RemoveByDocument 为该文档所有存活条目写墓碑，返回本次新增墓碑数
func (idx *FlatIndex) RemoveByDocument(ctx context.Context, documentUuid string) (int, error) {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	removed := 0
	for _, vid := range idx.byDocument[documentUuid] {
		if _, dead := idx.tombstones[vid]; dead {
			continue
		}
		if _, ok := idx.entries[vid]; !ok {
			continue
		}
		idx.tombstones[vid] = struct{}{}
		removed++
	}
	return removed, nil
}

// Search 全量扫描存活条目，返回 top k*multiplier 命中。
// 排序：得分降序；同分看 IngestedAt 新者在前；再同则按 VectorID 升序，保证确定性
func (idx *FlatIndex) Search(ctx context.Context, vector []float32, k, multiplier int) ([]repository.SearchHit, error) {
	if len(vector) != idx.dim {
		return nil, xerr.Wrap(xerr.ErrDimensionMismatch,
			fmt.Sprintf("查询向量 %d 维，索引为 %d 维", len(vector), idx.dim))
	}
	if k <= 0 {
		return []repository.SearchHit{}, nil
	}
	if multiplier < 1 {
		multiplier = 1
	}
	limit := k * multiplier

	query := normalize(vector)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	hits := make([]repository.SearchHit, 0, len(idx.entries))
	for vid, e := range idx.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, dead := idx.tombstones[vid]; dead {
			continue
		}
		hits = append(hits, repository.SearchHit{Entry: *e, Score: dot(query, e.Vector)})
	}

	sortHits(hits)

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// sortHits 统一两种后端的命中排序：得分降序；
// 同分看 IngestedAt 新者在前；再同则按 VectorID 升序，保证确定性
func sortHits(hits []repository.SearchHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Entry.IngestedAt != hits[j].Entry.IngestedAt {
			return hits[i].Entry.IngestedAt > hits[j].Entry.IngestedAt
		}
		return hits[i].Entry.VectorID < hits[j].Entry.VectorID
	})
}

// NeedsRebuild 墓碑占全部条目的比例超过阈值
func (idx *FlatIndex) NeedsRebuild() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if len(idx.entries) == 0 {
		return false
	}
	return float64(len(idx.tombstones))/float64(len(idx.entries)) > idx.rebuildThreshold
}

// Rebuild 复制存活条目到新结构后原子切换；批间响应 ctx 取消，
// 取消时原结构与墓碑保持不变
func (idx *FlatIndex) Rebuild(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.RLock()
	snapshot := make([]*repository.IndexEntry, 0, len(idx.entries))
	for vid, e := range idx.entries {
		if _, dead := idx.tombstones[vid]; dead {
			continue
		}
		snapshot = append(snapshot, e)
	}
	idx.mu.RUnlock()

	newEntries := make(map[string]*repository.IndexEntry, len(snapshot))
	newByDoc := make(map[string][]string)
	for i, e := range snapshot {
		if i%rebuildBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				zlog.Warn("索引重建被取消，保留原结构", zap.Int("copied", i))
				return err
			}
		}
		copied := *e
		newEntries[copied.VectorID] = &copied
		newByDoc[copied.DocumentUuid] = append(newByDoc[copied.DocumentUuid], copied.VectorID)
	}

	idx.mu.Lock()
	idx.entries = newEntries
	idx.byDocument = newByDoc
	idx.tombstones = make(map[string]struct{})
	idx.mu.Unlock()

	zlog.Info("索引重建完成", zap.Int("liveEntries", len(newEntries)))
	return nil
}

// Persist 写临时文件再原子改名，避免半截快照
func (idx *FlatIndex) Persist(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.RLock()
	snap := snapshotFile{
		Version:    snapshotVersion,
		Dim:        idx.dim,
		Entries:    make([]repository.IndexEntry, 0, len(idx.entries)),
		Tombstones: make([]string, 0, len(idx.tombstones)),
	}
	for _, e := range idx.entries {
		snap.Entries = append(snap.Entries, *e)
	}
	for vid := range idx.tombstones {
		snap.Tombstones = append(snap.Tombstones, vid)
	}
	idx.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(idx.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp := idx.snapshotPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close snapshot temp: %w", err)
	}
	if err := os.Rename(tmp, idx.snapshotPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	idx.mu.Lock()
	idx.lastPersist = time.Now().Unix()
	idx.mu.Unlock()
	return nil
}

// Load 从快照恢复。快照不存在视为冷启动返回 nil；
// 内容损坏返回 ErrIndexCorrupt 并保持空索引；维度不符拒绝加载
func (idx *FlatIndex) Load(ctx context.Context) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	f, err := os.Open(idx.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var snap snapshotFile
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		zlog.Error("索引快照解码失败，回退到空索引", zap.String("path", idx.snapshotPath), zap.Error(err))
		return xerr.Wrap(xerr.ErrIndexCorrupt, err.Error())
	}
	if snap.Version != snapshotVersion {
		zlog.Error("索引快照版本不兼容", zap.Int("got", snap.Version), zap.Int("want", snapshotVersion))
		return xerr.Wrap(xerr.ErrIndexCorrupt, fmt.Sprintf("快照版本 %d", snap.Version))
	}
	if snap.Dim != idx.dim {
		return xerr.Wrap(xerr.ErrDimensionMismatch,
			fmt.Sprintf("快照为 %d 维，索引配置 %d 维", snap.Dim, idx.dim))
	}

	entries := make(map[string]*repository.IndexEntry, len(snap.Entries))
	byDoc := make(map[string][]string)
	for i := range snap.Entries {
		e := snap.Entries[i]
		entries[e.VectorID] = &e
		byDoc[e.DocumentUuid] = append(byDoc[e.DocumentUuid], e.VectorID)
	}
	tombstones := make(map[string]struct{}, len(snap.Tombstones))
	for _, vid := range snap.Tombstones {
		tombstones[vid] = struct{}{}
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.byDocument = byDoc
	idx.tombstones = tombstones
	idx.mu.Unlock()

	zlog.Info("索引快照加载完成",
		zap.Int("entries", len(entries)), zap.Int("tombstones", len(tombstones)))
	return nil
}

func (idx *FlatIndex) Stats() repository.IndexStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return repository.IndexStats{
		TotalEntries: len(idx.entries),
		LiveEntries:  len(idx.entries) - len(idx.tombstones),
		Tombstones:   len(idx.tombstones),
		Dimension:    idx.dim,
		LastPersist:  idx.lastPersist,
	}
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

var _ repository.VectorIndex = (*FlatIndex)(nil)
