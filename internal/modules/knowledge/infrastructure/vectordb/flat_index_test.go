package vectordb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(vid, doc string, chunk int64, ingestedAt int64, vec ...float32) repository.IndexEntry {
	return repository.IndexEntry{
		VectorID:     vid,
		DocumentUuid: doc,
		ChunkID:      chunk,
		Vector:       vec,
		IngestedAt:   ingestedAt,
	}
}

func TestFlatIndex_AddRejectsWholeBatchOnDimMismatch(t *testing.T) {
	idx := NewFlatIndex(3, filepath.Join(t.TempDir(), "index.snap"), 0.3)

	err := idx.Add(context.Background(), []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0, 0),
		entry("v2", "doc1", 2, 2, 1, 0), // 2 维，非法
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))
	// 整批拒绝：合法的 v1 也不应写入
	assert.Equal(t, 0, idx.Stats().TotalEntries)
}

func TestFlatIndex_SearchOrderAndTieBreak(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	require.NoError(t, idx.Add(context.Background(), []repository.IndexEntry{
		entry("v-close", "doc1", 1, 10, 1, 0),
		entry("v-far", "doc1", 2, 10, 0, 1),
		entry("v-mid", "doc2", 3, 10, 1, 1),
		// 与 v-close 同向同分，但入库更晚，应排在 v-close 之前
		entry("v-newer", "doc2", 4, 20, 2, 0),
	}))

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 4, 1)
	require.NoError(t, err)
	require.Len(t, hits, 4)
	assert.Equal(t, "v-newer", hits[0].Entry.VectorID)
	assert.Equal(t, "v-close", hits[1].Entry.VectorID)
	assert.Equal(t, "v-mid", hits[2].Entry.VectorID)
	assert.Equal(t, "v-far", hits[3].Entry.VectorID)
	assert.InDelta(t, 1.0, float64(hits[0].Score), 1e-6)
	assert.InDelta(t, 0.0, float64(hits[3].Score), 1e-6)
}

func TestSortHits_SharedOrderAcrossBackends(t *testing.T) {
	// 两种后端共用的排序：milvus 结果也走这条路，和本地索引行为一致
	hits := []repository.SearchHit{
		{Entry: repository.IndexEntry{VectorID: "b", IngestedAt: 10}, Score: 0.5},
		{Entry: repository.IndexEntry{VectorID: "a", IngestedAt: 10}, Score: 0.5},
		{Entry: repository.IndexEntry{VectorID: "c", IngestedAt: 20}, Score: 0.5},
		{Entry: repository.IndexEntry{VectorID: "d", IngestedAt: 5}, Score: 0.9},
	}
	sortHits(hits)

	assert.Equal(t, "d", hits[0].Entry.VectorID) // 得分优先
	assert.Equal(t, "c", hits[1].Entry.VectorID) // 同分新者在前
	assert.Equal(t, "a", hits[2].Entry.VectorID) // 再同按 VectorID 升序
	assert.Equal(t, "b", hits[3].Entry.VectorID)
}

func TestFlatIndex_SearchOverfetch(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	for i := 0; i < 10; i++ {
		require.NoError(t, idx.Add(context.Background(), []repository.IndexEntry{
			entry(fmt.Sprintf("v%02d", i), "doc1", int64(i), int64(i), 1, float32(i)),
		}))
	}

	hits, err := idx.Search(context.Background(), []float32{1, 0}, 3, 2)
	require.NoError(t, err)
	assert.Len(t, hits, 6, "应返回 k*multiplier 条候选")
}

func TestFlatIndex_RemoveByDocumentIdempotent(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	require.NoError(t, idx.Add(context.Background(), []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0),
		entry("v2", "doc1", 2, 2, 0, 1),
		entry("v3", "doc2", 3, 3, 1, 1),
	}))

	removed, err := idx.RemoveByDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// 第二次删除返回 0，不报错
	removed, err = idx.RemoveByDocument(context.Background(), "doc1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// 墓碑条目不出现在检索结果里
	hits, err := idx.Search(context.Background(), []float32{1, 0}, 10, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v3", hits[0].Entry.VectorID)

	stats := idx.Stats()
	assert.Equal(t, 3, stats.TotalEntries)
	assert.Equal(t, 1, stats.LiveEntries)
	assert.Equal(t, 2, stats.Tombstones)
}

func TestFlatIndex_PersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snap")
	ctx := context.Background()

	idx := NewFlatIndex(2, path, 0.3)
	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0),
		entry("v2", "doc1", 2, 2, 0, 1),
		entry("v3", "doc2", 3, 3, 1, 1),
	}))
	_, err := idx.RemoveByDocument(ctx, "doc2")
	require.NoError(t, err)
	require.NoError(t, idx.Persist(ctx))

	restored := NewFlatIndex(2, path, 0.3)
	require.NoError(t, restored.Load(ctx))

	// 恢复后的检索结果必须与落盘前一致，墓碑也要保留
	want, err := idx.Search(ctx, []float32{1, 1}, 10, 1)
	require.NoError(t, err)
	got, err := restored.Search(ctx, []float32{1, 1}, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, idx.Stats().Tombstones, restored.Stats().Tombstones)

	// 墓碑文档再次删除仍是 0
	removed, err := restored.RemoveByDocument(ctx, "doc2")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestFlatIndex_LoadMissingSnapshotIsColdStart(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "nope.snap"), 0.3)
	require.NoError(t, idx.Load(context.Background()))
	assert.Equal(t, 0, idx.Stats().TotalEntries)
}

func TestFlatIndex_LoadCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snap")
	require.NoError(t, os.WriteFile(path, []byte("not a gob snapshot"), 0o644))

	idx := NewFlatIndex(2, path, 0.3)
	err := idx.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrIndexCorrupt))
	// 损坏时保持空索引，仍可继续写入
	assert.Equal(t, 0, idx.Stats().TotalEntries)
	require.NoError(t, idx.Add(context.Background(), []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0),
	}))
}

func TestFlatIndex_LoadDimMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.snap")
	ctx := context.Background()

	idx := NewFlatIndex(3, path, 0.3)
	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0, 0),
	}))
	require.NoError(t, idx.Persist(ctx))

	other := NewFlatIndex(4, path, 0.3)
	err := other.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))
	assert.Equal(t, 0, other.Stats().TotalEntries)
}

func TestFlatIndex_NeedsRebuildThreshold(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		doc := fmt.Sprintf("doc%d", i)
		require.NoError(t, idx.Add(ctx, []repository.IndexEntry{
			entry(fmt.Sprintf("v%d", i), doc, int64(i), int64(i), 1, float32(i)),
		}))
	}
	assert.False(t, idx.NeedsRebuild())

	// 删 3/10 = 0.3，不大于阈值
	for i := 0; i < 3; i++ {
		_, err := idx.RemoveByDocument(ctx, fmt.Sprintf("doc%d", i))
		require.NoError(t, err)
	}
	assert.False(t, idx.NeedsRebuild())

	// 删到 4/10 = 0.4 > 0.3
	_, err := idx.RemoveByDocument(ctx, "doc3")
	require.NoError(t, err)
	assert.True(t, idx.NeedsRebuild())
}

func TestFlatIndex_RebuildCompacts(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0),
		entry("v2", "doc2", 2, 2, 0, 1),
	}))
	_, err := idx.RemoveByDocument(ctx, "doc1")
	require.NoError(t, err)

	before, err := idx.Search(ctx, []float32{0, 1}, 10, 1)
	require.NoError(t, err)

	require.NoError(t, idx.Rebuild(ctx))

	stats := idx.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 0, stats.Tombstones)
	assert.False(t, idx.NeedsRebuild())

	after, err := idx.Search(ctx, []float32{0, 1}, 10, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after, "重建前后检索结果一致")
}

func TestFlatIndex_RebuildCancelKeepsOriginal(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{
		entry("v1", "doc1", 1, 1, 1, 0),
		entry("v2", "doc2", 2, 2, 0, 1),
	}))
	_, err := idx.RemoveByDocument(ctx, "doc1")
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = idx.Rebuild(cancelled)
	require.Error(t, err)

	// 取消后原结构与墓碑保持权威
	stats := idx.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 1, stats.Tombstones)
}

func TestFlatIndex_ReAddAfterRemoveRevives(t *testing.T) {
	idx := NewFlatIndex(2, filepath.Join(t.TempDir(), "index.snap"), 0.3)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{entry("v1", "doc1", 1, 1, 1, 0)}))
	_, err := idx.RemoveByDocument(ctx, "doc1")
	require.NoError(t, err)

	// 同 VectorID 重新写入会清掉墓碑
	require.NoError(t, idx.Add(ctx, []repository.IndexEntry{entry("v1", "doc1", 1, 5, 0, 1)}))
	hits, err := idx.Search(ctx, []float32{0, 1}, 10, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v1", hits[0].Entry.VectorID)
}
