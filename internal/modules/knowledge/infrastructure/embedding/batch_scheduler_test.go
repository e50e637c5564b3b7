package embedding

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"KnowledgeHub/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMonitor 可控内存水位，ForceRelease 每次下降固定值
type fakeMonitor struct {
	usedMB      int
	releaseDrop int
	releases    int
}

func (m *fakeMonitor) UsedMB() int { return m.usedMB }

func (m *fakeMonitor) ForceRelease() {
	m.releases++
	m.usedMB -= m.releaseDrop
	if m.usedMB < 0 {
		m.usedMB = 0
	}
}

// recordingEmbedder 记录每次调用的批次大小
type recordingEmbedder struct {
	inner      embedding.Embedder
	batchSizes []int
}

func (r *recordingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	r.batchSizes = append(r.batchSizes, len(texts))
	return r.inner.EmbedStrings(ctx, texts, opts...)
}

func makeTexts(n int) []string {
	texts := make([]string, n)
	for i := range texts {
		texts[i] = fmt.Sprintf("文档片段 %d", i)
	}
	return texts
}

func TestBatchScheduler_OrderAndLength(t *testing.T) {
	mock := NewMockEmbedder(8)
	s := NewBatchScheduler(mock, &fakeMonitor{usedMB: 100}, BatchSchedulerConfig{
		Dim: 8, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 4, MinBatchSize: 1,
	})

	texts := makeTexts(10)
	vectors, err := s.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, text := range texts {
		want, _ := mock.EmbedStrings(context.Background(), []string{text})
		for j := range vectors[i] {
			assert.InDelta(t, want[0][j], float64(vectors[i][j]), 1e-6, "text %d dim %d", i, j)
		}
	}
}

func TestBatchScheduler_DeterministicAcrossBatchSizes(t *testing.T) {
	texts := makeTexts(17)

	embed := func(maxBatch int) [][]float32 {
		s := NewBatchScheduler(NewMockEmbedder(16), &fakeMonitor{usedMB: 100}, BatchSchedulerConfig{
			Dim: 16, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: maxBatch, MinBatchSize: 1,
		})
		vectors, err := s.EmbedTexts(context.Background(), texts)
		require.NoError(t, err)
		return vectors
	}

	assert.Equal(t, embed(32), embed(4))
	assert.Equal(t, embed(32), embed(1))
}

func TestBatchScheduler_ShrinksUnderPressure(t *testing.T) {
	// 初始 5000MB 超过软水位 4096，每次释放下降 500：32→16→8 后落到水位之下
	monitor := &fakeMonitor{usedMB: 5000, releaseDrop: 500}
	rec := &recordingEmbedder{inner: NewMockEmbedder(8)}
	s := NewBatchScheduler(rec, monitor, BatchSchedulerConfig{
		Dim: 8, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 32, MinBatchSize: 1,
	})

	vectors, err := s.EmbedTexts(context.Background(), makeTexts(40))
	require.NoError(t, err)
	assert.Len(t, vectors, 40)
	require.NotEmpty(t, rec.batchSizes)
	assert.Equal(t, 8, rec.batchSizes[0], "first batch should run after shrinking 32→16→8")
	assert.GreaterOrEqual(t, monitor.releases, 2)
}

func TestBatchScheduler_ResourceExhaustedAfterTwoStrikes(t *testing.T) {
	// 最小批次下持续越过硬水位，释放也降不下来
	monitor := &fakeMonitor{usedMB: 7000, releaseDrop: 0}
	s := NewBatchScheduler(NewMockEmbedder(8), monitor, BatchSchedulerConfig{
		Dim: 8, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 1, MinBatchSize: 1,
	})

	_, err := s.EmbedTexts(context.Background(), makeTexts(3))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrResourceExhausted))
}

func TestBatchScheduler_RecoversAfterSingleStrike(t *testing.T) {
	// 第一次 strike 后释放见效，任务应完成而不是报错
	monitor := &fakeMonitor{usedMB: 7000, releaseDrop: 6000}
	s := NewBatchScheduler(NewMockEmbedder(8), monitor, BatchSchedulerConfig{
		Dim: 8, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 1, MinBatchSize: 1,
	})

	vectors, err := s.EmbedTexts(context.Background(), makeTexts(3))
	require.NoError(t, err)
	assert.Len(t, vectors, 3)
}

func TestBatchScheduler_DimensionMismatch(t *testing.T) {
	// 模型返回 8 维，索引期望 16 维，整批拒绝
	s := NewBatchScheduler(NewMockEmbedder(8), &fakeMonitor{usedMB: 100}, BatchSchedulerConfig{
		Dim: 16, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 4, MinBatchSize: 1,
	})

	_, err := s.EmbedTexts(context.Background(), makeTexts(2))
	require.Error(t, err)
	assert.True(t, errors.Is(err, xerr.ErrDimensionMismatch))
}

func TestBatchScheduler_EmptyInput(t *testing.T) {
	s := NewBatchScheduler(NewMockEmbedder(8), &fakeMonitor{usedMB: 100}, BatchSchedulerConfig{
		Dim: 8, SoftLimitMB: 4096, HardLimitMB: 6000, MaxBatchSize: 4, MinBatchSize: 1,
	})
	vectors, err := s.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestMockEmbedder_DeterministicAndNormalized(t *testing.T) {
	m := NewMockEmbedder(32)
	a, err := m.EmbedStrings(context.Background(), []string{"同一段文本"})
	require.NoError(t, err)
	b, err := m.EmbedStrings(context.Background(), []string{"同一段文本"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var norm float64
	for _, v := range a[0] {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-6)

	c, err := m.EmbedStrings(context.Background(), []string{"另一段文本"})
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}
