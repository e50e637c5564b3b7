package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/cloudwego/eino/components/embedding"
)

// MockEmbedder 离线嵌入实现：由文本哈希确定性生成归一化向量。
// 相同文本总是得到相同向量，且与批次大小无关，本地部署无外部依赖时可用
type MockEmbedder struct {
	Dim int
}

func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{Dim: dim}
}

func (m *MockEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	result := make([][]float64, len(texts))
	for i, text := range texts {
		result[i] = m.embedOne(text)
	}
	return result, nil
}

func (m *MockEmbedder) embedOne(text string) []float64 {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float64, m.Dim)
	var norm float64
	buf := seed[:]
	for j := 0; j < m.Dim; j++ {
		if j > 0 && j%4 == 0 {
			next := sha256.Sum256(buf)
			buf = next[:]
		}
		bits := binary.BigEndian.Uint64(buf[(j%4)*8 : (j%4)*8+8])
		v := float64(bits%20001)/10000.0 - 1.0
		vec[j] = v
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for j := range vec {
			vec[j] /= norm
		}
	}
	return vec
}

// 确保实现接口
var _ embedding.Embedder = (*MockEmbedder)(nil)
