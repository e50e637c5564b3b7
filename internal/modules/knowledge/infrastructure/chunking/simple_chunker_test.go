package chunking

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimpleChunker_Empty(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	frags, err := c.Fragments(context.Background(), "   \n  ")
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestSimpleChunker_ShortText(t *testing.T) {
	c := NewSimpleChunker(100, 10)
	frags, err := c.Fragments(context.Background(), "hello world")
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "hello world", frags[0].Text)
	assert.Equal(t, 0, frags[0].Start)
	assert.Equal(t, 11, frags[0].End)
}

func TestSimpleChunker_SpansCoverText(t *testing.T) {
	text := strings.Repeat("知识库系统需要支持中文分片。", 60)
	c := NewSimpleChunker(100, 20)
	frags, err := c.Fragments(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(frags), 1)

	runes := []rune(text)
	prevStart := -1
	for _, f := range frags {
		assert.GreaterOrEqual(t, f.Start, 0)
		assert.LessOrEqual(t, f.End, len(runes))
		assert.Greater(t, f.End, f.Start)
		// 片段文本应能在对应区间内找到
		assert.Contains(t, string(runes[f.Start:f.End]), f.Text)
		assert.Greater(t, f.Start, prevStart)
		prevStart = f.Start
	}
	// 末尾片段必须覆盖到文本结尾
	assert.Equal(t, len(runes), frags[len(frags)-1].End)
}

func TestSimpleChunker_BreaksAtSentence(t *testing.T) {
	text := "第一句话在这里。第二句话跟在后面，它比较长，足以触发切分逻辑。第三句话结束。"
	c := NewSimpleChunker(20, 5)
	frags, err := c.Fragments(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, frags)
	// 除最后一个片段外，片段应以句末符号结尾
	for _, f := range frags[:len(frags)-1] {
		last := []rune(f.Text)[len([]rune(f.Text))-1]
		assert.Contains(t, "。！？!?.", string(last), "fragment %q should end at a boundary", f.Text)
	}
}

func TestSimpleChunker_NoRuneSplit(t *testing.T) {
	text := strings.Repeat("汉", 300)
	c := NewSimpleChunker(128, 16)
	frags, err := c.Fragments(context.Background(), text)
	require.NoError(t, err)
	for _, f := range frags {
		for _, r := range f.Text {
			assert.Equal(t, '汉', r)
		}
	}
}

func TestSimpleChunker_OverlapAdvances(t *testing.T) {
	// overlap >= size 时必须仍然前进，不能死循环
	c := NewSimpleChunker(10, 100)
	frags, err := c.Fragments(context.Background(), strings.Repeat("a", 50))
	require.NoError(t, err)
	assert.NotEmpty(t, frags)
}
