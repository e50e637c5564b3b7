package chunking

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino-ext/components/document/transformer/splitter/recursive"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

// Fragment 一个切片及其在原文中的 rune 区间 [Start, End)
type Fragment struct {
	Text  string
	Start int
	End   int
}

// SimpleChunker 将文本切分为固定大小、带重叠的多个片段
type SimpleChunker struct {
	ChunkSize    int
	ChunkOverlap int
	useRecursive bool

	initOnce      sync.Once
	initErr       error
	recursiveImpl document.Transformer
}

// NewSimpleChunker 创建一个切片器，并设置切片大小与重叠长度
func NewSimpleChunker(size, overlap int) *SimpleChunker {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}
	return &SimpleChunker{ChunkSize: size, ChunkOverlap: overlap}
}

func NewRecursiveChunker(size, overlap int) *SimpleChunker {
	c := NewSimpleChunker(size, overlap)
	c.useRecursive = true
	return c
}

// Fragments 切分文本并保留每个片段的原文区间。
// 基于 rune 计数，中文等多字节字符不会被截断；片段末尾尽量落在句号或换行上
func (c *SimpleChunker) Fragments(ctx context.Context, text string) ([]Fragment, error) {
	if strings.TrimSpace(text) == "" {
		return []Fragment{}, nil
	}
	if c.useRecursive {
		return c.recursiveFragments(ctx, text)
	}
	return c.simpleFragments(text), nil
}

func (c *SimpleChunker) simpleFragments(text string) []Fragment {
	runes := []rune(text)
	total := len(runes)

	var out []Fragment
	start := 0
	for start < total {
		end := start + c.ChunkSize
		if end > total {
			end = total
		}
		piece := runes[start:end]

		// 在句子或行边界断开；断点太靠前（小于半个切片）就放弃，硬切
		if end < total {
			if bp := breakPoint(piece); bp > c.ChunkSize/2 {
				piece = piece[:bp+1]
				end = start + bp + 1
			}
		}

		if strings.TrimSpace(string(piece)) != "" {
			out = append(out, Fragment{Text: strings.TrimSpace(string(piece)), Start: start, End: end})
		}

		if end == total {
			break
		}
		next := end - c.ChunkOverlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// breakPoint 返回片段内最后一个句末/换行符的位置，没有则返回 -1
func breakPoint(piece []rune) int {
	for i := len(piece) - 1; i >= 0; i-- {
		switch piece[i] {
		case '\n', '.', '。', '！', '？', '!', '?':
			return i
		}
	}
	return -1
}

func (c *SimpleChunker) recursiveFragments(ctx context.Context, text string) ([]Fragment, error) {
	c.initOnce.Do(func() {
		impl, err := recursive.NewSplitter(ctx, &recursive.Config{
			ChunkSize:   c.ChunkSize,
			OverlapSize: c.ChunkOverlap,
			Separators:  []string{"\n\n", "\n", "。", "！", "？", "；", ". ", " "},
			LenFunc: func(s string) int {
				return len([]rune(s))
			},
			KeepType: recursive.KeepTypeEnd,
		})
		if err != nil {
			c.initErr = err
			return
		}
		c.recursiveImpl = impl
	})
	if c.initErr != nil {
		return nil, c.initErr
	}
	if c.recursiveImpl == nil {
		return nil, fmt.Errorf("recursive splitter not initialized")
	}

	frags, err := c.recursiveImpl.Transform(ctx, []*schema.Document{{Content: text}})
	if err != nil {
		return nil, err
	}

	// 递归切分器不返回区间，这里从游标附近回查片段位置还原出来
	runes := []rune(text)
	out := make([]Fragment, 0, len(frags))
	cursor := 0
	for _, f := range frags {
		if f == nil || strings.TrimSpace(f.Content) == "" {
			continue
		}
		from := cursor - c.ChunkOverlap
		if from < 0 {
			from = 0
		}
		idx := indexRunes(runes, []rune(f.Content), from)
		if idx < 0 {
			idx = cursor
		}
		end := idx + len([]rune(f.Content))
		out = append(out, Fragment{Text: f.Content, Start: idx, End: end})
		cursor = end
	}
	return out, nil
}

func indexRunes(haystack, needle []rune, from int) int {
	if from < 0 {
		from = 0
	}
	if len(needle) == 0 || from >= len(haystack) {
		return -1
	}
	limit := len(haystack) - len(needle)
	for i := from; i <= limit; i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
