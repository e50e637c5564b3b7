package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"KnowledgeHub/pkg/xerr"
)

// Extractor 把一份原始文档抽取为纯文本。
// 抽取属于外部协作方：失败原样上报，不在这里降级或重试
type Extractor interface {
	// Extract 返回文档的纯文本内容
	Extract(ctx context.Context, fileName string, raw []byte) (string, error)
	// Supports 是否支持该扩展名（不带点，小写）
	Supports(ext string) bool
}

// Registry 按扩展名分发到具体抽取器
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

func NewRegistry(extractors ...Extractor) *Registry {
	return &Registry{extractors: extractors}
}

func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// Extract 找到首个支持该扩展名的抽取器并执行
func (r *Registry) Extract(ctx context.Context, fileName string, raw []byte) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.extractors {
		if e.Supports(ext) {
			text, err := e.Extract(ctx, fileName, raw)
			if err != nil {
				return "", xerr.Wrap(xerr.ErrExtraction, err.Error())
			}
			return text, nil
		}
	}
	return "", xerr.Wrap(xerr.ErrExtraction, fmt.Sprintf("不支持的文件类型: %s", ext))
}

// PlainTextExtractor 纯文本直通
type PlainTextExtractor struct{}

func NewPlainTextExtractor() *PlainTextExtractor { return &PlainTextExtractor{} }

func (e *PlainTextExtractor) Supports(ext string) bool {
	switch ext {
	case "txt", "log", "csv", "":
		return true
	}
	return false
}

func (e *PlainTextExtractor) Extract(ctx context.Context, fileName string, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%s 不是合法的 UTF-8 文本", fileName)
	}
	return string(raw), nil
}

// MarkdownExtractor 去掉 markdown 标记，保留正文
type MarkdownExtractor struct{}

func NewMarkdownExtractor() *MarkdownExtractor { return &MarkdownExtractor{} }

var (
	mdHeading   = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeFence = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?")
	mdLink      = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis  = regexp.MustCompile(`(\*\*|__|\*|_|~~)`)
)

func (e *MarkdownExtractor) Supports(ext string) bool {
	return ext == "md" || ext == "markdown"
}

func (e *MarkdownExtractor) Extract(ctx context.Context, fileName string, raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%s 不是合法的 UTF-8 文本", fileName)
	}
	text := string(raw)
	text = mdCodeFence.ReplaceAllString(text, "")
	text = mdHeading.ReplaceAllString(text, "")
	text = mdLink.ReplaceAllString(text, "$1")
	text = mdEmphasis.ReplaceAllString(text, "")
	return strings.TrimSpace(text), nil
}

var (
	_ Extractor = (*PlainTextExtractor)(nil)
	_ Extractor = (*MarkdownExtractor)(nil)
)
