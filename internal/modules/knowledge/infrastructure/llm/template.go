package llm

import (
	"context"
	"fmt"
	"strings"

	"KnowledgeHub/internal/modules/knowledge/domain/kb"
)

// templateTopN 模板回答最多引用的片段数
const templateTopN = 3

// TemplateGenerator 无模型环境下的降级生成器：直接拼接得分最高的片段。
// 输入已按得分降序排好，这里不再排序
type TemplateGenerator struct{}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Answer(ctx context.Context, question string, results []kb.RetrievalResult) (string, error) {
	if len(results) == 0 {
		return "知识库中没有找到与该问题相关的内容。", nil
	}

	n := templateTopN
	if len(results) < n {
		n = len(results)
	}

	var b strings.Builder
	b.WriteString("根据知识库检索到以下相关内容：\n\n")
	for i := 0; i < n; i++ {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, strings.TrimSpace(results[i].Content)))
	}
	return b.String(), nil
}

var _ Generator = (*TemplateGenerator)(nil)
