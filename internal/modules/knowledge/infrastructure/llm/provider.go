package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"KnowledgeHub/internal/config"
	"KnowledgeHub/internal/modules/knowledge/domain/kb"

	arkModel "github.com/cloudwego/eino-ext/components/model/ark"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Generator 基于检索命中生成最终答案。
// 生成属于外部协作方，失败由上层决定降级策略
type Generator interface {
	Answer(ctx context.Context, question string, results []kb.RetrievalResult) (string, error)
}

type ChatModelMeta struct {
	Provider string
	Model    string
}

// NewGeneratorFromConfig 按配置创建生成器。
// 未配置模型时退化为模板拼接，离线部署也能给出可用的回答
func NewGeneratorFromConfig(ctx context.Context, conf *config.Config) (Generator, ChatModelMeta, error) {
	provider := strings.ToLower(strings.TrimSpace(conf.AIConfig.ChatModel.Provider))
	if provider == "" || provider == "template" || provider == "none" {
		return NewTemplateGenerator(), ChatModelMeta{Provider: "template"}, nil
	}

	cm, meta, err := newChatModelFromConfig(ctx, conf)
	if err != nil {
		return nil, ChatModelMeta{}, err
	}
	return NewChatModelGenerator(cm), meta, nil
}

func newChatModelFromConfig(ctx context.Context, conf *config.Config) (model.BaseChatModel, ChatModelMeta, error) {
	if conf == nil {
		return nil, ChatModelMeta{}, fmt.Errorf("nil config")
	}

	provider := strings.ToLower(strings.TrimSpace(conf.AIConfig.ChatModel.Provider))
	modelName := strings.TrimSpace(conf.AIConfig.ChatModel.Model)

	switch provider {
	case "openai":
		apiKey := strings.TrimSpace(conf.AIConfig.ChatModel.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
		}
		baseURL := strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
		}

		if apiKey == "" || modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("openai chat model missing apiKey/model")
		}

		timeout := 2 * time.Minute
		if conf.AIConfig.ChatModel.TimeoutSeconds > 0 {
			timeout = time.Duration(conf.AIConfig.ChatModel.TimeoutSeconds) * time.Second
		}

		cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
			APIKey:     apiKey,
			Model:      modelName,
			BaseURL:    baseURL,
			ByAzure:    conf.AIConfig.ChatModel.ByAzure,
			APIVersion: strings.TrimSpace(conf.AIConfig.ChatModel.AzureAPIVersion),
			Timeout:    timeout,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "openai", Model: modelName}, nil

	case "ark":
		apiKey := strings.TrimSpace(conf.AIConfig.ChatModel.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("ARK_API_KEY"))
		}
		if modelName == "" {
			modelName = strings.TrimSpace(os.Getenv("ARK_MODEL_ID"))
		}
		baseURL := strings.TrimSpace(conf.AIConfig.ChatModel.BaseURL)
		if baseURL == "" {
			baseURL = strings.TrimSpace(os.Getenv("ARK_BASE_URL"))
		}
		if apiKey == "" || modelName == "" {
			return nil, ChatModelMeta{}, fmt.Errorf("ark chat model missing apiKey/model")
		}

		timeout := 2 * time.Minute
		if conf.AIConfig.ChatModel.TimeoutSeconds > 0 {
			timeout = time.Duration(conf.AIConfig.ChatModel.TimeoutSeconds) * time.Second
		}

		cm, err := arkModel.NewChatModel(ctx, &arkModel.ChatModelConfig{
			APIKey:  apiKey,
			Model:   modelName,
			BaseURL: baseURL,
			Timeout: &timeout,
		})
		if err != nil {
			return nil, ChatModelMeta{}, err
		}
		return cm, ChatModelMeta{Provider: "ark", Model: modelName}, nil

	default:
		return nil, ChatModelMeta{}, fmt.Errorf("unknown chat model provider: %s", provider)
	}
}

// ChatModelGenerator 用对话模型生成答案，检索命中作为上下文注入
type ChatModelGenerator struct {
	cm model.BaseChatModel
}

func NewChatModelGenerator(cm model.BaseChatModel) *ChatModelGenerator {
	return &ChatModelGenerator{cm: cm}
}

const systemPrompt = `你是企业内部知识库助手。只依据提供的资料回答问题，资料里没有的内容明确说不知道，不要编造。回答使用提问者的语言。`

func (g *ChatModelGenerator) Answer(ctx context.Context, question string, results []kb.RetrievalResult) (string, error) {
	var b strings.Builder
	b.WriteString("参考资料：\n")
	for i, r := range results {
		b.WriteString(fmt.Sprintf("[%d] %s\n", i+1, r.Content))
	}
	b.WriteString("\n问题：")
	b.WriteString(question)

	messages := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(b.String()),
	}

	resp, err := g.cm.Generate(ctx, messages)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("chat model returned empty content")
	}
	return resp.Content, nil
}

var _ Generator = (*ChatModelGenerator)(nil)
