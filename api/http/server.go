package http

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"KnowledgeHub/internal/config"
	"KnowledgeHub/internal/initial"
	jwtMiddleware "KnowledgeHub/internal/middleware/jwt"
	"KnowledgeHub/internal/modules/knowledge/application/service"
	"KnowledgeHub/internal/modules/knowledge/domain/repository"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/chunking"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/contextfold"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/embedding"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/extract"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/llm"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/mq"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/mq/kafka"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/persistence"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/pipeline"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/queue"
	"KnowledgeHub/internal/modules/knowledge/infrastructure/vectordb"
	kbHandler "KnowledgeHub/internal/modules/knowledge/interface/http"
	kbScheduler "KnowledgeHub/internal/modules/knowledge/interface/scheduler"
	"KnowledgeHub/pkg/redis"
	"KnowledgeHub/pkg/ssl"
	"KnowledgeHub/pkg/xerr"
	"KnowledgeHub/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var GE *gin.Engine

// 供 main 做优雅关闭：落盘索引、停掉定时任务与消费端
var (
	KBIndex      repository.VectorIndex
	Maintainer   *kbScheduler.IndexMaintainer
	IngestWorker *queue.IngestConsumerWorker
)

func init() {
	conf := config.GetConfig()
	ctx := context.Background()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	embedder, meta, err := embedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("嵌入模型初始化失败: %v", err))
	}

	KBIndex = buildIndex(ctx, conf, meta.Dim)

	scheduler := embedding.NewBatchScheduler(embedder, embedding.NewRuntimeMemoryMonitor(), embedding.BatchSchedulerConfig{
		Dim:          meta.Dim,
		SoftLimitMB:  conf.MemoryConfig.SoftLimitMB,
		HardLimitMB:  conf.MemoryConfig.HardLimitMB,
		MaxBatchSize: conf.MemoryConfig.MaxBatchSize,
		MinBatchSize: conf.MemoryConfig.MinBatchSize,
	})

	var chunker *chunking.SimpleChunker
	if conf.ChunkConfig.UseRecursive {
		chunker = chunking.NewRecursiveChunker(conf.ChunkConfig.ChunkSize, conf.ChunkConfig.ChunkOverlap)
	} else {
		chunker = chunking.NewSimpleChunker(conf.ChunkConfig.ChunkSize, conf.ChunkConfig.ChunkOverlap)
	}

	extractors := extract.NewRegistry(
		extract.NewPlainTextExtractor(),
		extract.NewMarkdownExtractor(),
	)

	var store repository.SessionStore
	if redis.IsConnected() {
		store = contextfold.NewRedisSessionStore(conf.SessionConfig.MaxHistory)
	} else {
		store = contextfold.NewMemorySessionStore(conf.SessionConfig.MaxHistory)
	}
	folder := contextfold.NewManager(store, conf.SessionConfig.ContextWindow)

	docRepo := persistence.NewDocumentRepository(initial.GormDB)

	queryPipeline, err := pipeline.NewQueryPipeline(folder, scheduler, KBIndex, docRepo, conf.IndexConfig.CandidateMultiplier)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("检索编排初始化失败: %v", err))
	}

	generator, gmeta, err := llm.NewGeneratorFromConfig(ctx, conf)
	if err != nil {
		zlog.Warn(fmt.Sprintf("生成模型初始化失败，降级为模板回答: %v", err))
		generator = llm.NewTemplateGenerator()
	} else {
		zlog.Info(fmt.Sprintf("生成模型: %s/%s，嵌入模型: %s/%s dim=%d",
			gmeta.Provider, gmeta.Model, meta.Provider, meta.Model, meta.Dim))
	}

	publisher, ingestTopic := buildPublisher(conf)

	ingestSvc := service.NewIngestService(docRepo, KBIndex, chunker, scheduler, extractors, publisher, ingestTopic)
	docSvc := service.NewDocumentService(docRepo, KBIndex)
	querySvc := service.NewQueryService(queryPipeline, generator, folder, docRepo)

	IngestWorker = buildIngestWorker(conf, ingestSvc, ingestTopic)
	Maintainer = kbScheduler.NewIndexMaintainer(KBIndex)

	authH := kbHandler.NewAuthHandler()
	queryH := kbHandler.NewQueryHandler(querySvc)
	docH := kbHandler.NewDocumentHandler(ingestSvc, docSvc)
	statsH := kbHandler.NewStatsHandler(docSvc)

	GE.POST("/auth/token", authH.Token)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.POST("/kb/query", queryH.Query)
	authed.POST("/kb/session/clear", queryH.ClearSession)
	authed.POST("/kb/documents", docH.Ingest)
	authed.GET("/kb/documents", docH.List)
	authed.DELETE("/kb/documents/:uuid", docH.Delete)
	authed.GET("/kb/stats", statsH.Stats)
}

// buildIndex 按配置选择索引后端。本地快照损坏时从空索引冷启动，维度不符直接终止
func buildIndex(ctx context.Context, conf *config.Config, dim int) repository.VectorIndex {
	if conf.IndexConfig.Backend == "milvus" {
		collection := strings.TrimSpace(conf.MilvusConfig.CollectionName)
		if collection == "" {
			collection = "kb_vectors"
		}
		index, err := vectordb.NewMilvusIndex(initial.MilvusClient, collection, dim)
		if err != nil {
			zlog.Fatal(fmt.Sprintf("milvus 索引初始化失败: %v", err))
		}
		if err := index.Load(ctx); err != nil {
			zlog.Fatal(fmt.Sprintf("milvus 集合加载失败: %v", err))
		}
		return index
	}

	snapshotPath := strings.TrimSpace(conf.IndexConfig.SnapshotPath)
	if snapshotPath == "" {
		snapshotPath = "data/kb_index.snapshot"
	}
	index := vectordb.NewFlatIndex(dim, snapshotPath, conf.IndexConfig.RebuildThreshold)
	if err := index.Load(ctx); err != nil {
		if errors.Is(err, xerr.ErrIndexCorrupt) {
			zlog.Warn(fmt.Sprintf("索引快照损坏，从空索引冷启动: %v", err))
		} else {
			zlog.Fatal(fmt.Sprintf("索引快照加载失败: %v", err))
		}
	}
	return index
}

// buildPublisher 未配置 Kafka 时返回 nil，异步入库接口不可用但同步入库不受影响
func buildPublisher(conf *config.Config) (mq.Publisher, string) {
	ingestTopic := strings.TrimSpace(conf.KafkaConfig.IngestTopic)
	if ingestTopic == "" {
		ingestTopic = "kb.ingest"
	}
	if len(conf.KafkaConfig.Brokers) == 0 {
		zlog.Info("Kafka 未配置，异步入库不可用")
		return nil, ingestTopic
	}

	adminCfg := kafka.TopicAdminConfig{Brokers: conf.KafkaConfig.Brokers, ClientID: conf.KafkaConfig.ClientID}
	if err := kafka.EnsureTopic(adminCfg, ingestTopic, conf.KafkaConfig.Partitions, conf.KafkaConfig.Replication); err != nil {
		zlog.Warn(fmt.Sprintf("入库主题创建失败: %v", err))
	}

	publisher, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{
		Brokers:  conf.KafkaConfig.Brokers,
		ClientID: conf.KafkaConfig.ClientID,
	})
	if err != nil {
		zlog.Warn(fmt.Sprintf("Kafka 生产者初始化失败，异步入库不可用: %v", err))
		return nil, ingestTopic
	}
	return publisher, ingestTopic
}

func buildIngestWorker(conf *config.Config, ingestSvc *service.IngestService, ingestTopic string) *queue.IngestConsumerWorker {
	if len(conf.KafkaConfig.Brokers) == 0 {
		return nil
	}
	groupID := strings.TrimSpace(conf.KafkaConfig.ConsumerGroupID)
	if groupID == "" {
		groupID = "knowledgehub-ingest"
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  conf.KafkaConfig.Brokers,
		GroupID:  groupID,
		Topics:   []string{ingestTopic},
		ClientID: conf.KafkaConfig.ClientID,
	})
	if err != nil {
		zlog.Warn(fmt.Sprintf("Kafka 消费端初始化失败，异步入库事件不会被消费: %v", err))
		return nil
	}
	return queue.NewIngestConsumerWorker(consumer, ingestSvc)
}
