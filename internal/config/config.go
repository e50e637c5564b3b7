package config

import (
	"log"

	"KnowledgeHub/pkg/zlog"

	"github.com/BurntSushi/toml"
)

type MainConfig struct {
	AppName string `toml:"appName"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

type MysqlConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
}

type LogConfig struct {
	LogPath string `toml:"logPath"`
}

type JwtConfig struct {
	Key         string `toml:"key"`
	ExpireHours int    `toml:"expireHours"`
	Issuer      string `toml:"issuer"`
}

// IndexConfig 向量索引配置
// RebuildThreshold 与 CandidateMultiplier 必须可配置，测试需要用它们确定性地触发重建与过采样
type IndexConfig struct {
	Backend             string  `toml:"backend"`             // local（默认）或 milvus
	VectorDim           int     `toml:"vectorDim"`           // 向量维度，所有入库向量必须一致
	SnapshotPath        string  `toml:"snapshotPath"`        // 本地索引快照目录
	RebuildThreshold    float64 `toml:"rebuildThreshold"`    // 墓碑占比超过该值时触发重建（如 0.3）
	CandidateMultiplier int     `toml:"candidateMultiplier"` // 检索过采样倍数（权限过滤后仍能凑满 k 条）
	CheckpointCron      string  `toml:"checkpointCron"`      // 周期落盘的 cron 表达式
}

// MemoryConfig 嵌入批处理的内存预算（面向 8GB 整机上限的进程内预算）
type MemoryConfig struct {
	SoftLimitMB  int `toml:"softLimitMB"`  // 超过后收缩批次并强制释放
	HardLimitMB  int `toml:"hardLimitMB"`  // 最小批次连续两次超过则报 ResourceExhausted
	MaxBatchSize int `toml:"maxBatchSize"` // 初始批次大小
	MinBatchSize int `toml:"minBatchSize"` // 回退下限（通常为 1）
}

// SessionConfig 会话历史配置
type SessionConfig struct {
	MaxHistory    int `toml:"maxHistory"`    // 历史消息上限，FIFO 淘汰最旧的
	ContextWindow int `toml:"contextWindow"` // 折叠进有效查询的最近轮次数
}

// ChunkConfig 切片配置
type ChunkConfig struct {
	ChunkSize    int  `toml:"chunkSize"`
	ChunkOverlap int  `toml:"chunkOverlap"`
	UseRecursive bool `toml:"useRecursive"`
}

type MilvusConfig struct {
	Address        string `toml:"address"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	DBName         string `toml:"dbName"`
	CollectionName string `toml:"collectionName"`
	MetricType     string `toml:"metricType"`
}

type KafkaConfig struct {
	Brokers         []string `toml:"brokers"`
	ClientID        string   `toml:"clientID"`
	IngestTopic     string   `toml:"ingestTopic"`
	ConsumerGroupID string   `toml:"consumerGroupID"`
	Partitions      int32    `toml:"partitions"`
	Replication     int16    `toml:"replication"`
}

type AIEmbeddingConfig struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"apiKey"`
	BaseURL        string `toml:"baseURL"`
	Model          string `toml:"model"`
	Dimensions     int    `toml:"dimensions"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
}

type AIChatModelConfig struct {
	Provider        string `toml:"provider"`
	APIKey          string `toml:"apiKey"`
	BaseURL         string `toml:"baseURL"`
	Model           string `toml:"model"`
	TimeoutSeconds  int    `toml:"timeoutSeconds"`
	ByAzure         bool   `toml:"byAzure"`
	AzureAPIVersion string `toml:"azureApiVersion"`
}

type AIConfig struct {
	Embedding AIEmbeddingConfig `toml:"embedding"`
	ChatModel AIChatModelConfig `toml:"chatModel"`
}

type RedisConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"poolSize"`
	MinIdleConns int    `toml:"minIdleConns"`
}

type Config struct {
	MainConfig    `toml:"mainConfig"`
	MysqlConfig   `toml:"mysqlConfig"`
	JwtConfig     `toml:"jwtConfig"`
	IndexConfig   `toml:"indexConfig"`
	MemoryConfig  `toml:"memoryConfig"`
	SessionConfig `toml:"sessionConfig"`
	ChunkConfig   `toml:"chunkConfig"`
	MilvusConfig  `toml:"milvusConfig"`
	KafkaConfig   `toml:"kafkaConfig"`
	AIConfig      `toml:"aiConfig"`
	LogConfig     `toml:"logConfig"`
	RedisConfig   `toml:"redisConfig"`
}

var config *Config

func LoadConfig() error {
	configPath := "configs/config_local.toml"
	if _, err := toml.DecodeFile(configPath, config); err != nil {
		log.Printf("加载配置文件失败: %v, 尝试使用默认设置", err)
		return err
	}
	applyDefaults(config)
	return nil
}

func applyDefaults(c *Config) {
	if c.IndexConfig.VectorDim <= 0 {
		c.IndexConfig.VectorDim = 384
	}
	if c.IndexConfig.RebuildThreshold <= 0 {
		c.IndexConfig.RebuildThreshold = 0.3
	}
	if c.IndexConfig.CandidateMultiplier < 2 {
		c.IndexConfig.CandidateMultiplier = 2
	}
	if c.MemoryConfig.SoftLimitMB <= 0 {
		c.MemoryConfig.SoftLimitMB = 4096
	}
	if c.MemoryConfig.HardLimitMB <= 0 {
		c.MemoryConfig.HardLimitMB = 6000
	}
	if c.MemoryConfig.MaxBatchSize <= 0 {
		c.MemoryConfig.MaxBatchSize = 32
	}
	if c.MemoryConfig.MinBatchSize <= 0 {
		c.MemoryConfig.MinBatchSize = 1
	}
	if c.SessionConfig.MaxHistory <= 0 {
		c.SessionConfig.MaxHistory = 20
	}
	if c.SessionConfig.ContextWindow <= 0 {
		c.SessionConfig.ContextWindow = 3
	}
	if c.ChunkConfig.ChunkSize <= 0 {
		c.ChunkConfig.ChunkSize = 512
	}
	if c.ChunkConfig.ChunkOverlap <= 0 {
		c.ChunkConfig.ChunkOverlap = 50
	}
}

func GetConfig() *Config {
	if config == nil {
		config = new(Config)
		_ = LoadConfig()
		// 日志器必须在各 init 阶段使用前就绪，而所有 init 都先取配置
		zlog.Init(config.LogConfig.LogPath)
	}
	return config
}
