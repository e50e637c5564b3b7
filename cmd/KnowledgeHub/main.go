package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	https_server "KnowledgeHub/api/http"
	"KnowledgeHub/internal/config"
	"KnowledgeHub/pkg/redis"
	"KnowledgeHub/pkg/zlog"
)

func main() {
	// 1. 加载配置
	conf := config.GetConfig()
	host := conf.MainConfig.Host
	port := conf.MainConfig.Port

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 索引维护定时任务（按墓碑占比重建 + 周期落盘）
	if err := https_server.Maintainer.Start(conf.IndexConfig.CheckpointCron); err != nil {
		zlog.Fatal("索引维护任务启动失败: " + err.Error())
	}

	// 3. 异步入库消费端（未配置 Kafka 时为空）
	if https_server.IngestWorker != nil {
		go func() {
			if err := https_server.IngestWorker.Run(ctx); err != nil && ctx.Err() == nil {
				zlog.Error("入库消费端退出: " + err.Error())
			}
		}()
	}

	// 4. 启动 HTTP 服务
	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		zlog.Info(fmt.Sprintf("服务器正在启动，监听地址: %s", addr))
		// 目前使用 HTTP 启动。如果需要 HTTPS，请配置证书并使用 GE.RunTLS
		if err := https_server.GE.Run(addr); err != nil {
			zlog.Fatal("服务器启动失败: " + err.Error())
			return
		}
	}()

	// 5. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// 等待退出信号
	<-quit

	zlog.Info("正在关闭服务器...")
	cancel()

	if https_server.IngestWorker != nil {
		if err := https_server.IngestWorker.Close(); err != nil {
			zlog.Error("入库消费端关闭失败: " + err.Error())
		}
	}
	https_server.Maintainer.Stop()

	// 退出前把索引落盘，重启后从快照恢复
	if err := https_server.KBIndex.Persist(context.Background()); err != nil {
		zlog.Error("索引落盘失败: " + err.Error())
	}

	if err := redis.Close(); err != nil {
		zlog.Error("Redis 关闭失败: " + err.Error())
	}

	zlog.Info("服务器已关闭")
	zlog.Sync()
}
