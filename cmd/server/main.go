// Package main 是中继服务的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"factcheck-relay/internal/config"
	"factcheck-relay/internal/handler"
	"factcheck-relay/internal/repository"
	"factcheck-relay/internal/service"
	"factcheck-relay/pkg/database"
	"factcheck-relay/pkg/kafka"
	"factcheck-relay/pkg/log"
	"factcheck-relay/pkg/storage"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// 3. 初始化远程 KV 后端，启动时只选择一次
	rdb := database.NewRedis(cfg.Redis)
	sessionRepo := repository.NewSessionRepository(rdb)
	log.Infof("会话存储后端: %s", sessionRepo.Backend())

	// 4. 初始化 Service，按需挂上 MinIO 归档
	var relayOpts []service.RelayOption
	if cfg.MinIO.Enabled {
		minioClient, err := storage.NewMinIOClient(ctx, cfg.MinIO)
		if err != nil {
			log.Error("MinIO 初始化失败，消息归档已禁用", err)
		} else {
			archive := storage.NewArchive(minioClient, cfg.MinIO.BucketName, cfg.MinIO.QueueSize)
			relayOpts = append(relayOpts, service.WithArchiver(archive))
			g.Go(func() error { return archive.Run(gctx) })
		}
	}
	relayService := service.NewRelayService(sessionRepo, cfg.Session.TTL, relayOpts...)

	// 5. 启动后台 Kafka 消费者
	if cfg.Kafka.Enabled {
		g.Go(func() error { return kafka.StartConsumer(gctx, cfg.Kafka, relayService) })
	}

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := handler.NewRouter(relayService, sessionRepo)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	g.Go(func() error {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP 服务监听失败: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("接收到停机信号，正在关闭服务...")

		// 设置一个5秒的超时上下文
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("服务异常退出: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info("服务已优雅关闭")
}
