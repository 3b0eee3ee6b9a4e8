// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"labsight-go/internal/config"
	"labsight-go/internal/handler"
	"labsight-go/internal/middleware"
	"labsight-go/internal/pipeline"
	"labsight-go/internal/repository"
	"labsight-go/internal/service"
	"labsight-go/pkg/cache"
	"labsight-go/pkg/database"
	"labsight-go/pkg/fetcher"
	"labsight-go/pkg/kafka"
	"labsight-go/pkg/llm"
	"labsight-go/pkg/log"
	"labsight-go/pkg/metrics"
	"labsight-go/pkg/retry"
	"labsight-go/pkg/storage"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")
	metrics.MustRegister()

	if cfg.Gemini.APIKey == "" {
		log.Warnf("GEMINI_API_KEY 未配置，模型调用将失败")
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库和 Redis
	rdb, err := database.OpenRedis(rootCtx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	defer rdb.Close()

	// 4. 初始化 Repository
	var reportRepo repository.ReportRepository
	switch cfg.Database.Driver {
	case "mongo":
		mongoClient, coll, err := database.OpenMongo(rootCtx, cfg.Database.Mongo)
		if err != nil {
			log.Fatal("MongoDB 初始化失败", err)
		}
		defer mongoClient.Disconnect(context.Background())
		reportRepo = repository.NewMongoReportRepository(coll)
	default:
		db, err := database.OpenMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatal("MySQL 初始化失败", err)
		}
		reportRepo = repository.NewReportRepository(db)
	}
	jobRepo := repository.NewJobRepository(rdb)
	sessionRepo := repository.NewChatSessionRepository(rdb)

	// 5. 初始化分析流水线
	fetchOpts := []fetcher.Option{
		fetcher.WithMimeDetection(cfg.Analysis.DetectMimeType),
		fetcher.WithMaxBytes(cfg.Upload.MaxSizeBytes),
	}
	if cfg.Cache.Enabled {
		fetchOpts = append(fetchOpts, fetcher.WithCache(cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL())))
	}
	imageFetcher := fetcher.New(fetchOpts...)
	llmClient := llm.NewClient(cfg.Gemini)
	policy := retry.Policy{
		MaxAttempts: cfg.Analysis.MaxAttempts,
		BaseDelay:   cfg.Analysis.BaseDelay(),
		MaxJitter:   cfg.Analysis.MaxJitter(),
		Retryable:   llm.IsOverloaded,
	}
	analyzer := pipeline.NewAnalyzer(llmClient, imageFetcher, policy,
		pipeline.WithConcurrency(cfg.Analysis.Concurrency))

	// 6. 启动后台 Kafka 消费者
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	processor := pipeline.NewProcessor(analyzer, jobRepo, reportRepo)
	consumer := kafka.NewConsumer(cfg.Kafka, rdb, processor)
	var consumerWG sync.WaitGroup
	consumerWG.Add(1)
	go func() {
		defer consumerWG.Done()
		consumer.Run(rootCtx)
	}()

	// 7. 初始化对象存储；凭证缺失时上传接口返回 500
	var imageStore storage.ImageStore
	minioStore, err := storage.NewMinioStore(cfg.MinIO)
	switch {
	case errors.Is(err, storage.ErrNotConfigured):
		log.Warnf("MinIO 凭证未配置，上传接口不可用")
	case err != nil:
		log.Fatal("MinIO 初始化失败", err)
	default:
		if err := minioStore.EnsureBucket(rootCtx); err != nil {
			log.Fatal("MinIO 存储桶初始化失败", err)
		}
		imageStore = minioStore
	}

	// 8. 初始化 Service (依赖注入)
	analysisService := service.NewAnalysisService(analyzer, reportRepo, jobRepo, producer)
	reportService := service.NewReportService(reportRepo)
	chatService := service.NewChatService(llmClient, sessionRepo)
	uploadService := service.NewUploadService(imageStore, cfg.Upload.MaxSizeBytes)

	analysisHandler := handler.NewAnalysisHandler(analysisService)
	reportHandler := handler.NewReportHandler(reportService)
	chatHandler := handler.NewChatHandler(chatService)
	uploadHandler := handler.NewUploadHandler(uploadService)

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(cfg.Server.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		analyze := apiV1.Group("/analyze")
		{
			analyze.POST("", analysisHandler.Analyze)
			analyze.POST("/async", analysisHandler.AnalyzeAsync)
			analyze.GET("/jobs/:id", analysisHandler.GetJob)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("", chatHandler.Chat)
			chat.GET("/ws", chatHandler.Stream)
			chat.GET("/sessions/:id", chatHandler.History)
		}

		reports := apiV1.Group("/reports")
		{
			reports.POST("", reportHandler.Create)
			reports.GET("", reportHandler.List)
		}

		apiV1.POST("/upload", uploadHandler.Upload)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者并等待当前任务结束
	cancelRoot()
	consumerWG.Wait()
	log.Info("服务已优雅关闭")
}
