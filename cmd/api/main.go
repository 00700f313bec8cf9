package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailrelay/backend/internal/config"
	"mailrelay/backend/internal/health"
	"mailrelay/backend/internal/lock"
	"mailrelay/backend/internal/logger"
	"mailrelay/backend/internal/mailer"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/security"
	"mailrelay/backend/internal/service"
	"mailrelay/backend/internal/smtp"
	"mailrelay/backend/internal/storage"
	"mailrelay/backend/internal/storage/database"
	"mailrelay/backend/internal/storage/filesystem"
	"mailrelay/backend/internal/storage/memory"
	redisstore "mailrelay/backend/internal/storage/redis"
	httptransport "mailrelay/backend/internal/transport/http"
)

// main 是邮件中继 HTTP 服务的程序入口。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAge:      cfg.Log.MaxAge,
		Compress:    cfg.Log.Compress,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	os.Exit(finish(log, run(cfg, log)))
}

// finish 记录退出原因并刷新日志，返回进程退出码
func finish(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("mailrelay stopped with error", zap.Error(err))
		code = 1
	} else {
		log.Info("mailrelay stopped")
	}
	_ = log.Sync()
	return code
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting mailrelay",
		zap.String("database", cfg.Database.Type),
		zap.String("transport", cfg.Transport.Driver),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("sink", cfg.Sink.Enabled),
	)

	store, err := openStore(cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	blobs, err := filesystem.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open attachment storage: %w", err)
	}
	log.Info("attachment storage initialized", zap.String("path", blobs.BasePath()))

	healthDeps := health.Dependencies{
		Database: store.Health,
		Blobs:    blobs.Health,
	}

	// 多实例部署时用 Redis 认领待发邮件，单实例使用进程内租约
	var locker lock.Locker = lock.NewLocal()
	if cfg.Redis.Enabled {
		rdb, err := redisstore.New(redisstore.Options{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = redisstore.NewLocker(rdb.Client(), "")
		healthDeps.Redis = rdb
	}

	transport, err := mailer.New(ctx, mailer.Config{
		Driver:             cfg.Transport.Driver,
		Host:               cfg.Transport.Host,
		Port:               cfg.Transport.Port,
		Username:           cfg.Transport.Username,
		Password:           cfg.Transport.Password,
		TLS:                cfg.Transport.TLS,
		InsecureSkipVerify: cfg.Transport.InsecureSkipVerify,
		LocalName:          cfg.Transport.LocalName,
		Timeout:            cfg.Transport.Timeout,
		Region:             cfg.Transport.Region,
		AccessKeyID:        cfg.Transport.AccessKeyID,
		SecretAccessKey:    cfg.Transport.SecretAccessKey,
	}, log)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	if smtpTransport, ok := transport.(*mailer.SMTPTransport); ok {
		healthDeps.TransportAddr = smtpTransport.Addr()
	}

	metrics := monitoring.NewMetrics(nil)

	users := service.NewUserService(store, log, metrics)
	attachments := service.NewAttachmentService(store, blobs, security.NewAttachmentScreen(cfg.Upload.MaxSize), log, metrics)
	sender := service.NewSender(users, attachments, transport, service.SenderOptions{
		MaxConcurrent: cfg.Transport.MaxConcurrent,
		RateLimit:     cfg.Transport.RateLimit,
		Burst:         cfg.Transport.Burst,
		Locker:        locker,
		ClaimTTL:      cfg.Dispatch.ClaimTTL,
	}, log, metrics)
	emails := service.NewEmailService(store, users, attachments, sender, log, metrics)
	dispatcher := service.NewDispatcher(store, sender, log, metrics)

	router := httptransport.NewRouter(httptransport.RouterDependencies{
		UserService:       users,
		AttachmentService: attachments,
		EmailService:      emails,
		Dispatcher:        dispatcher,
		Metrics:           metrics,
		Health:            health.NewHealthChecker(ctx, healthDeps, log),
		AllowedOrigins:    cfg.CORS.AllowedOrigins,
		MaxUploadSize:     cfg.Upload.MaxSize,
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var sink *smtp.Sink
	if cfg.Sink.Enabled {
		sink = smtp.NewSink(smtp.SinkConfig{
			Domain:      cfg.Sink.Domain,
			Username:    cfg.Sink.Username,
			Password:    cfg.Sink.Password,
			MaxMessages: cfg.Sink.MaxMessages,
		}, log)
		group.Go(func() error {
			return sink.ListenAndServe(cfg.Sink.Address)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), cfg.Server.ShutdownTimeout)
		defer cancel()

		err := httpServer.Shutdown(shutdownCtx)
		if sink != nil {
			err = errors.Join(err, sink.Shutdown(shutdownCtx))
		}
		return err
	})

	return group.Wait()
}

// openStore 根据配置选择内存存储或关系数据库
func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Type == config.DatabaseMemory {
		return memory.NewStore(), nil
	}
	return database.Open(database.Options{
		Driver:          cfg.Type,
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
}
