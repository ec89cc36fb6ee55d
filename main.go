package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/vybzcody/paymebro-sub003/internal/config"
	"github.com/vybzcody/paymebro-sub003/internal/db"
	"github.com/vybzcody/paymebro-sub003/internal/events"
	"github.com/vybzcody/paymebro-sub003/internal/fees"
	"github.com/vybzcody/paymebro-sub003/internal/handler"
	"github.com/vybzcody/paymebro-sub003/internal/monitor"
	"github.com/vybzcody/paymebro-sub003/internal/notify"
	"github.com/vybzcody/paymebro-sub003/internal/oracle"
	"github.com/vybzcody/paymebro-sub003/internal/services"
	"github.com/vybzcody/paymebro-sub003/utils"
)

const heartbeatInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml)")
	flag.Parse()

	// 读取配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := utils.NewLogger(cfg.App.Env)
	if err != nil {
		log.Fatal("初始化日志失败:", err)
	}
	defer logger.Sync()

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("auth.jwt_secret is required")
	}

	// 连接 MySQL 并运行表结构迁移
	dbConn, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("MySQL 连接失败", zap.Error(err))
	}
	store := db.NewStore(dbConn, logger)
	if err := store.Migrate(); err != nil {
		logger.Fatal("表迁移失败", zap.Error(err))
	}
	logger.Info("数据库初始化完成")

	tiers, err := cfg.FeeTiers()
	if err != nil {
		logger.Fatal("invalid fee tiers", zap.Error(err))
	}
	usdcMint, err := solana.PublicKeyFromBase58(cfg.Solana.USDC)
	if err != nil {
		logger.Fatal("invalid solana.usdc_mint", zap.Error(err))
	}

	statusOracle := oracle.NewSolana(rpc.New(cfg.Solana.RPCURL), rpc.CommitmentType(cfg.Solana.Commitment), logger)
	mon := monitor.New(statusOracle, logger,
		monitor.WithInterval(cfg.App.PollInterval),
		monitor.WithTimeout(cfg.App.MonitorTimeout),
		monitor.WithHandlerTimeout(cfg.App.HandlerTimeout),
	)

	hub := notify.NewHub(logger)
	dispatcherOpts := []notify.DispatcherOption{notify.WithMaxHistory(cfg.Notifications.MaxHistory)}
	if cfg.Notifications.NativeEnabled {
		dispatcherOpts = append(dispatcherOpts, notify.WithPlatformNotifier(hub))
	}
	dispatcher := notify.NewDispatcher(logger, dispatcherOpts...)
	dispatcher.Subscribe(hub.Broadcast)

	mon.OnTransition(dispatcher.HandleTransition)
	mon.OnTransition(store.HandleTransition)
	if cfg.Kafka.Enabled {
		publisher := events.NewPublisher(events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger), logger)
		defer publisher.Close()
		mon.OnTransition(publisher.HandleTransition)
		logger.Info("Kafka publisher initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	builder := services.NewRequestBuilder(fees.NewCalculator(tiers), store, usdcMint, logger,
		services.WithValidity(cfg.App.RequestValidity),
	)
	payments := services.NewPaymentService(builder, mon, dispatcher, store, logger,
		services.WithAnnounce(true),
		services.WithPermissionRequester(hub),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mon.Start(ctx)
	go hub.Heartbeat(ctx, heartbeatInterval)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	handler.RegisterRoutes(r, handler.New(payments, logger,
		handler.WithHub(hub),
		handler.WithPinger(store),
	), cfg.Auth.JWTSecret)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("服务器启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	hub.Close()
	mon.Shutdown()
}
