package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"messenger-gateway/internal/call"
	"messenger-gateway/internal/constants"
	"messenger-gateway/internal/platform/config"
	"messenger-gateway/internal/platform/driver"
	"messenger-gateway/internal/platform/logger"
	"messenger-gateway/internal/platform/server"
	"messenger-gateway/internal/presence"
	"messenger-gateway/internal/storage/database"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 連接資料庫.
	if err := driver.ConnectMongo(); err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(ctx, "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	// 設置 MongoDB 連接到 database 包
	database.SetMongoDB(driver.GetMongoDatabase())

	// 初始化 Repository.
	repos := database.NewRepositories(cfg)
	if repos == nil {
		return fmt.Errorf("repository initialization failed")
	}

	// 通話信令協調器
	ringTimeout := constants.DefaultCallRingTimeout
	if cfg.Call.RingTimeoutSeconds > 0 {
		ringTimeout = time.Duration(cfg.Call.RingTimeoutSeconds) * time.Second
	}
	callOpts := []call.CoordinatorOption{call.WithRingTimeout(ringTimeout)}
	if cfg.Call.MaxPendingCandidates > 0 {
		callOpts = append(callOpts, call.WithMaxPendingCandidates(cfg.Call.MaxPendingCandidates))
	}
	coordinator := call.NewCoordinator(call.NewMemoryRegistry(), callOpts...)

	// 在線狀態追蹤器
	presenceTTL := constants.DefaultPresenceTTL
	if cfg.Presence.TTLSeconds > 0 {
		presenceTTL = time.Duration(cfg.Presence.TTLSeconds) * time.Second
	}
	tracker := presence.NewTracker(presenceTTL)

	logger.Info(ctx, "[System] 初始化完成，啟動 HTTP 伺服器", logger.WithDetails(map[string]interface{}{
		"ring_timeout": ringTimeout.String(),
		"presence_ttl": presenceTTL.String(),
		"encryption":   cfg.Security.Encryption.Enabled,
	}))

	// 啟動 HTTP 伺服器（阻塞直到收到關閉信號）
	return server.Start(repos, coordinator, tracker)
}
