package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messenger-gateway/internal/call"
	"messenger-gateway/internal/platform/config"
	"messenger-gateway/internal/platform/logger"
	"messenger-gateway/internal/presence"
	"messenger-gateway/internal/storage/database"
)

// Start 啟動 HTTP 伺服器，阻塞直到收到關閉信號.
func Start(repos *database.Repositories, coordinator *call.Coordinator, tracker *presence.Tracker) error {
	cfg := config.Get()

	logger.LogInfof("正在啟動 MessengerGateway API 伺服器，環境: %s", config.GetEnv())

	// setting router
	router := Router(repos, coordinator, tracker)

	// create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.Timeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if cfg.Server.UseHTTPS {
		tlsConfig, err := LoadTLSConfig(cfg.Server.CertPath, cfg.Server.KeyPath)
		if err != nil {
			logger.LogErrorf("載入 TLS 配置失敗: %v", err)
			return err
		}
		server.TLSConfig = tlsConfig
	}

	// start server
	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)

		var err error
		if cfg.Server.UseHTTPS {
			// 憑證已在 TLSConfig 中載入
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	// 停掉在線狀態清理循環
	tracker.Close()

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
