package server

import (
	"crypto/tls"
	"fmt"
)

// LoadTLSConfig 載入 HTTPS 伺服器的 TLS 配置
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" || keyFile == "" {
		return nil, fmt.Errorf("cert_path and key_path are required when use_https is enabled")
	}

	// 載入服務器憑證和私鑰
	serverCert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %v", err)
	}

	// 只接受 TLS 1.3
	return &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		MinVersion:   tls.VersionTLS13,
	}, nil
}
