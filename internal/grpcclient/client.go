package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"sync"

	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/logger"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

var (
	conn *grpc.ClientConn
	mu   sync.RWMutex
)

// GetConnection 獲取或創建預約目錄的 gRPC 連接（單例模式）
// 自動從配置讀取地址
func GetConnection(opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	mu.RLock()
	if conn != nil {
		mu.RUnlock()
		return conn, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if conn != nil {
		return conn, nil
	}

	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	address := net.JoinHostPort(cfg.Directory.Host, cfg.Directory.Port)
	c, err := Dial(address, cfg.Security.TLS, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory at %s: %w", address, err)
	}
	conn = c
	return conn, nil
}

// Dial 建立連接；TLS 未啟用時使用不安全連接（僅開發環境）
func Dial(address string, tlsCfg config.TLSConfig, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if tlsCfg.Enabled {
		c, err := clientTLS(tlsCfg)
		if err != nil {
			return nil, err
		}
		creds = c
	} else {
		logger.Warning(context.Background(), "預約目錄使用不安全連接（開發環境）",
			logger.WithDetails(map[string]interface{}{"address": address}))
	}
	return grpc.NewClient(address, append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)...)
}

// clientTLS 有客戶端憑證時使用雙向 TLS，否則只驗證服務器憑證
func clientTLS(tlsCfg config.TLSConfig) (credentials.TransportCredentials, error) {
	out := &tls.Config{MinVersion: tls.VersionTLS12}

	if tlsCfg.CAFile != "" {
		ca, err := os.ReadFile(tlsCfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		out.RootCAs = pool
	}
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(out), nil
}

// WithBearerToken 每個請求附帶 authorization 標頭
func WithBearerToken(token string) grpc.DialOption {
	return grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if token != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	})
}

// CloseConnection 關閉 gRPC 連接
func CloseConnection() error {
	mu.Lock()
	defer mu.Unlock()

	if conn != nil {
		err := conn.Close()
		conn = nil
		return err
	}
	return nil
}

// IsConnected 檢查是否已連接
func IsConnected() bool {
	mu.RLock()
	defer mu.RUnlock()
	return conn != nil
}
