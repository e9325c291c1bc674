package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"clinic-chat/internal/directory"
	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/logger"
	"clinic-chat/internal/platform/middleware"
	"clinic-chat/internal/platform/server"

	"google.golang.org/grpc"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 以 gRPC 提供配置檔中的靜態預約目錄（開發與整合測試用）.
func mainNoExit() error {
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	dir, err := directory.NewStaticFromConfig(cfg.Directory.Appointments)
	if err != nil {
		return err
	}

	auth := middleware.NewJWTMiddleware(cfg.Security.Authentication.JWTSecret, cfg.Security.Authentication.Issuer, cfg.Security.Authentication.JWTEnabled)
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(directory.LoggingInterceptor(), auth.GRPCUnaryInterceptor()),
	}
	creds, err := server.LoadTLSCredentials(cfg.Security.TLS)
	if err != nil {
		return fmt.Errorf("failed to load TLS credentials: %w", err)
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
		logger.Info(ctx, "gRPC TLS 已啟用")
	} else {
		logger.Info(ctx, "gRPC 以非加密模式運行（開發環境）")
	}

	grpcServer := grpc.NewServer(opts...)
	directory.RegisterServer(grpcServer, dir)

	lis, err := net.Listen("tcp", ":"+cfg.Directory.Port)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		logger.Info(context.Background(), "正在關閉服務器...", logger.WithAction("shutdown"))
		grpcServer.GracefulStop()
	}()

	logger.Info(ctx, "預約目錄 gRPC 服務器啟動", logger.WithDetails(map[string]interface{}{
		"port":         cfg.Directory.Port,
		"appointments": len(cfg.Directory.Appointments),
	}))
	return grpcServer.Serve(lis)
}
