package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"clinic-chat/internal/chat"
	"clinic-chat/internal/directory"
	"clinic-chat/internal/platform/config"
	"clinic-chat/internal/platform/middleware"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const (
	testSecret = "directory-test-secret"
	testIssuer = "clinic-chat"
)

func startDirectory(t *testing.T) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	auth := middleware.NewJWTMiddleware(testSecret, testIssuer, true)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(directory.LoggingInterceptor(), auth.GRPCUnaryInterceptor()))
	directory.RegisterServer(srv, directory.NewStatic(
		&directory.Appointment{ID: "a1", Patient: directory.Party{ID: "P"}, Doctor: directory.Party{ID: "D"}},
	))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis
}

func dialer(lis *bufconn.Listener) grpc.DialOption {
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestDialWithBearerToken(t *testing.T) {
	lis := startDirectory(t)
	token, err := middleware.SignToken(testSecret, testIssuer, chat.Principal{ID: "svc", Role: chat.RoleDoctor}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"有效 token", token, false},
		{"缺少 token", "", true},
		{"錯誤 token", "not-a-jwt", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := Dial("passthrough:///bufnet", config.TLSConfig{}, dialer(lis), WithBearerToken(tt.token))
			if err != nil {
				t.Fatalf("建立連接失敗: %v", err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			appt, err := directory.NewGRPCClient(conn, time.Second).GetAppointment(ctx, "a1")
			if tt.wantErr {
				if err == nil || errors.Is(err, directory.ErrNotFound) {
					t.Errorf("預期認證失敗，實際 %v", err)
				}
				return
			}
			if err != nil || appt.Patient.ID != "P" {
				t.Errorf("查詢失敗: %+v %v", appt, err)
			}
		})
	}
}

func TestGetConnectionSingleton(t *testing.T) {
	t.Cleanup(func() { _ = CloseConnection() })
	_ = CloseConnection()

	cfg := &config.Config{}
	cfg.App.Name = "clinic-chat"
	cfg.App.Version = "test"
	cfg.Server.Port = "8080"
	cfg.Server.Timeout = 30
	cfg.Database.Driver = "memory"
	cfg.Directory.Driver = "grpc"
	cfg.Directory.Host = "localhost"
	cfg.Directory.Port = "50051"
	if err := config.Load(cfg); err != nil {
		t.Fatalf("載入配置失敗: %v", err)
	}

	a, err := GetConnection()
	if err != nil {
		t.Fatalf("建立連接失敗: %v", err)
	}
	b, _ := GetConnection()
	if a != b || !IsConnected() {
		t.Error("應回傳同一個連接")
	}
	if err := CloseConnection(); err != nil || IsConnected() {
		t.Errorf("關閉連接失敗: %v", err)
	}
}
