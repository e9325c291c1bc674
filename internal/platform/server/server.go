package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"clinic-chat/internal/platform/logger"
)

const shutdownTimeout = 30 * time.Second

// Serve 啟動 HTTP 伺服器，ctx 結束時優雅關閉
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "伺服器正在監聽", logger.WithDetails(map[string]interface{}{"addr": srv.Addr}))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "收到關閉信號，正在優雅關閉伺服器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info(context.Background(), "伺服器已優雅關閉")
	return nil
}
