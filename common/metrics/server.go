package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server 指标 HTTP 服务
type Server struct {
	addr    string
	metrics *Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer 创建指标服务，addr 为空时使用 ":9090"
func NewServer(addr string, m *Metrics, logger *zap.Logger) *Server {
	if addr == "" {
		addr = ":9090"
	}
	return &Server{addr: addr, metrics: m, logger: logger}
}

// Handler 返回挂载 /metrics 和 /health 的 mux
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start 在后台启动 HTTP 服务
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.New("metrics server already running")
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := s.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", zap.String("addr", s.addr), zap.Error(err))
		}
	}()

	s.logger.Info("Metrics server started", zap.String("addr", s.addr))
	return nil
}

// Stop 关闭 HTTP 服务
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}
