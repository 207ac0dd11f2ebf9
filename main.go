package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"outfit-stylist-server/modules/common/config"
	"outfit-stylist-server/modules/common/gemini"
	"outfit-stylist-server/modules/common/logger"
	redisClient "outfit-stylist-server/modules/common/redis"
	"outfit-stylist-server/modules/common/vertexai"
	"outfit-stylist-server/modules/outfit"
	"outfit-stylist-server/modules/realtime"
)

// server - 라우터에서 쓰는 공용 핸들러 묶음
type server struct {
	cfg         *config.Config
	hub         *realtime.Hub
	memoryStore *outfit.MemoryStore // STORE_BACKEND=memory 일 때만
	log         zerolog.Logger
}

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func (s *server) healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "outfit-stylist",
		"backend": s.cfg.ImageBackend,
		"store":   s.cfg.StoreBackend,
	})
}

// 서버 메트릭 조회 엔드포인트
func (s *server) getMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, sessions := s.hub.Snapshot()

	serverInfo := map[string]interface{}{
		"uptime":           time.Since(metrics.StartTime).String(),
		"startTime":        metrics.StartTime,
		"totalSessions":    metrics.TotalSessions,
		"activeSessions":   metrics.ActiveSessions,
		"totalConnections": metrics.TotalConnections,
		"eventsPublished":  metrics.EventsPublished,
	}
	if s.memoryStore != nil {
		serverInfo["storedSessions"] = s.memoryStore.SessionCount()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"server":   serverInfo,
		"sessions": sessions,
	})
}

// 세션 강제 정리 (관리자용)
func (s *server) forceCleanupSessions(w http.ResponseWriter, r *http.Request) {
	empty := s.hub.CleanupEmptySessions()
	inactive := s.hub.CleanupInactiveSessions(s.cfg.SessionTTL)
	stored := 0
	if s.memoryStore != nil {
		stored = s.memoryStore.Cleanup(s.cfg.SessionTTL)
	}

	s.log.Info().Int("empty", empty).Int("inactive", inactive).Int("stored", stored).Msg("🧹 [Admin] Forced cleanup")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "Cleanup completed",
		"emptySessions":    empty,
		"inactiveSessions": inactive,
		"storedSessions":   stored,
	})
}

// newImageService - IMAGE_BACKEND 에 따라 Gemini API 또는 Vertex AI 선택
func newImageService(ctx context.Context, cfg *config.Config) (outfit.ImageService, func(), error) {
	switch cfg.ImageBackend {
	case config.BackendVertex:
		client, err := vertexai.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil
	default:
		client, err := gemini.NewClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return client, func() {}, nil
	}
}

func router(s *server, handler *outfit.Handler) *mux.Router {
	r := mux.NewRouter()

	// CORS 미들웨어 적용
	r.Use(enableCORS)

	r.HandleFunc("/", s.healthCheck).Methods("GET")
	r.HandleFunc("/health", s.healthCheck).Methods("GET")
	r.HandleFunc("/ws", s.hub.HandleWebSocket)
	r.HandleFunc("/session/{sessionId}", s.hub.HandleSessionInfo).Methods("GET")
	r.HandleFunc("/metrics", s.getMetrics).Methods("GET")
	r.HandleFunc("/admin/cleanup", s.forceCleanupSessions).Methods("POST")

	handler.RegisterRoutes(r)
	return r
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	baseLog := logger.New(cfg.IsDevelopment())
	appLog := logger.Module(baseLog, "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	images, closeImages, err := newImageService(ctx, cfg)
	if err != nil {
		appLog.Fatal().Err(err).Msg("❌ Failed to initialize image service")
	}
	defer closeImages()

	// 세션 저장소 선택
	s := &server{cfg: cfg, log: appLog}
	var store outfit.Store
	switch cfg.StoreBackend {
	case config.StoreRedis:
		rdb, err := redisClient.Connect(ctx, cfg)
		if err != nil {
			appLog.Fatal().Err(err).Msg("❌ Failed to connect to Redis")
		}
		defer rdb.Close()
		store = outfit.NewRedisStore(rdb, cfg.SessionTTL)
	default:
		memoryStore := outfit.NewMemoryStore()
		memoryStore.StartCleanupRoutine(ctx, cfg.SessionTTL, 5*time.Minute, func(n int) {
			appLog.Info().Int("cleaned", n).Msg("🧼 Cleaned up expired outfit sessions")
		})
		s.memoryStore = memoryStore
		store = memoryStore
	}

	// 정리 루틴 시작
	s.hub = realtime.NewHub(logger.Module(baseLog, "realtime"))
	s.hub.StartCleanupRoutine(cfg.SessionTTL)

	outfitLog := logger.Module(baseLog, "outfit")
	service := outfit.NewService(images, store, s.hub, outfitLog)
	handler := outfit.NewHandler(service, cfg.MaxUploadBytes, outfitLog)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router(s, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	appLog.Info().Msgf("🚀 Outfit Stylist Server starting on port %s", cfg.Port)
	appLog.Info().Msgf("📡 WebSocket endpoint: ws://localhost:%s/ws?session=<id>", cfg.Port)
	appLog.Info().Msgf("❤️  Health check: http://localhost:%s/health", cfg.Port)
	appLog.Info().Msgf("📊 Metrics: http://localhost:%s/metrics", cfg.Port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	// 서버 시작
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		appLog.Fatal().Err(err).Msg("Server failed to start")
	}
	appLog.Info().Msg("👋 Server stopped")
}
