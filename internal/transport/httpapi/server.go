package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartvol/internal/engine"
	"smartvol/internal/gateway/binance"
	"smartvol/internal/gateway/notifier"
	"smartvol/internal/logger"
	"smartvol/internal/positions"
	"smartvol/internal/scheduler"
	"smartvol/internal/volume"
)

// Server webhook 入口 + 管理查询接口（gin）。
type Server struct {
	addr      string
	router    *engine.Router
	trend     engine.TrendProvider
	posStore  *positions.Store
	cache     *volume.Cache
	notifiers *notifier.Registry
	sched     *scheduler.Scheduler
	price     *binance.PriceProvider

	httpSrv *http.Server
}

func NewServer(addr string, router *engine.Router, trendSvc engine.TrendProvider,
	posStore *positions.Store, cache *volume.Cache, notifiers *notifier.Registry,
	sched *scheduler.Scheduler, price *binance.PriceProvider, env string) *Server {

	if env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		addr:      addr,
		router:    router,
		trend:     trendSvc,
		posStore:  posStore,
		cache:     cache,
		notifiers: notifiers,
		sched:     sched,
		price:     price,
	}
	g := gin.New()
	g.Use(gin.Recovery())
	s.registerRoutes(g)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           g,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(g *gin.Engine) {
	g.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	g.POST("/alerts", s.handleAlert)

	tr := g.Group("/trend")
	tr.POST("/confirm", s.handleTrendConfirm)
	tr.GET("/current", s.handleTrendCurrent)
	tr.GET("/agree", s.handleTrendAgree)

	vu := g.Group("/alerts/volume-up")
	vu.GET("", s.handleVolumeQuery)
	vu.DELETE("", s.handleVolumeClear)
	vu.GET("/close-states", s.handleCloseStates)
	vu.GET("/stats", s.handleVolumeStats)

	sc := g.Group("/scheduler")
	sc.POST("/test-trend-report/:bot", s.handleTestReport)
	sc.POST("/send-all-trend-reports", s.handleSendAllReports)

	tg := g.Group("/telegram")
	tg.GET("/test/:channel", s.handleTelegramTest)
	tg.POST("/send", s.handleTelegramSend)

	ps := g.Group("/positions")
	ps.GET("/summary", s.handlePositionSummary)
	ps.GET("/:bot", s.handlePositionList)
	ps.GET("/:bot/:symbol/pnl", s.handlePositionPnL)
}

// Run 起服务并随 ctx 优雅退出。
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("✓ HTTP 服务监听 %s", s.addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
