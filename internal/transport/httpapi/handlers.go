package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"smartvol/internal/logger"
	"smartvol/internal/pkg/jsonutil"
	"smartvol/internal/pkg/symbols"
	"smartvol/internal/positions"
	"smartvol/internal/trend"
)

// handleAlert webhook 入口。校验失败 400；派发阶段的失败由路由器
// 按机器人隔离消化，这里一律 200。
func (s *Server) handleAlert(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取请求体失败"})
		return
	}
	logger.Debugf("webhook 原文:\n%s", jsonutil.Pretty(string(raw)))

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON 非法"})
		return
	}
	if err := s.router.Handle(c.Request.Context(), payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

type confirmRequest struct {
	Symbol    string         `json:"symbol" binding:"required"`
	Timeframe string         `json:"timeframe" binding:"required"`
	Direction string         `json:"direction" binding:"required"`
	Source    string         `json:"source"`
	Meta      map[string]any `json:"meta"`
}

func (s *Server) handleTrendConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir, err := trend.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	expires, err := s.trend.Confirm(c.Request.Context(), trend.ConfirmArgs{
		Symbol:    symbols.Normalize(req.Symbol),
		Timeframe: req.Timeframe,
		Direction: dir,
		Source:    req.Source,
		Meta:      req.Meta,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"expiresAt": expires})
}

func (s *Server) handleTrendCurrent(c *gin.Context) {
	symbol := symbols.Normalize(c.Query("symbol"))
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 symbol/timeframe"})
		return
	}
	dir, err := s.trend.GetCurrent(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "timeframe": tf, "direction": dir})
}

func (s *Server) handleTrendAgree(c *gin.Context) {
	symbol := symbols.Normalize(c.Query("symbol"))
	tfs := strings.Split(c.Query("timeframes"), ",")
	if symbol == "" || len(tfs) == 0 || tfs[0] == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 symbol/timeframes"})
		return
	}
	var (
		dir trend.Direction
		err error
	)
	if c.Query("hierarchy") == "true" {
		dir, err = s.trend.AgreeAllWithHierarchy(c.Request.Context(), symbol, tfs)
	} else {
		dir, err = s.trend.AgreeAll(c.Request.Context(), symbol, tfs)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "direction": dir})
}

func (s *Server) handleVolumeQuery(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	switch {
	case symbol != "" && tf != "":
		r, ok := s.cache.Get(symbol, tf)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "无未过期读数"})
			return
		}
		c.JSON(http.StatusOK, r)
	case symbol != "":
		c.JSON(http.StatusOK, s.cache.BySymbol(symbol))
	case tf != "":
		c.JSON(http.StatusOK, s.cache.ByTimeframe(tf))
	default:
		c.JSON(http.StatusOK, s.cache.AllActive())
	}
}

func (s *Server) handleVolumeClear(c *gin.Context) {
	s.cache.ClearAll()
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *Server) handleCloseStates(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.AllCloseStates())
}

func (s *Server) handleVolumeStats(c *gin.Context) {
	readings, closeStates := s.cache.Stats()
	c.JSON(http.StatusOK, gin.H{"readings": readings, "closeStates": closeStates})
}

func (s *Server) handleTestReport(c *gin.Context) {
	name := c.Param("bot")
	b := s.router.Bot(name)
	if b == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "机器人不存在: " + name})
		return
	}
	if err := s.sched.SendTrendReport(c.Request.Context(), b); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleSendAllReports(c *gin.Context) {
	s.sched.SendAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handleTelegramTest(c *gin.Context) {
	tg := s.notifiers.Channel(c.Param("channel"))
	if tg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "频道未配置"})
		return
	}
	ok, err := tg.TestConnection(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": ok})
}

type telegramSendRequest struct {
	Channel string `json:"channel" binding:"required"`
	Text    string `json:"text" binding:"required"`
}

func (s *Server) handleTelegramSend(c *gin.Context) {
	var req telegramSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tg := s.notifiers.Channel(req.Channel)
	if tg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "频道未配置"})
		return
	}
	if err := tg.SendText(req.Text); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "sent"})
}

func (s *Server) handlePositionSummary(c *gin.Context) {
	bot := c.Query("bot")
	if bot != "" {
		sum, err := s.posStore.BotSummary(c.Request.Context(), bot)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sum)
		return
	}
	var out []positions.Summary
	for _, b := range s.router.Bots() {
		sum, err := s.posStore.BotSummary(c.Request.Context(), b.Cfg.Name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, sum)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handlePositionList(c *gin.Context) {
	recs, err := s.posStore.ListOpen(c.Request.Context(), c.Param("bot"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}

// handlePositionPnL price 参数优先；缺省时用币安最新价。
func (s *Server) handlePositionPnL(c *gin.Context) {
	bot := c.Param("bot")
	symbol := symbols.Normalize(c.Param("symbol"))
	pos, ok, err := s.posStore.FindOpen(c.Request.Context(), bot, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "无持仓"})
		return
	}
	var price decimal.Decimal
	if raw := c.Query("price"); raw != "" {
		price, err = decimal.NewFromString(raw)
		if err != nil || price.LessThanOrEqual(decimal.Zero) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price 非法"})
			return
		}
	} else {
		if s.price == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 price 且未启用币安价格来源"})
			return
		}
		price, err = s.price.LastPrice(c.Request.Context(), symbol)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
	}
	pnl, qty, err := positions.CalculatePnL(pos, price)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"bot": bot, "symbol": symbol,
		"price": price, "pnl": pnl, "quantity": qty,
		"avgEntryPrice": pos.AvgEntryPrice, "amountUsd": pos.AmountUsd,
	})
}
