package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/depth-analytics/internal/chart"
	"github.com/amirphl/depth-analytics/internal/db"
	"github.com/amirphl/depth-analytics/internal/journal"
	"github.com/amirphl/depth-analytics/internal/service"
	"github.com/gin-gonic/gin"
)

const maxLookbackDays = 365

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " is not configured"})
}

func (s *Server) symbol(c *gin.Context) string {
	return strings.ToUpper(c.DefaultQuery("symbol", s.cfg.DefaultSymbol))
}

func (s *Server) getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"connections": s.hub.Len(),
		"time":        time.Now().UTC(),
	})
}

func (s *Server) computeReturns(c *gin.Context) (*service.Returns, bool) {
	if s.deps.Returns == nil {
		unavailable(c, "returns")
		return nil, false
	}
	days, err := strconv.Atoi(c.DefaultQuery("days", "90"))
	if err != nil || days <= 0 || days > maxLookbackDays {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days must be between 1 and 365"})
		return nil, false
	}

	out, err := s.deps.Returns.Compute(c.Request.Context(), s.symbol(c), time.Duration(days)*24*time.Hour)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return nil, false
	}
	return out, true
}

func (s *Server) getReturns(c *gin.Context) {
	out, ok := s.computeReturns(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getReturnsChart(c *gin.Context) {
	out, ok := s.computeReturns(c)
	if !ok {
		return
	}

	switch c.DefaultQuery("kind", "all") {
	case "weekday":
		c.JSON(http.StatusOK, chart.WeekdayBar(out.Result))
	case "hour":
		c.JSON(http.StatusOK, chart.HourlyBar(out.Result))
	case "heatmap":
		c.JSON(http.StatusOK, chart.Heatmap(out.Result))
	case "all":
		c.JSON(http.StatusOK, gin.H{
			"symbol":  out.Symbol,
			"weekday": chart.WeekdayBar(out.Result),
			"hour":    chart.HourlyBar(out.Result),
			"heatmap": chart.Heatmap(out.Result),
		})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be weekday, hour, heatmap or all"})
	}
}

func depthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "no depth run stored"})
	case errors.Is(err, service.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) getDepth(c *gin.Context) {
	if s.deps.Depth == nil {
		unavailable(c, "depth")
		return
	}
	run, err := s.deps.Depth.Latest(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		depthError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getDepthHistory(c *gin.Context) {
	if s.deps.Depth == nil {
		unavailable(c, "depth")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "30"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	runs, err := s.deps.Depth.History(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		depthError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) getDepthChart(c *gin.Context) {
	if s.deps.Depth == nil {
		unavailable(c, "depth")
		return
	}
	fig, err := s.deps.Depth.Chart(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		depthError(c, err)
		return
	}
	c.JSON(http.StatusOK, fig)
}

func (s *Server) postDepthRun(c *gin.Context) {
	if s.deps.Depth == nil {
		unavailable(c, "depth")
		return
	}
	if s.deps.Trigger != nil {
		if s.deps.Trigger("depth") {
			c.JSON(http.StatusAccepted, gin.H{"status": "queued", "symbol": s.deps.Depth.Symbol()})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "a depth run is already queued"})
		return
	}

	run, err := s.deps.Depth.Run(c.Request.Context())
	if err != nil {
		depthError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) getVolume(c *gin.Context) {
	if s.deps.Volume == nil {
		unavailable(c, "volume")
		return
	}
	snap, err := s.deps.Volume.Current(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no volume snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) postVolumeRefresh(c *gin.Context) {
	if s.deps.Volume == nil {
		unavailable(c, "volume")
		return
	}
	snap, err := s.deps.Volume.Refresh(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// getEvents serves persisted events of one type when ?type is given and a
// journal is configured, otherwise the broker's recent events.
func (s *Server) getEvents(c *gin.Context) {
	eventType := c.Query("type")
	if eventType == "" || s.deps.Journal == nil {
		events := s.deps.Broker.Recent()
		if eventType != "" {
			filtered := events[:0]
			for _, e := range events {
				if e.Type == eventType {
					filtered = append(filtered, e)
				}
			}
			events = filtered
		}
		c.JSON(http.StatusOK, events)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-24 * time.Hour)
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		start = t
	}

	events, err := s.deps.Journal.GetEvents(c.Request.Context(), eventType, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []journal.Event{}
	}
	c.JSON(http.StatusOK, events)
}
