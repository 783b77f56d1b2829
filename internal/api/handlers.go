package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"finsign-bi/internal/etl"
	"finsign-bi/internal/mart"
	"finsign-bi/internal/storage"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type kpiRow struct {
	Date        string           `json:"date"`
	Marketplace string           `json:"marketplace"`
	Revenue     decimal.Decimal  `json:"revenue"`
	Cost        decimal.Decimal  `json:"cost"`
	Profit      decimal.Decimal  `json:"profit"`
	Margin      *decimal.Decimal `json:"margin"`
}

type runEntry struct {
	ID         int64      `json:"id"`
	RunID      string     `json:"run_id,omitempty"`
	Source     string     `json:"source"`
	Endpoint   string     `json:"endpoint"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	RowsLoaded int        `json:"rows_loaded"`
	Message    *string    `json:"message"`
}

type kpiQuery struct {
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02"`
}

type ozonRequest struct {
	DryRun bool `json:"dry_run"`
}

type wbRequest struct {
	Since  string `json:"since" binding:"omitempty,datetime=2006-01-02"`
	Until  string `json:"until" binding:"omitempty,datetime=2006-01-02"`
	DryRun bool   `json:"dry_run"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listKPI(c *gin.Context) {
	from, to, ok := s.kpiWindow(c)
	if !ok {
		return
	}
	rows, err := s.reader.ListKPI(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]kpiRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, kpiRow{
			Date:        r.Date.Format(time.DateOnly),
			Marketplace: r.Marketplace,
			Revenue:     r.Revenue,
			Cost:        r.Cost,
			Profit:      r.Profit,
			Margin:      r.Margin,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"from": from.Format(time.DateOnly),
		"to":   to.Format(time.DateOnly),
		"rows": out,
	})
}

func (s *Server) kpiSummary(c *gin.Context) {
	from, to, ok := s.kpiWindow(c)
	if !ok {
		return
	}
	rows, err := s.reader.ListKPI(c.Request.Context(), from, to)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, mart.Summarize(rows))
}

// kpiWindow defaults to the last DefaultDays days including today.
func (s *Server) kpiWindow(c *gin.Context) (time.Time, time.Time, bool) {
	var q kpiQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return time.Time{}, time.Time{}, false
	}

	y, m, d := s.now().Date()
	to := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if q.To != "" {
		to, _ = time.Parse(time.DateOnly, q.To)
	}
	from := to.AddDate(0, 0, 1-s.opts.DefaultDays)
	if q.From != "" {
		from, _ = time.Parse(time.DateOnly, q.From)
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from must not be after to"})
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (s *Server) listRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	entries, err := s.reader.ListRecentRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	out := make([]runEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, runEntry{
			ID:         e.ID,
			RunID:      e.RunID,
			Source:     string(e.Source),
			Endpoint:   e.Endpoint,
			StartedAt:  e.StartedAt,
			FinishedAt: e.FinishedAt,
			Status:     string(e.Status),
			RowsLoaded: e.RowsLoaded,
			Message:    e.Message,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}

func (s *Server) reapRuns(c *gin.Context) {
	n, err := s.triggers.ReapStale(c.Request.Context())
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reaped": n})
}

func (s *Server) loadOzon(c *gin.Context) {
	var req ozonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	res, err := s.triggers.LoadOzon(c.Request.Context(), etl.OzonOptions{DryRun: req.DryRun})
	s.respondRun(c, res, err)
}

func (s *Server) loadWB(c *gin.Context) {
	var req wbRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	from, to := s.triggers.DefaultWBWindow()
	if req.Since != "" {
		from, _ = time.Parse(time.DateOnly, req.Since)
	}
	if req.Until != "" {
		to, _ = time.Parse(time.DateOnly, req.Until)
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must not be after until"})
		return
	}

	res, err := s.triggers.LoadWB(c.Request.Context(), etl.WBOptions{From: from, To: to, DryRun: req.DryRun})
	s.respondRun(c, res, err)
}

func (s *Server) rebuildMart(c *gin.Context) {
	res, err := s.triggers.RebuildMart(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("mart rebuild failed")
		body := gin.H{"error": err.Error()}
		if res.LogID != 0 {
			body["run"] = res
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": res})
}

// respondRun answers 502 for loader runs that ended with status error.
func (s *Server) respondRun(c *gin.Context, res etl.Result, err error) {
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	if res.Status == storage.StatusError {
		c.JSON(http.StatusBadGateway, gin.H{"run": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": res})
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
