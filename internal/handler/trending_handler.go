package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/jobs"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/queue"
	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/service/trending"
)

// TrendingReader serves cached trending pages.
type TrendingReader interface {
	GetTrending(ctx context.Context, p model.Platform, region string, page, limit int) (*model.TrendingPage, error)
}

type pageQuery struct {
	Page  int `form:"page" binding:"omitempty,min=1"`
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

type feedURI struct {
	Platform string `uri:"platform" binding:"required"`
	Region   string `uri:"region" binding:"required,len=2,alpha"`
}

// RefreshResponse is returned when a refresh job is requested.
type RefreshResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// TrendingHandler serves trending feeds and queues refreshes.
type TrendingHandler struct {
	reader TrendingReader
	queue  queue.Queue
	opts   queue.Options
	log    *zap.Logger
}

// NewTrendingHandler creates a TrendingHandler. opts are the retry options of
// refresh jobs it enqueues.
func NewTrendingHandler(reader TrendingReader, q queue.Queue, opts queue.Options, log *zap.Logger) *TrendingHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TrendingHandler{reader: reader, queue: q, opts: opts, log: log.Named("http.trending")}
}

// Register mounts the trending routes on r.
func (h *TrendingHandler) Register(r gin.IRouter) {
	r.GET("/trending/:platform/:region", h.GetTrending)
	r.POST("/trending/:platform/:region/refresh", h.RequestRefresh)
}

func bindFeed(c *gin.Context) (model.Platform, string, bool) {
	var uri feedURI
	if err := c.ShouldBindUri(&uri); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid feed: "+err.Error())
		return "", "", false
	}
	p, err := model.ParsePlatform(uri.Platform)
	if err != nil {
		abortWithError(c, http.StatusNotFound, err.Error())
		return "", "", false
	}
	return p, model.NormalizeRegion(uri.Region), true
}

// GetTrending handles GET /trending/:platform/:region. A cache miss queues a
// refresh and returns an empty page.
func (h *TrendingHandler) GetTrending(c *gin.Context) {
	p, region, ok := bindFeed(c)
	if !ok {
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid query: "+err.Error())
		return
	}

	page, err := h.reader.GetTrending(c.Request.Context(), p, region, q.Page, q.Limit)
	if err != nil {
		if errors.Is(err, trending.ErrUnknownPlatform) {
			abortWithError(c, http.StatusNotFound, err.Error())
			return
		}
		h.log.Error("failed to read trending", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, "failed to read trending")
		return
	}

	if !page.Cached {
		if _, _, err := h.enqueueRefresh(c.Request.Context(), p, region); err != nil {
			h.log.Warn("refresh on miss not queued",
				zap.String("platform", string(p)),
				zap.String("region", region),
				zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, page)
}

// RequestRefresh handles POST /trending/:platform/:region/refresh.
func (h *TrendingHandler) RequestRefresh(c *gin.Context) {
	p, region, ok := bindFeed(c)
	if !ok {
		return
	}
	id, duplicate, err := h.enqueueRefresh(c.Request.Context(), p, region)
	if err != nil {
		h.log.Error("failed to queue refresh", zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, "failed to queue refresh")
		return
	}
	status := "queued"
	if duplicate {
		status = "already_queued"
	}
	c.JSON(http.StatusAccepted, RefreshResponse{JobID: id, Status: status})
}

// enqueueRefresh queues a one-shot refresh keyed per feed so concurrent
// requests collapse into one job.
func (h *TrendingHandler) enqueueRefresh(ctx context.Context, p model.Platform, region string) (string, bool, error) {
	opts := h.opts
	opts.IdempotencyKey = jobs.RefreshKey(p, region)
	d, err := jobs.RefreshDescriptor(p, region, opts)
	if err != nil {
		return "", false, err
	}
	id, err := h.queue.Enqueue(ctx, d)
	if errors.Is(err, queue.ErrDuplicateJob) {
		return id, true, nil
	}
	return id, false, err
}
