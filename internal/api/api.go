// Package api exposes the job manager over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CZERTAINLY/genojob/internal/jobs"
)

// DefaultLogTail is the number of log lines returned when tail is not given.
const DefaultLogTail = 50

// Jobs is the part of jobs.Manager served over HTTP.
type Jobs interface {
	Submit(ctx context.Context, sub jobs.Submission) (string, error)
	Status(ctx context.Context, id string) (jobs.Info, error)
	Result(ctx context.Context, id string) (json.RawMessage, error)
	Log(ctx context.Context, id string, tail int) (jobs.LogTail, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, status *jobs.Status) []jobs.Info
}

// Kinds lists the kinds jobs can be submitted for.
type Kinds interface {
	Kinds() []jobs.Kind
}

// NewRouter returns the HTTP handler. The metrics handler is optional.
func NewRouter(manager Jobs, kinds Kinds, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/health", handleHealth)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api")
	{
		api.GET("/kinds", kindsHandler(kinds))
		api.POST("/jobs", submitHandler(manager))
		api.GET("/jobs", listHandler(manager))
		api.GET("/jobs/:id", statusHandler(manager))
		api.GET("/jobs/:id/result", resultHandler(manager))
		api.GET("/jobs/:id/log", logHandler(manager))
		api.POST("/jobs/:id/cancel", cancelHandler(manager))
	}
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		level := slog.LevelDebug
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"took", time.Since(start).String(),
		)
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "genojob",
	})
}

func kindsHandler(kinds Kinds) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"kinds": kinds.Kinds()})
	}
}

func submitHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		var sub jobs.Submission
		if err := c.ShouldBindJSON(&sub); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "invalid submission body: " + err.Error(),
			})
			return
		}
		if strings.TrimSpace(sub.Kind) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "kind is required",
			})
			return
		}

		id, err := manager.Submit(c.Request.Context(), sub)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": id,
			"status": jobs.StatusPending,
		})
	}
}

func listHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter *jobs.Status
		if s, ok := c.GetQuery("status"); ok && s != "" {
			status, err := jobs.ParseStatus(s)
			if err != nil {
				writeError(c, err)
				return
			}
			filter = &status
		}
		list := manager.List(c.Request.Context(), filter)
		c.JSON(http.StatusOK, gin.H{
			"jobs":  list,
			"total": len(list),
		})
	}
}

func statusHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := manager.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, info)
	}
}

func resultHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		result, err := manager.Result(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id": id,
			"status": jobs.StatusCompleted,
			"result": result,
		})
	}
}

func logHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		tail := DefaultLogTail
		if s, ok := c.GetQuery("tail"); ok {
			n, err := strconv.Atoi(s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "tail must be an integer",
				})
				return
			}
			tail = n
		}

		logs, err := manager.Log(c.Request.Context(), id, tail)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id": id,
			"lines":  logs.Lines,
			"total":  logs.Total,
		})
	}
}

func cancelHandler(manager Jobs) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		ctx := c.Request.Context()
		if err := manager.Cancel(ctx, id); err != nil {
			writeError(c, err)
			return
		}
		info, err := manager.Status(ctx, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id": id,
			"status": info.Status,
		})
	}
}

func writeError(c *gin.Context, err error) {
	var jobErr *jobs.Error
	switch {
	case errors.Is(err, jobs.ErrSubmission):
		c.JSON(http.StatusBadRequest, gin.H{"code": "SUBMISSION_ERROR", "message": err.Error()})
	case errors.Is(err, jobs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "JOB_NOT_FOUND", "message": err.Error()})
	case errors.Is(err, jobs.ErrNotFinished):
		c.JSON(http.StatusConflict, gin.H{"code": "JOB_NOT_FINISHED", "message": err.Error()})
	case errors.Is(err, jobs.ErrJobFailed) && errors.As(err, &jobErr):
		c.JSON(http.StatusConflict, gin.H{"code": "JOB_FAILED", "message": err.Error(), "error": jobErr})
	case errors.Is(err, jobs.ErrJobFailed):
		c.JSON(http.StatusConflict, gin.H{"code": "JOB_FAILED", "message": err.Error()})
	case errors.Is(err, jobs.ErrJobCancelled):
		c.JSON(http.StatusConflict, gin.H{"code": "JOB_CANCELLED", "message": err.Error()})
	case errors.Is(err, jobs.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_INPUT", "message": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "TIMEOUT", "message": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "message": "internal error"})
	}
}
