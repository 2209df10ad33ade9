package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/internal/queue"
	"github.com/shiran1989/magshimim-cyber-homework/internal/server/middleware"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
)

// IngestHandler queues a catalog refresh and returns its correlation id. The
// work itself happens in the worker.
func IngestHandler(c echo.Context) error {
	type ingestBody struct {
		Source string `json:"source" validate:"omitempty,oneof=github file"`
		Path   string `json:"path"`
	}

	type ingestResponse struct {
		CorrelationID       string `json:"correlation_id"`
		EstimatedDurationMs int64  `json:"estimated_duration_ms,omitempty"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	cc := c.(*middleware.AppContext)
	msg, err := queue.NewIngestMsg(data.Source, data.Path, cc.User.UserID)
	if err != nil {
		return internalError(c, err)
	}
	if err := msg.Validate(); err != nil {
		return badRequest(c, err.Error())
	}

	if err := queue.PublishIngest(cc.App.Queue, msg); err != nil {
		return internalError(c, err)
	}
	logger.Info("[API] Ingestion queued", "correlation_id", msg.CorrelationID, "user", cc.User.UserID)

	res := ingestResponse{CorrelationID: msg.CorrelationID}
	if cc.App.Runs != nil {
		if d, err := cc.App.Runs.PredictDuration(c.Request().Context()); err == nil {
			res.EstimatedDurationMs = d.Milliseconds()
		} else {
			logger.Warn("[API] Failed to predict ingest duration", "err", err)
		}
	}

	return c.JSON(http.StatusAccepted, res)
}

func GetIngestRunsHandler(c echo.Context) error {
	type runsQuery struct {
		Limit int `query:"limit" validate:"min=1,max=100"`
	}

	params := &runsQuery{Limit: 20}
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "limit must be between 1 and 100")
	}

	runs, err := c.(*middleware.AppContext).App.Runs.RecentRuns(c.Request().Context(), params.Limit)
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, runs)
}
