package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/internal/server/middleware"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/store"
)

const (
	defaultListLimit   = 10
	defaultSearchLimit = 50

	// DashboardLimit caps how many patterns dashboard-data returns.
	DashboardLimit = 10000
)

func badRequest(c echo.Context, detail string) error {
	return c.JSON(http.StatusBadRequest, attack.ErrorBody{Detail: detail})
}

func internalError(c echo.Context, err error) error {
	logger.Error("[API] Request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, attack.ErrorBody{Detail: err.Error()})
}

func ListPatternsHandler(c echo.Context) error {
	type listQuery struct {
		Limit  int `query:"limit" validate:"min=1,max=100"`
		Offset int `query:"offset" validate:"min=0"`
	}

	params := &listQuery{Limit: defaultListLimit}
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "limit must be between 1 and 100 and offset must not be negative")
	}

	st := c.(*middleware.AppContext).App.Store
	patterns, total, err := st.ListPatterns(c.Request().Context(), params.Limit, params.Offset)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, attack.SearchResponse{
		Results: patterns,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
	})
}

func SearchPatternsHandler(c echo.Context) error {
	type searchBody struct {
		Query  string `json:"query"`
		Limit  int    `json:"limit" validate:"min=1,max=10000"`
		Offset int    `json:"offset" validate:"min=0"`
	}

	data := &searchBody{Limit: defaultSearchLimit}
	if err := c.Bind(data); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c, "Invalid request body")
	}

	st := c.(*middleware.AppContext).App.Store
	patterns, total, err := st.SearchPatterns(c.Request().Context(), data.Query, data.Limit, data.Offset)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, attack.SearchResponse{
		Results: patterns,
		Total:   total,
		Limit:   data.Limit,
		Offset:  data.Offset,
	})
}

func GetPatternHandler(c echo.Context) error {
	type patternParams struct {
		ID string `param:"id" validate:"required"`
	}

	params := new(patternParams)
	if err := c.Bind(params); err != nil {
		return badRequest(c, "Invalid pattern ID")
	}
	if err := c.Validate(params); err != nil {
		return badRequest(c, "Invalid pattern ID")
	}

	st := c.(*middleware.AppContext).App.Store
	pattern, err := st.GetPattern(c.Request().Context(), params.ID)
	if errors.Is(err, store.ErrNotFound) {
		return c.JSON(http.StatusNotFound, attack.ErrorBody{
			Detail: fmt.Sprintf("Attack pattern with ID %s not found", params.ID),
		})
	}
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, pattern)
}

func StatsHandler(c echo.Context) error {
	st := c.(*middleware.AppContext).App.Store
	stats, err := st.Stats(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// DashboardDataHandler returns the whole catalog in one page for clients that
// compute statistics and graphs locally.
func DashboardDataHandler(c echo.Context) error {
	st := c.(*middleware.AppContext).App.Store
	patterns, total, err := st.ListPatterns(c.Request().Context(), DashboardLimit, 0)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, attack.SearchResponse{
		Results: patterns,
		Total:   total,
		Limit:   DashboardLimit,
		Offset:  0,
	})
}

func HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, attack.Health{
		Status:  "healthy",
		Message: "Cybersecurity Intelligence API is running",
	})
}
