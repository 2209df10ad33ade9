package dashboard

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/attack"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/client"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/relationship"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/stats"
)

func (s *Server) tableJSON(c echo.Context) error {
	type tableResponse struct {
		Results    []attack.AttackPattern `json:"results"`
		Total      int                    `json:"total"`
		Page       int                    `json:"page"`
		PageSize   int                    `json:"page_size"`
		TotalPages int                    `json:"total_pages"`
		Query      string                 `json:"query,omitempty"`
	}

	view, err := s.loadTable(c)
	if err != nil {
		return upstreamError(c, err)
	}
	results := view.Patterns
	if results == nil {
		results = []attack.AttackPattern{}
	}
	return c.JSON(http.StatusOK, tableResponse{
		Results:    results,
		Total:      view.Total,
		Page:       view.Page,
		PageSize:   view.PageSize,
		TotalPages: view.TotalPages,
		Query:      view.Query,
	})
}

func (s *Server) graphJSON(c echo.Context) error {
	g, _, err := s.buildGraph(c)
	if err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, g)
}

func (s *Server) graphDOT(c echo.Context) error {
	g, _, err := s.buildGraph(c)
	if err != nil {
		return upstreamError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/vnd.graphviz; charset=utf-8")
	c.Response().WriteHeader(http.StatusOK)
	return g.ExportDOT(c.Response(), func(t relationship.Type) string {
		return s.palette.RelationshipColor(string(t))
	})
}

func (s *Server) relatedJSON(c echo.Context) error {
	id := c.Param("id")
	g, _, err := s.buildGraph(c)
	if err != nil {
		return upstreamError(c, err)
	}
	if _, ok := g.Node(id); !ok {
		return c.JSON(http.StatusNotFound, attack.ErrorBody{
			Detail: fmt.Sprintf("Attack pattern with ID %s is not in the graph", id),
		})
	}
	return c.JSON(http.StatusOK, g.Related(id))
}

func (s *Server) statsJSON(c echo.Context) error {
	res, err := s.data.DashboardData(c.Request().Context())
	if err != nil {
		return upstreamError(c, err)
	}
	return c.JSON(http.StatusOK, stats.Compute(res.Results))
}

func (s *Server) themeJSON(c echo.Context) error {
	return c.JSON(http.StatusOK, s.palette)
}

// refresh drops cached catalog responses so the next page load refetches.
func (s *Server) refresh(c echo.Context) error {
	if err := s.data.Invalidate(c.Request().Context(), client.TagAttackPattern, client.TagStats); err != nil {
		return upstreamError(c, err)
	}
	logger.Info("[Dashboard] Cache invalidated")
	return c.JSON(http.StatusOK, map[string]string{"status": "refreshed"})
}

type exportDoc struct {
	ExportedAt time.Time              `json:"exported_at"`
	Total      int                    `json:"total"`
	Patterns   []attack.AttackPattern `json:"patterns"`
}

func (s *Server) exportData(c echo.Context) ([]byte, string, error) {
	res, err := s.data.DashboardData(c.Request().Context())
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	data, err := json.MarshalIndent(exportDoc{
		ExportedAt: now,
		Total:      len(res.Results),
		Patterns:   res.Results,
	}, "", "  ")
	if err != nil {
		return nil, "", err
	}
	return data, "attack-patterns-" + now.Format("20060102-150405"), nil
}

func (s *Server) export(c echo.Context) error {
	data, name, err := s.exportData(c)
	if err != nil {
		return upstreamError(c, err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name+".json"))
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// exportArchive uploads the export and returns a presigned link to it.
func (s *Server) exportArchive(c echo.Context) error {
	if s.archive == nil {
		return c.JSON(http.StatusServiceUnavailable, attack.ErrorBody{Detail: "export archive is not configured"})
	}

	data, name, err := s.exportData(c)
	if err != nil {
		return upstreamError(c, err)
	}

	ctx := c.Request().Context()
	key, err := s.archive.PutExport(ctx, name, data)
	if err != nil {
		logger.Error("[Dashboard] Failed to archive export", "err", err)
		return c.JSON(http.StatusInternalServerError, attack.ErrorBody{Detail: err.Error()})
	}
	link, err := s.archive.DownloadLink(ctx, key)
	if err != nil {
		logger.Error("[Dashboard] Failed to sign export link", "key", key, "err", err)
		return c.JSON(http.StatusInternalServerError, attack.ErrorBody{Detail: err.Error()})
	}

	logger.Info("[Dashboard] Export archived", "key", key, "bytes", len(data))
	return c.JSON(http.StatusCreated, map[string]string{"key": key, "url": link})
}

// health reports the dashboard as healthy only when the catalog API is.
func (s *Server) health(c echo.Context) error {
	type healthResponse struct {
		Status string         `json:"status"`
		API    *attack.Health `json:"api,omitempty"`
		Detail string         `json:"detail,omitempty"`
	}

	h, err := s.data.Health(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, healthResponse{Status: "degraded", Detail: err.Error()})
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy", API: h})
}
