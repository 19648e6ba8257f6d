package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/archive"
	"github.com/fyrsmithlabs/gated/internal/review"
)

// maxListLimit caps the runs list page size.
const maxListLimit = 200

// handleListRuns returns archived run summaries, newest first.
// Query params: unit, repo, outcome, limit.
func (s *Server) handleListRuns(c echo.Context) error {
	filter := archive.ListFilter{
		UnitKey: c.QueryParam("unit"),
		Repo:    c.QueryParam("repo"),
	}

	if o := c.QueryParam("outcome"); o != "" {
		outcome := review.Outcome(o)
		if !outcome.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, "unknown outcome: "+o)
		}
		filter.Outcome = outcome
	}

	if l := c.QueryParam("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}
		filter.Limit = limit
	}

	runs, err := s.deps.Archive.ListRuns(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "archive query failed")
	}

	return c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

// handleGetRun returns one archived run with its full receipt. The id may
// be the archive record id or the receipt's run id.
func (s *Server) handleGetRun(c echo.Context) error {
	id := c.Param("id")

	run, err := s.deps.Archive.GetRun(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	return c.JSON(http.StatusOK, run)
}

// handlePolicy returns the active policy document.
func (s *Server) handlePolicy(c echo.Context) error {
	p := s.deps.Policy()
	if p == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no policy loaded")
	}
	return c.JSON(http.StatusOK, p)
}

// handleStatus returns daemon-wide counters for the dashboard.
func (s *Server) handleStatus(c echo.Context) error {
	resp, err := s.buildStatus(c.Request().Context())
	if err != nil {
		s.logger.Error("status assembly failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status query failed")
	}
	return c.JSON(http.StatusOK, resp)
}
