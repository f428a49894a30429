package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (a *api) listOutcomes(c echo.Context) error {
	if a.reports == nil {
		return fail(c, http.StatusServiceUnavailable, "reports are disabled")
	}

	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	st, ok := model.ParseOutcomeStatus(c.QueryParam("status"))
	if !ok {
		return fail(c, http.StatusBadRequest, "invalid status")
	}

	rows, err := a.reports.List(c.Request().Context(), repository.OutcomeFilter{
		Identity: util.NormalizeHandle(c.QueryParam("identity")),
		RunID:    strings.TrimSpace(c.QueryParam("run_id")),
		Status:   st,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		a.log.Error("clickhouse list failed", zap.Error(err))
		return fail(c, http.StatusInternalServerError, "query failed")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"limit":   limit,
		"offset":  offset,
		"count":   len(rows),
		"results": rows,
	})
}
