package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"github.com/labstack/echo/v4"
)

type extractReq struct {
	Username       string `json:"username" validate:"required"`
	TargetUsername string `json:"targetUsername" validate:"required"`
	MaxCount       int    `json:"maxCount" validate:"gte=0"`
}

// extract serves both /get-followers and /get-following. Progress lines
// from the adapter are forwarded to observers as log events.
func (a *api) extract(dir platform.Direction) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req extractReq
		if err := bindValid(c, &req); err != nil {
			return fail(c, http.StatusBadRequest, "Username and target username are required")
		}
		client, err := a.sessions.Get(req.Username)
		if err != nil {
			return noSession(c)
		}

		maxCount := req.MaxCount
		if maxCount <= 0 {
			maxCount = a.defaultMaxCount
		}
		if maxCount <= 0 {
			maxCount = 1000
		}

		notify := func(msg string) { a.say(req.Username, msg) }
		target := util.NormalizeHandle(req.TargetUsername)

		users, err := client.ListConnections(c.Request().Context(), dir, target, maxCount, notify)
		if err != nil {
			a.say(req.Username, fmt.Sprintf("Error extracting %s: %s", dir, err))
			if errors.Is(err, platform.ErrTargetNotFound) {
				return fail(c, http.StatusNotFound, err.Error())
			}
			return fail(c, http.StatusBadGateway, err.Error())
		}
		return c.JSON(http.StatusOK, map[string]any{"success": true, "users": users})
	}
}
