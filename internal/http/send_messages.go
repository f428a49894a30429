package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jmehdipour/dm-dispatcher/internal/dispatch"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type sendReq struct {
	Username string       `json:"username" validate:"required"`
	Users    []model.User `json:"users" validate:"dive"`
	Message  string       `json:"message"`
	Count    int          `json:"count"`
	MinDelay int          `json:"minDelay"`
	MaxDelay int          `json:"maxDelay"`
}

func (a *api) sendMessages(c echo.Context) error {
	var req sendReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Malformed request body")
	}
	if err := c.Validate(&req); err != nil {
		return fail(c, http.StatusBadRequest, "Missing required parameters")
	}

	ack, err := a.engine.Start(c.Request().Context(), model.DispatchRequest{
		Identity:   req.Username,
		Recipients: req.Users,
		Message:    req.Message,
		Count:      req.Count,
		MinDelay:   req.MinDelay,
		MaxDelay:   req.MaxDelay,
	})
	switch {
	case err == nil:
	case dispatch.IsValidation(err):
		return fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNoActiveSession):
		return noSession(c)
	case errors.Is(err, dispatch.ErrRunInProgress):
		return fail(c, http.StatusConflict, err.Error())
	default:
		a.log.Error("start dispatch", zap.String("identity", req.Username), zap.Error(err))
		a.say(req.Username, fmt.Sprintf("Error starting message sending: %s", err))
		return fail(c, http.StatusServiceUnavailable, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Started sending messages",
		"runId":   ack.RunID,
		"total":   ack.Total,
	})
}

func (a *api) cancelDispatch(c echo.Context) error {
	var req identityReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Username is required")
	}
	if _, err := a.sessions.Get(req.Username); err != nil {
		return noSession(c)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "cancelled": a.engine.Cancel(req.Username)})
}

func (a *api) dispatchStatus(c echo.Context) error {
	st, ok := a.engine.Status(c.Param("id"))
	if !ok {
		return fail(c, http.StatusNotFound, "dispatch not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "dispatch": st})
}
