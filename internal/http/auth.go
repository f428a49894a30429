package http

import (
	"fmt"
	"net/http"

	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type loginReq struct {
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	TwoFactorCode string `json:"twoFactorCode"`
}

type verifyReq struct {
	Username string `json:"username" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

type identityReq struct {
	Username string `json:"username" validate:"required"`
}

func (a *api) login(c echo.Context) error {
	var req loginReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Username and password are required")
	}
	handle := util.NormalizeHandle(req.Username)
	if !util.ValidHandle(handle) {
		return fail(c, http.StatusBadRequest, "Invalid username")
	}

	client := a.factory(handle)
	res, err := client.Login(c.Request().Context(), req.Password, req.TwoFactorCode)
	if err != nil {
		a.log.Warn("login error", zap.String("identity", handle), zap.Error(err))
		a.say(handle, fmt.Sprintf("Login error: %s", err))
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	switch {
	case res.Succeeded:
		a.sessions.Put(handle, client)
		a.say(handle, fmt.Sprintf("Successfully logged in as %s", handle))
	case res.RequiresChallenge:
		// kept so verify-challenge can finish on the same client
		a.sessions.Put(handle, client)
		a.say(handle, "Two-factor authentication required")
	default:
		a.say(handle, fmt.Sprintf("Login failed: %s", res.Error))
	}
	return c.JSON(http.StatusOK, res)
}

func (a *api) verifyChallenge(c echo.Context) error {
	var req verifyReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Username and verification code are required")
	}
	client, err := a.sessions.Get(req.Username)
	if err != nil {
		return noSession(c)
	}

	res, err := client.VerifyChallenge(c.Request().Context(), req.Code)
	if err != nil {
		a.say(req.Username, fmt.Sprintf("Verification error: %s", err))
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	if res.Succeeded {
		a.say(req.Username, fmt.Sprintf("Successfully verified and logged in as %s", util.NormalizeHandle(req.Username)))
	} else {
		a.say(req.Username, fmt.Sprintf("Verification failed: %s", res.Error))
	}
	return c.JSON(http.StatusOK, res)
}

func (a *api) userInfo(c echo.Context) error {
	var req identityReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Username is required")
	}
	client, err := a.sessions.Get(req.Username)
	if err != nil {
		return noSession(c)
	}

	u, err := client.CurrentUser(c.Request().Context())
	if err != nil {
		a.say(req.Username, fmt.Sprintf("Error fetching user info: %s", err))
		return fail(c, http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "user": u})
}

// logout drops the session; a running dispatch for the account is cancelled.
func (a *api) logout(c echo.Context) error {
	var req identityReq
	if err := bindValid(c, &req); err != nil {
		return fail(c, http.StatusBadRequest, "Username is required")
	}
	cancelled := a.engine.Cancel(req.Username)
	if !a.sessions.Clear(req.Username) {
		return noSession(c)
	}
	a.say(req.Username, fmt.Sprintf("Logged out %s", util.NormalizeHandle(req.Username)))
	return c.JSON(http.StatusOK, map[string]any{"success": true, "cancelled": cancelled})
}
