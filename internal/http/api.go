package http

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/jmehdipour/dm-dispatcher/internal/dispatch"
	"github.com/jmehdipour/dm-dispatcher/internal/model"
	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/progress"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/jmehdipour/dm-dispatcher/internal/util"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const noSessionMsg = "No active session found. Please login again."

type api struct {
	sessions        *session.Registry
	factory         platform.Factory
	engine          *dispatch.Engine
	pub             progress.Publisher
	reports         repository.CHOutcomesRepository
	defaultMaxCount int
	log             *zap.Logger
}

type echoValidator struct {
	v *validator.Validate
}

func newValidator() *echoValidator {
	return &echoValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (ev *echoValidator) Validate(i any) error { return ev.v.Struct(i) }

// bindValid binds the JSON body and runs struct validation.
func bindValid(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{"success": false, "error": msg})
}

func noSession(c echo.Context) error {
	return fail(c, http.StatusNotFound, noSessionMsg)
}

// say publishes a human readable line to progress observers.
func (a *api) say(identity, msg string) {
	a.pub.Publish(model.Event{
		Kind:     model.EventLog,
		Identity: util.NormalizeHandle(identity),
		Message:  msg,
	})
}
