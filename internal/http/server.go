package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/dm-dispatcher/internal/config"
	"github.com/jmehdipour/dm-dispatcher/internal/dispatch"
	"github.com/jmehdipour/dm-dispatcher/internal/http/middleware"
	"github.com/jmehdipour/dm-dispatcher/internal/metrics"
	"github.com/jmehdipour/dm-dispatcher/internal/platform"
	"github.com/jmehdipour/dm-dispatcher/internal/progress"
	"github.com/jmehdipour/dm-dispatcher/internal/repository"
	"github.com/jmehdipour/dm-dispatcher/internal/session"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators of the HTTP API. Operators, Reports and Redis
// are optional; the features that need them are switched off when nil.
type Deps struct {
	Config    config.Config
	Sessions  *session.Registry
	Factory   platform.Factory
	Engine    *dispatch.Engine
	Hub       *progress.Hub
	Publisher progress.Publisher
	Operators repository.OperatorsRepository
	Reports   repository.CHOutcomesRepository
	Redis     *redis.Client
	Log       *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Publisher == nil {
		d.Publisher = d.Hub
	}
	a := &api{
		sessions:        d.Sessions,
		factory:         d.Factory,
		engine:          d.Engine,
		pub:             d.Publisher,
		reports:         d.Reports,
		defaultMaxCount: d.Config.Platform.DefaultMaxCount,
		log:             d.Log,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newValidator()
	e.Use(echoMid.Recover(), echoMid.RequestLogger(requestLogger(d.Log)), echoMid.CORS())

	metrics.MustRegister(prometheus.DefaultRegisterer)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/ws", echo.WrapHandler(progress.NewWSHandler(d.Hub, d.Config.Progress.SubscriberBuffer, d.Log)))

	var mws []echo.MiddlewareFunc
	if d.Config.Auth.RequireAPIKey && d.Operators != nil {
		mws = append(mws, middleware.APIKeyMiddleware(d.Operators))
	}
	mws = append(mws, middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     d.Config.RateLimit.RPS,
		KeyPrefix:      "rl:dmd:",
		Window:         time.Second,
		RetryAfterHint: true,
	}))

	g := e.Group("/api", mws...)
	g.POST("/login", a.login)
	g.POST("/verify-challenge", a.verifyChallenge)
	g.POST("/logout", a.logout)
	g.POST("/user-info", a.userInfo)
	g.POST("/get-followers", a.extract(platform.Followers))
	g.POST("/get-following", a.extract(platform.Following))
	g.POST("/send-messages", a.sendMessages)
	g.POST("/cancel-dispatch", a.cancelDispatch)
	g.GET("/dispatches/:id", a.dispatchStatus)
	g.GET("/reports/outcomes", a.listOutcomes)

	return &Server{e: e, log: d.Log}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func requestLogger(log *zap.Logger) echoMid.RequestLoggerConfig {
	return echoMid.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
				log.Warn("http request", fields...)
				return nil
			}
			log.Info("http request", fields...)
			return nil
		},
	}
}
