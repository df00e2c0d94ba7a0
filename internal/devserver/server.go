// Package devserver is an in-memory stand-in for the analysis backend. It
// serves every endpoint the client uses, counts calls per route and id, and
// can be told to fail the next call on a route.
package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Route names accepted by Calls and FailNext.
const (
	RouteUpload        = "video_upload"
	RouteJobStatus     = "video_status"
	RouteJobLogs       = "video_logs"
	RouteVideoChat     = "video_chat"
	RouteVideos        = "video_all"
	RouteVideoDetails  = "video_details"
	RouteVideoDelete   = "video_delete"
	RouteStreamCreate  = "stream_register"
	RouteStreams       = "stream_all"
	RouteStream        = "stream_get"
	RouteStreamStart   = "stream_start"
	RouteStreamStop    = "stream_stop"
	RouteStreamStatus  = "stream_status"
	RouteStreamLogs    = "stream_logs"
	RouteStreamUpdate  = "stream_update"
	RouteStreamChat    = "stream_chat"
	RouteStreamDelete  = "stream_delete"
	defaultProgressHop = 25
	timeLayout         = "2006-01-02T15:04:05.000000"
)

type Options struct {
	// ProgressStep is added to a video's progress on every status read.
	ProgressStep int
	// Token, when set, is required as a bearer credential.
	Token string
	// LogsAsString makes the stream log endpoint return the entries as a
	// JSON-encoded string, as some backend builds do.
	LogsAsString bool
	Logger       *zap.SugaredLogger
	// AccessLog enables one log line per request.
	AccessLog bool
}

type failure struct {
	status int
	detail string
}

type Server struct {
	e    *echo.Echo
	log  *zap.SugaredLogger
	opts Options

	mu          sync.Mutex
	videos      map[string]*video
	videoOrder  []string
	streams     map[string]*stream
	streamOrder []string
	calls       map[string]int
	failures    map[string][]failure
	now         func() time.Time
}

func New(opts Options) *Server {
	if opts.ProgressStep <= 0 {
		opts.ProgressStep = defaultProgressHop
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		log:      log,
		opts:     opts,
		videos:   map[string]*video{},
		streams:  map[string]*stream{},
		calls:    map[string]int{},
		failures: map[string][]failure{},
		now:      func() time.Time { return time.Now().UTC() },
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if opts.AccessLog {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogMethod:    true,
			LogURI:       true,
			LogStatus:    true,
			LogRequestID: true,
			LogLatency:   true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				s.log.Infow("request",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"request_id", v.RequestID,
					"latency", v.Latency.String(),
				)
				return nil
			},
		}))
	}
	if opts.Token != "" {
		e.Use(s.requireToken)
	}

	e.POST("/video/upload", s.route(RouteUpload, s.uploadVideo))
	e.GET("/video/all", s.route(RouteVideos, s.listVideos))
	e.POST("/video/chat", s.route(RouteVideoChat, s.askVideo))
	e.GET("/video/:id/status", s.route(RouteJobStatus, s.videoStatus))
	e.GET("/video/:id/logs", s.route(RouteJobLogs, s.videoLogs))
	e.GET("/video/:id/details", s.route(RouteVideoDetails, s.videoDetails))
	e.DELETE("/video/:id", s.route(RouteVideoDelete, s.deleteVideo))

	e.POST("/stream/register", s.route(RouteStreamCreate, s.registerStream))
	e.GET("/stream/all", s.route(RouteStreams, s.listStreams))
	e.GET("/stream/status/:id", s.route(RouteStreamStatus, s.streamStatus))
	e.GET("/stream/:id", s.route(RouteStream, s.getStream))
	e.POST("/stream/:id/start", s.route(RouteStreamStart, s.startStream))
	e.POST("/stream/:id/stop", s.route(RouteStreamStop, s.stopStream))
	e.GET("/stream/:id/logs", s.route(RouteStreamLogs, s.streamLogs))
	e.POST("/stream/:id/update", s.route(RouteStreamUpdate, s.updateStream))
	e.POST("/stream/:id/chat", s.route(RouteStreamChat, s.askStream))
	e.DELETE("/stream/:id", s.route(RouteStreamDelete, s.deleteStream))

	s.e = e
	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Calls reports how many requests route has served for id. Routes without
// an id path parameter count under "".
func (s *Server) Calls(route, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callKey(route, id)]
}

// FailNext makes the next request on route answer status with detail.
// Queued failures are consumed in order.
func (s *Server) FailNext(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], failure{status: status, detail: detail})
}

func callKey(route, id string) string {
	return route + "|" + id
}

func (s *Server) route(name string, h echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		s.mu.Lock()
		s.calls[callKey(name, id)]++
		var injected *failure
		if queue := s.failures[name]; len(queue) > 0 {
			injected = &queue[0]
			s.failures[name] = queue[1:]
		}
		s.mu.Unlock()

		if injected != nil {
			return detail(c, injected.status, injected.detail)
		}
		return h(c)
	}
}

func (s *Server) requireToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		if strings.TrimPrefix(auth, "Bearer ") != s.opts.Token || !strings.HasPrefix(auth, "Bearer ") {
			return detail(c, http.StatusUnauthorized, "Not authenticated")
		}
		return next(c)
	}
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func (s *Server) stamp() string {
	return s.now().Format(timeLayout)
}
