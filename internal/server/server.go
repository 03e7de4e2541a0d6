// Package server serves the conversion page over HTTP.
//
// Every browser session gets its own flow.Workspace. Uploads drive the
// workspace flows; outputs are exposed under /artifacts/:id for the session
// that produced them only.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/book-expert/fileconv-service/internal/artifact"
	"github.com/book-expert/fileconv-service/internal/flow"
)

// RFC3339Millis is the access log timestamp layout.
const RFC3339Millis = "2006-01-02T15:04:05.000Z07:00"

const (
	defaultAddr            = ":8080"
	defaultSessionTTL      = 30 * time.Minute
	defaultReapInterval    = time.Minute
	defaultMaxUploadBytes  = 64 << 20
	defaultShutdownTimeout = 10 * time.Second
	sessionCookieName      = "fileconv_session"
)

//go:embed templates/*.html
var templateFS embed.FS

// WorkspaceFactory creates the workspace of a new session. Alerts raised by
// its flows must go to notifier.
type WorkspaceFactory func(sessionID string, notifier flow.Notifier) *flow.Workspace

// Options configures a Server.
type Options struct {
	Addr            string
	SessionTTL      time.Duration
	ReapInterval    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	// AccessLog enables the JSON request log on gin's default writer.
	AccessLog bool
}

func applyDefaultOptions(opts *Options) {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}

	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}

	if opts.ReapInterval <= 0 {
		opts.ReapInterval = defaultReapInterval
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
}

// Server is the HTTP front end of the conversion page.
type Server struct {
	router   *gin.Engine
	sessions *sessionStore
	store    artifact.Store
	log      *logger.Logger
	opts     Options
}

// New builds a Server. store must be the store the factory's workspaces
// write to.
func New(opts Options, factory WorkspaceFactory, store artifact.Store, log *logger.Logger) (*Server, error) {
	applyDefaultOptions(&opts)

	tmpl, tmplErr := template.New("").Funcs(template.FuncMap{
		"humanBytes": func(size int64) string { return humanize.Bytes(uint64(max(size, 0))) },
	}).ParseFS(templateFS, "templates/*.html")
	if tmplErr != nil {
		return nil, fmt.Errorf("parse templates: %w", tmplErr)
	}

	srv := &Server{
		sessions: newSessionStore(factory, opts.SessionTTL),
		store:    store,
		log:      log,
		opts:     opts,
	}

	router := gin.New()
	if opts.AccessLog {
		router.Use(gin.LoggerWithConfig(gin.LoggerConfig{Formatter: logFormatter}))
	}

	router.Use(gin.Recovery(), srv.limitBody)
	router.MaxMultipartMemory = opts.MaxUploadBytes
	router.SetHTMLTemplate(tmpl)
	srv.routes(router)
	srv.router = router

	return srv, nil
}

// Handler returns the HTTP handler of the server.
func (srv *Server) Handler() http.Handler {
	return srv.router
}

// Run serves until ctx is done, then shuts down and tears down every session.
func (srv *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              srv.opts.Addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	reapCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()

	go srv.reap(reapCtx)

	serveErr := make(chan error, 1)

	go func() {
		srv.log.Info("Listening on %s", srv.opts.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	var runErr error

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		srv.log.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), srv.opts.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			runErr = fmt.Errorf("shutdown: %w", err)
		}
	}

	closeErr := srv.sessions.closeAll(context.WithoutCancel(ctx))
	if closeErr != nil {
		srv.log.Warn("Failed to release session artifacts: %v", closeErr)
	}

	return runErr
}

func (srv *Server) reap(ctx context.Context) {
	ticker := time.NewTicker(srv.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			reaped, err := srv.sessions.reapIdle(ctx, now)
			if err != nil {
				srv.log.Warn("Failed to release idle session artifacts: %v", err)
			}

			if reaped > 0 {
				srv.log.Info("Closed %d idle session(s)", reaped)
			}
		}
	}
}

func (srv *Server) limitBody(c *gin.Context) {
	if c.Request.Body != nil {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, srv.opts.MaxUploadBytes)
	}

	c.Next()
}

func logFormatter(param gin.LogFormatterParams) string {
	if param.Latency > time.Minute {
		param.Latency = param.Latency.Truncate(time.Second)
	}

	return fmt.Sprintf("{\"timestamp\":%q, \"status_code\": %d, \"latency\": %q, \"latency_raw\": %d, "+
		"\"request_size\": %q, \"request_size_raw\": %d, \"client_ip\": %q, \"method\": %q, "+
		"\"path\": %q, \"error\": %q}\n",
		param.TimeStamp.Format(RFC3339Millis),
		param.StatusCode,
		param.Latency.String(),
		param.Latency,
		humanize.Bytes(uint64(max(param.BodySize, 0))),
		param.BodySize,
		param.ClientIP,
		param.Method,
		param.Path,
		param.ErrorMessage,
	)
}
