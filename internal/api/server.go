// Package api serves the notes over a loopback-only JSON API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/maloquacious/noto/internal/logger"
	"github.com/maloquacious/noto/internal/store"
	"github.com/maloquacious/noto/internal/syncer"
	"github.com/pkg/errors"
)

// Notes is what the API needs from the storage layer.
type Notes interface {
	store.NoteRepository
	Sync(ctx context.Context) error
	Status() syncer.Status
}

// Info is reported by GET /status.
type Info struct {
	Version       string
	BuildDate     string
	SchemaVersion func() (int, error)
}

// Server is the JSON API.
type Server struct {
	notes Notes
	info  Info
	log   logger.Logger
	echo  *echo.Echo
}

// New builds the router.
func New(notes Notes, info Info, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{notes: notes, info: info, log: log, echo: echo.New()}
	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(jsonOnly)

	e.GET("/live", func(c echo.Context) error { return c.String(http.StatusOK, "OK") })
	e.GET("/status", s.status)
	e.POST("/sync", s.sync)

	e.GET("/notes", s.list(notes.List))
	e.GET("/notes/deleted", s.list(notes.ListDeleted))
	e.GET("/notes/starred", s.list(notes.ListStarred))
	e.POST("/notes", s.create)
	e.GET("/notes/:id", s.get)
	e.PATCH("/notes/:id", s.update)
	e.DELETE("/notes/:id", s.delete)
	e.POST("/notes/:id/restore", s.restore)
	e.DELETE("/notes/:id/purge", s.purge)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve listens on 127.0.0.1:port until ctx is done, then shuts down within timeout.
func (s *Server) Serve(ctx context.Context, port int, timeout time.Duration) error {
	// Bind to 127.0.0.1 only (loopback enforcement)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return errors.Wrap(err, "listener bind failed (loopback only)")
	}
	srv := &http.Server{Handler: s.echo}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening on %s (JSON-only)", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- errors.Wrap(err, "api server error")
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "api shutdown")
	}
	s.log.Info("api shutdown complete")
	return nil
}

// jsonOnly enforces the JSON-only contract.
func jsonOnly(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		accept := r.Header.Get("Accept")
		if accept != "" && !strings.Contains(accept, "application/json") {
			return echo.NewHTTPError(http.StatusNotAcceptable, "Accept must include application/json")
		}
		if r.Method != http.MethodGet && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		}
		return next(c)
	}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, code, msg := http.StatusInternalServerError, "internal", "internal error"

	var he *echo.HTTPError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "note not found"
	case errors.As(err, &he):
		status = he.Code
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(he.Code), " ", "_"))
		msg = fmt.Sprint(he.Message)
	default:
		s.log.Error("%s %s: %v", c.Request().Method, c.Path(), err)
	}

	if err := c.JSON(status, map[string]string{"error": code, "message": msg}); err != nil {
		s.log.Error("write error response: %v", err)
	}
}

func (s *Server) status(c echo.Context) error {
	resp := map[string]any{
		"version":   s.info.Version,
		"buildDate": s.info.BuildDate,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"mode":      "running",
		"sync":      s.notes.Status(),
	}
	if s.info.SchemaVersion != nil {
		v, err := s.info.SchemaVersion()
		if err != nil {
			return err
		}
		resp["schemaVersion"] = v
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) sync(c echo.Context) error {
	if err := s.notes.Sync(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, s.notes.Status())
}

func (s *Server) list(fn func(ctx context.Context) ([]store.Note, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		notes, err := fn(c.Request().Context())
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, notes)
	}
}

func (s *Server) get(c echo.Context) error {
	n, err := s.notes.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) create(c echo.Context) error {
	var in store.CreateNoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	n, err := s.notes.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, n)
}

func (s *Server) update(c echo.Context) error {
	var in store.UpdateNoteInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	n, err := s.notes.Update(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) delete(c echo.Context) error {
	if err := s.notes.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) restore(c echo.Context) error {
	n, err := s.notes.Restore(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, n)
}

func (s *Server) purge(c echo.Context) error {
	if err := s.notes.Purge(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
