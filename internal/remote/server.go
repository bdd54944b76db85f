// Package remote is the sync server that lets several terminals share one
// task list, and the HTTP client that talks to it.
package remote

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskdeck/internal/storage"
	"taskdeck/internal/tasks"
)

const (
	maxBodySize   = 64 << 10
	sseDataPrefix = "data: "
)

// Store is what the server reads and writes.
type Store interface {
	List(ctx context.Context) ([]tasks.Task, error)
	Create(ctx context.Context, d tasks.Draft) (string, error)
	Update(ctx context.Context, id string, p tasks.Patch) error
	Remove(ctx context.Context, id string) error
	Reorder(ctx context.Context, updates []tasks.OrderUpdate) error
}

type Server struct {
	store  Store
	fanout Fanout
	token  string
	log    *log.Entry
}

func NewServer(store Store, fanout Fanout, token string, logger *log.Entry) *Server {
	return &Server{store: store, fanout: fanout, token: token, log: logger}
}

type createResponse struct {
	ID string `json:"id"`
}

type reorderRequest struct {
	Updates []tasks.OrderUpdate `json:"updates"`
}

// Echo returns a configured echo instance with every route registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.healthz)
	api := e.Group("/api", s.authenticate)
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.POST("/tasks/reorder", s.reorderTasks)
	api.PATCH("/tasks/:id", s.updateTask)
	api.DELETE("/tasks/:id", s.deleteTask)
	api.GET("/stream", s.stream)
}

func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.token)) != 1 {
			return c.String(http.StatusUnauthorized, "invalid token")
		}
		return next(c)
	}
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) listTasks(c echo.Context) error {
	list, err := s.store.List(c.Request().Context())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) createTask(c echo.Context) error {
	var d tasks.Draft
	if err := decodeBody(c, &d); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	id, err := s.store.Create(c.Request().Context(), d)
	if err != nil {
		return s.fail(c, err)
	}
	s.publish(c)
	return c.JSON(http.StatusCreated, createResponse{ID: id})
}

func (s *Server) updateTask(c echo.Context) error {
	var p tasks.Patch
	if err := decodeBody(c, &p); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := s.store.Update(c.Request().Context(), c.Param("id"), p); err != nil {
		return s.fail(c, err)
	}
	s.publish(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteTask(c echo.Context) error {
	if err := s.store.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	s.publish(c)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reorderTasks(c echo.Context) error {
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(http.StatusBadRequest, "invalid body")
	}
	if err := s.store.Reorder(c.Request().Context(), req.Updates); err != nil {
		return s.fail(c, err)
	}
	s.publish(c)
	return c.NoContent(http.StatusNoContent)
}

// stream sends the full task list once on connect and again after every
// change, as server-sent events.
func (s *Server) stream(c echo.Context) error {
	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	ctx := c.Request().Context()
	changed, cancel := s.fanout.Subscribe()
	defer cancel()
	s.log.Debug("stream opened")
	for {
		list, err := s.store.List(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.WithError(err).Error("stream: list tasks")
			return err
		}
		data, err := sonic.Marshal(list)
		if err != nil {
			s.log.WithError(err).Error("stream: marshal tasks")
			return err
		}
		frame := make([]byte, 0, len(sseDataPrefix)+len(data)+2)
		frame = append(frame, sseDataPrefix...)
		frame = append(frame, data...)
		frame = append(frame, '\n', '\n')
		if _, err := c.Response().Write(frame); err != nil {
			return err
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			s.log.Debug("stream closed")
			return nil
		case <-changed:
		}
	}
}

func (s *Server) publish(c echo.Context) {
	if err := s.fanout.Publish(c.Request().Context()); err != nil {
		s.log.WithError(err).Warn("publish change")
	}
}

// fail maps a store error to a status code. Validation and missing-task
// errors carry their message to the client.
func (s *Server) fail(c echo.Context, err error) error {
	var notFound storage.TaskNotFoundError
	var badDue tasks.InvalidDueDateError
	switch {
	case errors.As(err, &notFound):
		return c.String(http.StatusNotFound, notFound.Error())
	case errors.Is(err, tasks.ErrEmptyTitle):
		return c.String(http.StatusBadRequest, tasks.ErrEmptyTitle.Error())
	case errors.As(err, &badDue):
		return c.String(http.StatusBadRequest, badDue.Error())
	}
	s.log.WithError(err).WithField("path", c.Path()).Error("request failed")
	return c.String(http.StatusInternalServerError, err.Error())
}

func decodeBody(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
