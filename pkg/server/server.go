// Package server exposes the chat stream, uploads and table management
// over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/cloudwego/hertz/pkg/protocol/sse"

	"github.com/randalmurphal/sqlchat/pkg/agent"
	"github.com/randalmurphal/sqlchat/pkg/sqlstore"
	"github.com/randalmurphal/sqlchat/pkg/stream"
	"github.com/randalmurphal/sqlchat/pkg/upload"
)

const maxRequestBodySize = 64 << 20

// Chat starts conversation turns.
type Chat interface {
	Start(ctx context.Context, threadID, message string) (*agent.Run, error)
}

// Uploads stores files and manages ingested tables.
type Uploads interface {
	Upload(ctx context.Context, files []upload.File) ([]upload.Record, error)
	ClearTables(ctx context.Context) error
}

// Config holds listener settings.
type Config struct {
	Addr            string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
}

type eventWriter interface {
	WriteEvent(id, event string, data []byte) error
	Close() error
}

// Server is the HTTP surface.
type Server struct {
	h         *server.Hertz
	chat      Chat
	projector *stream.Projector
	uploads   Uploads
	logger    *slog.Logger

	newWriter func(c *app.RequestContext) eventWriter
}

// New builds the server and registers its routes.
func New(cfg Config, chat Chat, projector *stream.Projector, uploads Uploads, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []config.Option{
		server.WithHostPorts(cfg.Addr),
		server.WithMaxRequestBodySize(maxRequestBodySize),
	}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, server.WithExitWaitTime(cfg.ShutdownTimeout))
	}

	s := &Server{
		h:         server.New(opts...),
		chat:      chat,
		projector: projector,
		uploads:   uploads,
		logger:    logger,
		newWriter: func(c *app.RequestContext) eventWriter { return sse.NewWriter(c) },
	}

	s.h.Use(cors(cfg.CORSOrigins))
	s.h.OPTIONS("/*path", func(_ context.Context, c *app.RequestContext) {
		c.SetStatusCode(consts.StatusNoContent)
	})
	s.h.GET("/chat_stream/:message", s.chatStream)
	s.h.POST("/files", s.uploadFiles)
	s.h.DELETE("/tables", s.clearTables)
	return s
}

// OnShutdown registers a hook run during graceful shutdown.
func (s *Server) OnShutdown(fn func(ctx context.Context)) {
	s.h.OnShutdown = append(s.h.OnShutdown, fn)
}

// Spin serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Spin() {
	s.h.Spin()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.h.Shutdown(ctx)
}

func (s *Server) chatStream(ctx context.Context, c *app.RequestContext) {
	message := c.Param("message")
	threadID := c.Query("checkpoint_id")

	run, err := s.chat.Start(ctx, threadID, message)
	if err != nil {
		s.fail(c, err)
		return
	}

	w := s.newWriter(c)
	defer w.Close()

	err = s.projector.Project(ctx, run, func(ev stream.Event) error {
		data, err := stream.Encode(ev)
		if err != nil {
			return err
		}
		return w.WriteEvent("", "", data)
	})
	if err != nil {
		s.logger.Warn("event stream ended early", "thread_id", run.ThreadID(), "run_id", run.ID(), "error", err)
	}
}

func (s *Server) uploadFiles(ctx context.Context, c *app.RequestContext) {
	var files []upload.File
	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["files"] {
			data, err := readPart(fh)
			if err != nil {
				s.fail(c, err)
				return
			}
			files = append(files, upload.File{Name: fh.Filename, Data: data})
		}
	}

	records, err := s.uploads.Upload(ctx, files)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"message": "Files uploaded successfully.",
		"files":   records,
	})
}

func (s *Server) clearTables(ctx context.Context, c *app.RequestContext) {
	if err := s.uploads.ClearTables(ctx); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"message": "All tables deleted."})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// fail writes a single {"detail": ...} response.
func (s *Server) fail(c *app.RequestContext, err error) {
	var (
		validation *upload.ValidationError
		ingestion  *sqlstore.IngestionError
	)

	status, detail := consts.StatusInternalServerError, "Internal server error."
	switch {
	case errors.As(err, &validation):
		status, detail = consts.StatusBadRequest, validation.Error()
	case errors.Is(err, agent.ErrEmptyMessage):
		status, detail = consts.StatusBadRequest, err.Error()
	case errors.As(err, &ingestion):
		status, detail = ingestion.Status, ingestion.Error()
	}

	if status >= consts.StatusInternalServerError {
		s.logger.Error("request failed", "path", string(c.Path()), "error", err)
	}
	c.AbortWithStatusJSON(status, utils.H{"detail": detail})
}
