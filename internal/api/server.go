package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"imagepipe/internal/config"
	"imagepipe/internal/history"
	"imagepipe/internal/logging"
	"imagepipe/internal/pipeline"
	"imagepipe/internal/progress"
	"imagepipe/internal/services/captioner"
)

// maxMemoryMultipart bounds how much of a multipart body is buffered in memory
// before parts spill to temporary files.
const maxMemoryMultipart = 32 << 20

// Runner executes a batch of uploaded items.
type Runner interface {
	ProcessBatch(ctx context.Context, items []pipeline.Item) (pipeline.BatchResult, error)
}

// Captioner produces ranked captions for one image.
type Captioner interface {
	Generate(ctx context.Context, imagePath string, params captioner.Params) ([]captioner.Result, error)
}

// BatchStore reads the batch history ledger.
type BatchStore interface {
	ListBatches(ctx context.Context, limit int) ([]history.Batch, error)
	GetBatch(ctx context.Context, id string) (*history.Batch, error)
}

// StatusFunc reports daemon status for the status endpoint.
type StatusFunc func(ctx context.Context) DaemonStatus

// Deps holds the collaborators the HTTP layer routes requests to.
// Captioner, History, and Status are optional.
type Deps struct {
	Config    *config.Config
	Runner    Runner
	Bus       *progress.Bus
	Captioner Captioner
	History   BatchStore
	Status    StatusFunc
	Logger    *slog.Logger
}

// Server holds the dependencies for the HTTP API.
type Server struct {
	uploadDir string
	maxBody   int64
	token     string
	runner    Runner
	bus       *progress.Bus
	captioner Captioner
	history   BatchStore
	status    StatusFunc
	logger    *slog.Logger
	keepalive time.Duration
	origins   []string
}

// NewServer creates a Server from its collaborators.
func NewServer(d Deps) *Server {
	logger := logging.NewComponentLogger(d.Logger, "api")
	s := &Server{
		runner:    d.Runner,
		bus:       d.Bus,
		captioner: d.Captioner,
		history:   d.History,
		status:    d.Status,
		logger:    logger,
		keepalive: defaultKeepalive,
	}
	if d.Config != nil {
		s.uploadDir = d.Config.Paths.UploadDir
		s.maxBody = d.Config.MaxUploadBytes()
		s.token = strings.TrimSpace(d.Config.Paths.APIToken)
		s.origins = d.Config.Paths.CORSOrigins
	}
	if s.bus == nil {
		s.bus = progress.NewBus(0)
	}
	return s
}

// Router sets up and returns the main router for the application.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Cache-Control", "Last-Event-ID"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/images", func(r chi.Router) {
		r.Get("/events", s.handleEvents)
		r.Get("/events/ws", s.handleEventsWS)

		r.Group(func(r chi.Router) {
			r.Use(bearerAuth(s.token))
			r.Post("/upload", s.handleUpload)
			r.Post("/captions", s.handleCaptions)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(bearerAuth(s.token))
		r.Get("/status", s.handleStatus)
		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{batchID}", s.handleGetBatch)
	})

	return r
}
