package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/llm"
)

// DefaultMaxUploadBytes bounds /analyze request bodies.
const DefaultMaxUploadBytes = 10 << 20

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 4 << 20

// Options configures the HTTP API.
type Options struct {
	// Environment is reported by /health.
	Environment string

	MaxUploadBytes int64
	AllowedOrigins []string

	// MaxConcurrent limits in-flight /analyze requests. Zero disables it.
	MaxConcurrent int

	// StaticDir, when set, serves the web UI at / and /static/.
	StaticDir string

	// Checks are run by /health.
	Checks map[string]HealthChecker

	Logger *zap.Logger
}

// Router serves the consultation API.
type Router struct {
	svc       *consult.Service
	opts      Options
	logger    *zap.Logger
	maxUpload int64
}

// NewRouter builds the HTTP handler for svc.
func NewRouter(svc *consult.Service, opts Options) http.Handler {
	r := &Router{svc: svc, opts: opts, logger: opts.Logger, maxUpload: opts.MaxUploadBytes}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.maxUpload <= 0 {
		r.maxUpload = DefaultMaxUploadBytes
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(LoggingMiddleware(r.logger))
	mux.Use(middleware.Recoverer)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	mux.Get("/health", HealthHandler(opts.Environment, opts.Checks))
	mux.Get("/agents", r.wrap(r.handleAgents))
	mux.Group(func(rt chi.Router) {
		if opts.MaxConcurrent > 0 {
			rt.Use(middleware.Throttle(opts.MaxConcurrent))
		}
		rt.Post("/analyze", r.wrap(r.handleAnalyze))
	})

	if opts.StaticDir != "" {
		mux.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
		mux.Get("/", r.wrap(r.handleIndex))
	}

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// wrap maps handler errors to status codes.
func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}

		status, detail := r.classify(err)
		if status == 0 {
			// Client went away; nothing to write.
			return
		}

		var rl *llm.ErrRateLimit
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(rl.RetryAfter.Round(time.Second).Seconds())))
		}

		log := r.logger.With(
			zap.String("request_id", middleware.GetReqID(req.Context())),
			zap.String("path", req.URL.Path),
			zap.Int("status", status),
		)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", zap.Error(err))
		} else {
			log.Info("request rejected", zap.Error(err))
		}

		writeJSON(w, status, errorBody{Detail: detail})
	}
}

type errorBody struct {
	Detail string `json:"detail"`
}

// badRequest is a client error whose message is safe to return.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

func (r *Router) classify(err error) (int, string) {
	var (
		bad   *badRequest
		tooBg *http.MaxBytesError
		pe    *consult.ProviderError
		rl    *llm.ErrRateLimit
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, bad.msg
	case errors.Is(err, consult.ErrEmptyQuestion):
		return http.StatusBadRequest, "Question is required."
	case errors.As(err, &tooBg):
		return http.StatusRequestEntityTooLarge, fmt.Sprintf("Upload exceeds %d bytes.", tooBg.Limit)
	case errors.Is(err, context.Canceled):
		return 0, ""
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "The model did not answer in time. Please retry."
	case errors.As(err, &rl):
		return http.StatusTooManyRequests, "The model is rate limited. Please retry shortly."
	case errors.As(err, &pe):
		return http.StatusBadGateway, "The model could not be reached. Please retry later."
	}
	return http.StatusInternalServerError, "Internal error."
}

type agentInfo struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Specialties []string `json:"specialties"`
	Default     bool     `json:"default"`
}

// GET /agents
func (r *Router) handleAgents(w http.ResponseWriter, req *http.Request) error {
	reg := r.svc.Registry()
	def := reg.Default().ID

	profiles := reg.Profiles()
	out := make([]agentInfo, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, agentInfo{
			ID:          p.ID,
			Title:       p.Title,
			Description: p.Description,
			Specialties: p.Specialties,
			Default:     p.ID == def,
		})
	}
	writeJSON(w, http.StatusOK, out)
	return nil
}

// POST /analyze
// Multipart form: question (required), agent, history (JSON), image (file).
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	if req.ContentLength > r.maxUpload {
		return &http.MaxBytesError{Limit: r.maxUpload}
	}
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUpload)

	if err := req.ParseMultipartForm(multipartMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return err
		}
		return &badRequest{msg: "Invalid form body."}
	}
	if req.MultipartForm != nil {
		defer req.MultipartForm.RemoveAll()
	}

	question := strings.TrimSpace(req.FormValue("question"))
	if question == "" {
		return consult.ErrEmptyQuestion
	}

	history, err := ParseHistory(req.FormValue("history"))
	if err != nil {
		return &badRequest{msg: "Invalid history JSON: " + err.Error()}
	}

	image, err := readImage(req)
	if err != nil {
		return err
	}

	res, err := r.svc.Analyze(req.Context(), consult.Request{
		Question: question,
		AgentID:  strings.TrimSpace(req.FormValue("agent")),
		Image:    image,
		History:  history,
	})
	if err != nil {
		return err
	}

	w.Header().Set("X-Request-Id", res.RequestID)
	writeJSON(w, http.StatusOK, res)
	return nil
}

func readImage(req *http.Request) (*consult.Image, error) {
	file, header, err := req.FormFile("image")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return nil, nil
	case err != nil:
		return nil, &badRequest{msg: "Invalid image upload."}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return &consult.Image{
		Data:     data,
		Filename: header.Filename,
		MIMEType: header.Header.Get("Content-Type"),
	}, nil
}

// GET /
func (r *Router) handleIndex(w http.ResponseWriter, req *http.Request) error {
	index := filepath.Join(r.opts.StaticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "UI not built yet."})
		return nil
	}
	http.ServeFile(w, req, index)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// Serve runs srv on ln until ctx is done, then shuts it down gracefully
// within shutdownTimeout.
func Serve(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
