package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"participation/internal/cache"
	"participation/internal/core"
	"participation/internal/log"
	"participation/internal/metrics"
	"participation/internal/middleware/ratelimit"
	"participation/internal/middleware/security"
	"participation/internal/middleware/trace"
	"participation/internal/services"
	appweb "participation/web"
)

const (
	DefaultSessionTTL  = 30 * time.Minute
	DefaultMaxSessions = 1000

	cacheSweepInterval = time.Minute
	readyTimeout       = 5 * time.Second
)

// AllocationEditor is the part of services.AllocationService the handlers
// drive.
type AllocationEditor interface {
	Reference(ctx context.Context) (core.ReferenceData, error)
	Open(ctx context.Context, key core.MonthKey) (*core.EditorSession, []services.Warning, error)
	AddRow(ctx context.Context, session *core.EditorSession, projectID string, code core.RoleCode, rate int) (core.AllocationRow, error)
	SetRate(ctx context.Context, session *core.EditorSession, index, rate int) error
	RemoveRow(ctx context.Context, session *core.EditorSession, index int) (core.AllocationRow, error)
	Save(ctx context.Context, session *core.EditorSession) error
}

// Options tunes a Server. The zero value is usable.
type Options struct {
	Metrics     *metrics.Metrics
	Logger      *log.Logger
	SessionTTL  time.Duration
	MaxSessions int
	// Ready reports whether the backing store answers; nil skips the check.
	Ready func(ctx context.Context) error
	// CacheManager sweeps the session and rate limit tables. When nil the
	// server runs its own.
	CacheManager *cache.Manager
	RateLimit    ratelimit.Config
	// Now overrides the clock for tests.
	Now func() time.Time
}

type Server struct {
	http.Server
	templates *template.Template
	svc       AllocationEditor
	sessions  *sessionStore
	limiter   *ratelimit.Limiter
	metrics   *metrics.Metrics
	logger    *log.Logger
	ready     func(ctx context.Context) error
	now       func() time.Time

	sessionTTL   time.Duration
	cacheManager *cache.Manager
	ownsManager  bool
	startedAt    time.Time
	shutdownOnce sync.Once
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, svc AllocationEditor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	maxSessions := opts.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}

	mux := http.NewServeMux()
	s := &Server{
		svc:          svc,
		sessions:     newSessionStore(maxSessions, ttl, now),
		limiter:      ratelimit.NewLimiter(opts.RateLimit),
		metrics:      opts.Metrics,
		logger:       logger.WithComponent(log.ComponentHTTP),
		ready:        opts.Ready,
		now:          now,
		sessionTTL:   ttl,
		cacheManager: opts.CacheManager,
		startedAt:    now(),
	}

	if s.cacheManager == nil {
		s.cacheManager = cache.NewManager(logger)
		s.ownsManager = true
		s.cacheManager.StartCleanup(cacheSweepInterval)
	}
	s.cacheManager.Register(s.sessions.entries)
	s.cacheManager.Register(s.limiter.Cleaner())

	// Parse embedded templates at startup.
	t, err := template.ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		s.logger.Error("Failed parsing templates",
			log.FieldError, err,
			log.FieldComponent, log.ComponentTemplate)
	}
	s.templates = t

	// Static assets (served from embedded FS)
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.logger.Warn("Failed to mount embedded static FS", log.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", opts.Metrics.Handler())

	mux.HandleFunc("POST /sessions", s.handleOpenSession)
	mux.HandleFunc("GET /editor", s.handleEditor)
	mux.HandleFunc("POST /editor/rows", s.handleAddRow)
	mux.HandleFunc("POST /editor/rows/{index}/rate", s.handleSetRate)
	mux.HandleFunc("POST /editor/rows/{index}/delete", s.handleRemoveRow)
	mux.HandleFunc("POST /editor/save", s.handleSave)
	mux.HandleFunc("POST /editor/reset", s.handleReset)

	ipResolver := security.NewClientIPResolver()
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limit := s.limiter.Middleware(ipResolver.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			log.FieldClientIP, ipResolver.ExtractClientIP(r),
			log.FieldPath, r.URL.Path,
			log.FieldComponent, log.ComponentSecurity)
		ErrorResponse(http.StatusTooManyRequests, "Too many requests. Please slow down.").Write(w)
	}, http.MethodPost)
	tracer := trace.NewMiddleware(ipResolver.ExtractClientIP, opts.Metrics, logger)

	var handler http.Handler = mux
	handler = headers.Middleware(handler)
	handler = limit(handler)
	handler = log.RequestIDMiddleware(trace.RequestID)(handler)
	handler = log.Middleware(logger.WithComponent(log.ComponentHTTP))(handler)
	handler = tracer.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and its cleanup routine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.ownsManager {
			s.cacheManager.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
