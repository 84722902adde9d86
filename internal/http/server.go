package http

import (
	"context"
	"net/http"
	"time"

	"gastos/internal/core"
	"gastos/internal/log"
	"gastos/internal/middleware/ratelimit"
	"gastos/internal/middleware/security"
	"gastos/internal/middleware/trace"
	"gastos/internal/services"
)

// maxBodyBytes bounds request bodies; messages are short free text.
const maxBodyBytes = 1 << 16

// Tracker is the part of services.Tracker the API exposes.
type Tracker interface {
	Record(ctx context.Context, ownerID int64, rawText string, referenceDate core.Date, source string) (services.RecordResult, error)
	Correct(ctx context.Context, ownerID, id int64, rawText string, referenceDate core.Date) (services.RecordResult, error)
	Delete(ctx context.Context, ownerID, id int64) error
	GetSummary(ctx context.Context, ownerID int64, period core.Period) (core.MonthlySummary, error)
	GetStats(ctx context.Context, ownerID int64) (core.Stats, error)
	ListTransactions(ctx context.Context, ownerID int64, period core.Period) ([]core.Transaction, error)
	Insights(ctx context.Context, ownerID int64, period core.Period) (core.Insights, error)
	SyncNow(ctx context.Context, ownerID int64) (core.ReconciliationReport, error)
	CleanNow(ctx context.Context, ownerID int64) (core.CleanReport, error)
	SetGoal(ctx context.Context, ownerID int64, category core.Category, limit core.Money, period core.Period) (core.Goal, error)
	Goals(ctx context.Context, ownerID int64, period core.Period) ([]core.GoalProgress, error)
	DeleteGoal(ctx context.Context, ownerID int64, category core.Category, period core.Period) error
	ClearGoals(ctx context.Context, ownerID int64) (int, error)
	OwnerConfig(ctx context.Context, ownerID int64) (core.OwnerConfig, error)
	UpdateOwnerConfig(ctx context.Context, cfg core.OwnerConfig) (core.OwnerConfig, error)
	ClearCache(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

var _ Tracker = (*services.Tracker)(nil)

type Option func(*Server)

// WithClock sets the clock used for default reference dates.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// WithLocation sets the timezone in which "today" is computed.
func WithLocation(loc *time.Location) Option { return func(s *Server) { s.loc = loc } }

// WithRecordLimit caps record and correct requests per owner per minute.
func WithRecordLimit(perMinute int) Option {
	return func(s *Server) { s.recordLimit = perMinute }
}

type Server struct {
	http.Server
	tracker     Tracker
	logger      *log.Logger
	sl          *log.StructuredLogger
	limiter     *ratelimit.Limiter
	tracer      *trace.Middleware
	now         func() time.Time
	loc         *time.Location
	recordLimit int
	started     time.Time
}

func NewServer(addr string, tracker Tracker, logger *log.Logger, opts ...Option) *Server {
	s := &Server{
		tracker:     tracker,
		logger:      logger.WithComponent(log.ComponentHTTP),
		now:         time.Now,
		loc:         time.UTC,
		recordLimit: ratelimit.DefaultConfig().RequestsPerMinute,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.sl = log.NewStructuredLogger(s.logger)
	s.started = s.now()
	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: s.recordLimit})

	ips := security.NewIPExtractor()
	s.tracer = trace.NewMiddleware(s.logger, ips.ClientIP)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	limited := s.limiter.Middleware(ownerKey(ips), func(w http.ResponseWriter, r *http.Request) {
		NewJSONResponse().Status(http.StatusTooManyRequests).
			Error("rate_limited", "Muitas mensagens em pouco tempo. Tente novamente em um minuto.").
			Write(w)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.Handle("POST /api/owners/{owner}/transactions", limited(http.HandlerFunc(s.handleRecord)))
	mux.Handle("PUT /api/owners/{owner}/transactions/{id}", limited(http.HandlerFunc(s.handleCorrect)))
	mux.HandleFunc("DELETE /api/owners/{owner}/transactions/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/owners/{owner}/transactions", s.handleList)

	mux.HandleFunc("GET /api/owners/{owner}/summary", s.handleSummary)
	mux.HandleFunc("GET /api/owners/{owner}/stats", s.handleStats)
	mux.HandleFunc("GET /api/owners/{owner}/insights", s.handleInsights)

	mux.HandleFunc("GET /api/owners/{owner}/goals", s.handleGoals)
	mux.HandleFunc("PUT /api/owners/{owner}/goals/{category}", s.handleSetGoal)
	mux.HandleFunc("DELETE /api/owners/{owner}/goals/{category}", s.handleDeleteGoal)
	mux.HandleFunc("DELETE /api/owners/{owner}/goals", s.handleClearGoals)

	mux.HandleFunc("GET /api/owners/{owner}/config", s.handleGetConfig)
	mux.HandleFunc("PATCH /api/owners/{owner}/config", s.handleUpdateConfig)

	mux.HandleFunc("POST /api/owners/{owner}/sync", s.handleSync)
	mux.HandleFunc("POST /api/owners/{owner}/clean", s.handleClean)
	mux.HandleFunc("DELETE /api/cache", s.handleClearCache)

	s.Addr = addr
	s.Handler = s.tracer.Middleware(headers.Middleware(mux))
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 60 * time.Second
	s.IdleTimeout = 60 * time.Second
	s.MaxHeaderBytes = 1 << 16
	return s
}

// ownerKey limits per owner so one chatty owner cannot starve the others;
// requests without an owner fall back to the client address.
func ownerKey(ips *security.IPExtractor) func(*http.Request) string {
	return func(r *http.Request) string {
		if owner := r.PathValue("owner"); owner != "" {
			return "owner:" + owner
		}
		return "ip:" + ips.ClientIP(r)
	}
}

// Shutdown stops background helpers and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.limiter.Stop()
	return s.Server.Shutdown(ctx)
}

// today is the default reference date for new messages.
func (s *Server) today() core.Date {
	return core.DateOf(s.now().In(s.loc))
}
