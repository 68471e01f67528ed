package bridgehttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/openportal/mesh/internal/board"
	"github.com/openportal/mesh/internal/cryptutil"
	"github.com/openportal/mesh/internal/job"
)

// submitTTL bounds how long a bridge-originated job may remain unfinished
// before the expiry sweep errors it out; spec.md §5 doesn't pin an exact
// figure for bridge submissions, so this mirrors the 120s long-running
// external-command ceiling with headroom for a multi-hop cascade.
const submitTTL = 10 * time.Minute

// statusWait bounds how long POST /status blocks for a still-pending job,
// spec.md §4.7: "returns the current job ... blocking briefly if pending."
const statusWait = 2 * time.Second

// Submitter is the subset of internal/handler.Handler the bridge needs:
// introduce a brand-new job and get back its completion waiter.
type Submitter interface {
	Submit(j job.Job) (<-chan job.Job, error)
}

// Server is the signed REST bridge surface described in spec.md §4.7: a
// small Axum-style (here, chi) HTTP server on its own port, entirely
// separate from the WebSocket mesh port, guarded by the Date+HMAC scheme in
// signature.go. Grounded on arkeep's server/internal/api package for
// router/middleware/response shape.
type Server struct {
	selfName string
	key      cryptutil.Key
	board    *board.Board
	submit   Submitter
	signaler *Signaler
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a bridge HTTP server. board is the bridge's own local job
// board (board.Set.Get(selfName)); submit is the handler used to introduce
// jobs coming in over POST /run.
func New(selfName string, key cryptutil.Key, b *board.Board, submit Submitter, signaler *Signaler, logger *zap.Logger) *Server {
	return &Server{
		selfName: selfName,
		key:      key,
		board:    b,
		submit:   submit,
		signaler: signaler,
		logger:   logger.Named("bridgehttp"),
		now:      time.Now,
	}
}

// Router builds the chi handler exposing /health, /run, /status.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Post("/run", s.handleRun)
	r.Post("/status", s.handleStatus)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("bridge http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := VerifyRequest(s.key, r, "health", nil, s.now()); err != nil {
		errUnauthorized(w, err.Error())
		return
	}
	ok(w, map[string]string{"status": "ok"})
}

type runRequest struct {
	Command   string `json:"command"`
	SignalURL string `json:"signal_url,omitempty"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := VerifyRequest(s.key, r, "run", req, s.now()); err != nil {
		errUnauthorized(w, err.Error())
		return
	}

	destPart, instPart, ok2 := strings.Cut(strings.TrimSpace(req.Command), " ")
	if !ok2 {
		errBadRequest(w, "command must be \"destination instruction\"")
		return
	}

	dest, err := parseDestination(destPart)
	if err != nil {
		errBadRequest(w, err.Error())
		return
	}
	inst, err := parseInstruction(instPart)
	if err != nil {
		errBadRequest(w, err.Error())
		return
	}

	j := job.New("", dest, inst, submitTTL)
	j.SignalURL = req.SignalURL

	waiter, err := s.submit.Submit(j)
	if err != nil {
		errInternal(w, err.Error())
		return
	}
	_ = waiter // the bridge returns immediately; callers poll /status

	submitted, found := s.board.Get(j.ID)
	if !found {
		submitted = j
	}

	if req.SignalURL != "" {
		if sigErr := s.signaler.Signal(r.Context(), req.SignalURL, j.ID.String()); sigErr != nil {
			s.logger.Warn("signal_url unreachable after retries, dropping job",
				zap.String("job", j.ID.String()), zap.Error(sigErr))
			s.board.Remove(j.ID)
			errInternal(w, "signal_url unreachable: "+sigErr.Error())
			return
		}
	}

	ok(w, submitted)
}

type statusRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := VerifyRequest(s.key, r, "status", req, s.now()); err != nil {
		errUnauthorized(w, err.Error())
		return
	}

	id, err := parseUUID(req.JobID)
	if err != nil {
		errBadRequest(w, err.Error())
		return
	}

	j, found := s.board.Get(id)
	if !found {
		errNotFound(w, "no such job")
		return
	}
	if j.IsFinished() {
		ok(w, j)
		return
	}

	waiter, err := s.board.GetWaiter(id)
	if err != nil {
		ok(w, j)
		return
	}
	select {
	case finished := <-waiter:
		ok(w, finished)
	case <-time.After(statusWait):
		ok(w, j)
	}
}
