package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vogiaan1904/runbattle/internal/relay"
	"github.com/vogiaan1904/runbattle/internal/service"
	"github.com/vogiaan1904/runbattle/pkg/logger"
	"github.com/vogiaan1904/runbattle/pkg/response"
)

type HTTPHandler struct {
	battleSvc    service.BattleService
	readinessSvc service.ReadinessService
	mmSvc        service.MatchmakingService
	hub          *relay.Hub
	l            logger.Logger
	validator    *validator.Validate
	upgrader     websocket.Upgrader
}

func NewHTTPHandler(
	battleSvc service.BattleService,
	readinessSvc service.ReadinessService,
	mmSvc service.MatchmakingService,
	hub *relay.Hub,
	l logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		battleSvc:    battleSvc,
		readinessSvc: readinessSvc,
		mmSvc:        mmSvc,
		hub:          hub,
		l:            l,
		validator:    validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.ServeWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/matchmaking", func(r chi.Router) {
			r.Post("/queue", h.Enqueue)
			r.Delete("/queue/{userId}", h.Dequeue)
			r.Get("/status/{userId}", h.PollStatus)
		})

		r.Route("/battles", func(r chi.Router) {
			r.Post("/", h.CreateBattle)
			r.Route("/{battleId}", func(r chi.Router) {
				r.Use(h.battleFields)
				r.Get("/", h.GetBattle)
				r.Post("/ready", h.ToggleReady)
				r.Post("/start", h.StartBattle)
				r.Post("/quit", h.Quit)
				r.Post("/gps", h.IngestSample)
				r.Post("/finish", h.Finish)
				r.Get("/rankings", h.Rankings)
				r.Get("/results", h.Results)
			})
		})
	})

	return r
}

// battleFields tags every log line of a battle route with its id.
func (h *HTTPHandler) battleFields(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := h.l.WithFields(r.Context(), "battle_id", chi.URLParam(r, "battleId"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HealthCheck handles health check requests
func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.OK(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "battle-service",
	})
}

// decode reads the body into dst and validates it. It writes the error
// response itself and reports whether the handler may continue.
func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, errInvalidBody)
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			fields := make(map[string]string, len(vErrs))
			for _, fe := range vErrs {
				fields[fe.Field()] = fe.Tag()
			}
			response.ValidationError(w, errCodeValidation, fields)
			return false
		}
		response.Error(w, errInvalidBody)
		return false
	}

	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if httpErr, ok := mapError(err); ok {
		response.Error(w, httpErr)
		return
	}

	h.l.Errorf(r.Context(), "delivery.http.HTTPHandler.%s: %v", op, err)
	response.Error(w, err)
}
