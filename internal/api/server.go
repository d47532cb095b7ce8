package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"landlord/internal/auth"
	"landlord/internal/config"
	"landlord/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type contextKey string

const userContextKey contextKey = "user"

const maxReplayCommands = 100

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Server struct {
	cfg  config.APIConfig
	log  *slog.Logger
	auth *auth.SupabaseClient
	game *game.Service
	mux  *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, authClient *auth.SupabaseClient, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:  cfg,
		log:  logger,
		auth: authClient,
		game: gameSvc,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/clock", s.handleClock)
			r.Get("/properties", s.handlePropertiesList)
			r.Get("/properties/{id}", s.handlePropertyDetail)
			r.Post("/properties/{id}/invest", s.handleInvest)
			r.Post("/properties/{id}/divest", s.handleDivest)
			r.Get("/escrows", s.handleEscrowsList)
			r.Get("/escrows/{id}", s.handleEscrowDetail)
			r.Post("/escrows/{id}/cancel", s.handleEscrowCancel)
			r.Get("/rents", s.handleRents)
			r.Get("/ledger", s.handleLedger)
			r.Get("/leaderboard", s.handleLeaderboard)
			r.Post("/sync/replay", s.handleSyncReplay)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/admin/clock", s.handleAdminClock)
			r.Post("/admin/pool/replenish", s.handleAdminReplenish)
			r.Post("/admin/tick", s.handleAdminTick)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Admin-Token"))
		if !auth.CheckAdminToken(s.cfg.AdminTokenHash, token) {
			writeError(w, http.StatusForbidden, "admin access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Handle   string `json:"handle"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if session.User.ID != "" {
		if err := s.game.EnsurePlayer(r.Context(), session.User.ID, session.User.Email, in.Handle); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), strings.TrimSpace(in.Password))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.game.EnsurePlayer(r.Context(), session.User.ID, session.User.Email, ""); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := s.game.Dashboard(r.Context(), user.UserID, worldID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := s.game.Clock(r.Context(), worldID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePropertiesList(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	includeUnlisted := r.URL.Query().Get("all") == "1"
	out, err := s.game.ListProperties(r.Context(), worldID, includeUnlisted)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"properties": out})
}

func (s *Server) handlePropertyDetail(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	propertyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property id")
		return
	}
	out, err := s.game.PropertyDetail(r.Context(), worldID, propertyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	propertyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property id")
		return
	}
	var in struct {
		Units int64 `json:"units"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.Invest(r.Context(), game.InvestInput{
		UserID:         user.UserID,
		WorldID:        worldID,
		PropertyID:     propertyID,
		Units:          in.Units,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDivest(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	propertyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid property id")
		return
	}
	var in struct {
		Units int64 `json:"units"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.game.Divest(r.Context(), game.DivestInput{
		UserID:         user.UserID,
		WorldID:        worldID,
		PropertyID:     propertyID,
		Units:          in.Units,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEscrowsList(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	includeClosed := r.URL.Query().Get("all") == "1"
	out, err := s.game.Escrows(r.Context(), user.UserID, worldID, includeClosed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escrows": out})
}

func (s *Server) handleEscrowDetail(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	escrowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	out, err := s.game.EscrowByID(r.Context(), user.UserID, worldID, escrowID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	escrowID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid escrow id")
		return
	}
	result, err := s.game.CancelEscrow(r.Context(), game.CancelEscrowInput{
		UserID:         user.UserID,
		WorldID:        worldID,
		EscrowID:       escrowID,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRents(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := s.game.Rents(r.Context(), user.UserID, worldID, queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rents": out})
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := s.game.Ledger(r.Context(), user.UserID, worldID, queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out, err := s.game.Leaderboard(r.Context(), worldID, 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": out})
}

type replayCommand struct {
	Method         string          `json:"method"`
	Path           string          `json:"path"`
	Body           json.RawMessage `json:"body,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type replayResult struct {
	Path   string `json:"path"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

const (
	replayApplied   = "applied"
	replayDuplicate = "duplicate"
	replayRejected  = "rejected"
)

// handleSyncReplay applies commands a client queued while offline, in order.
// Each command carries the idempotency key minted when it was queued, so a
// command that already reached the server settles as a duplicate instead of
// running twice.
func (s *Server) handleSyncReplay(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var in struct {
		Commands []replayCommand `json:"commands"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(in.Commands) > maxReplayCommands {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many commands, max %d per replay", maxReplayCommands))
		return
	}

	results := make([]replayResult, 0, len(in.Commands))
	for _, cmd := range in.Commands {
		status, detail := s.applyReplay(r.Context(), user, worldID, cmd)
		results = append(results, replayResult{Path: cmd.Path, Status: status, Detail: detail})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) applyReplay(ctx context.Context, user UserContext, worldID int64, cmd replayCommand) (string, string) {
	if !strings.EqualFold(cmd.Method, http.MethodPost) {
		return replayRejected, "only POST commands can be replayed"
	}
	key := strings.TrimSpace(cmd.IdempotencyKey)
	if key == "" {
		return replayRejected, "missing idempotency key"
	}

	segs := strings.Split(strings.Trim(cmd.Path, "/"), "/")
	if len(segs) != 4 || segs[0] != "v1" {
		return replayRejected, "unsupported path"
	}
	id, err := strconv.ParseInt(segs[2], 10, 64)
	if err != nil {
		return replayRejected, "invalid id in path"
	}

	switch {
	case segs[1] == "properties" && (segs[3] == "invest" || segs[3] == "divest"):
		var body struct {
			Units int64 `json:"units"`
		}
		if len(cmd.Body) > 0 {
			if err := json.Unmarshal(cmd.Body, &body); err != nil {
				return replayRejected, "invalid body: " + err.Error()
			}
		}
		if segs[3] == "invest" {
			_, err = s.game.Invest(ctx, game.InvestInput{
				UserID: user.UserID, WorldID: worldID, PropertyID: id,
				Units: body.Units, IdempotencyKey: key,
			})
		} else {
			_, err = s.game.Divest(ctx, game.DivestInput{
				UserID: user.UserID, WorldID: worldID, PropertyID: id,
				Units: body.Units, IdempotencyKey: key,
			})
		}
	case segs[1] == "escrows" && segs[3] == "cancel":
		_, err = s.game.CancelEscrow(ctx, game.CancelEscrowInput{
			UserID: user.UserID, WorldID: worldID, EscrowID: id,
			IdempotencyKey: key,
		})
	default:
		return replayRejected, "unsupported path"
	}

	switch {
	case err == nil:
		return replayApplied, ""
	case errors.Is(err, game.ErrDuplicateIdempotency):
		return replayDuplicate, ""
	default:
		return replayRejected, err.Error()
	}
}

func (s *Server) handleAdminClock(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var in game.ClockInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.SetClock(r.Context(), worldID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminReplenish(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	var in struct {
		MinListed int `json:"min_listed"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.MinListed <= 0 {
		in.MinListed = s.cfg.MinListed
	}
	listed, err := s.game.ReplenishPool(r.Context(), worldID, in.MinListed)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listed": listed})
}

func (s *Server) handleAdminTick(w http.ResponseWriter, r *http.Request) {
	worldID, err := s.game.ActiveWorldID(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	report, err := s.game.RunWorldTick(r.Context(), worldID, game.TickOptions{
		Mood:      s.cfg.MarketMood,
		MinListed: s.cfg.MinListed,
		BotTarget: s.cfg.BotCount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"world_id":      report.WorldID,
		"game_now":      report.GameNow,
		"escrow_events": len(report.Escrows),
		"rent_months":   report.RentMonths,
		"rent_micros":   report.RentMicros,
		"revalued":      report.Revalued,
		"regime":        report.Regime,
		"regime_shift":  report.RegimeShift,
		"listed":        report.Listed,
		"bot_invests":   report.BotInvests,
		"bot_divests":   report.BotDivests,
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrDuplicateIdempotency), errors.Is(err, game.ErrTxConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInsufficientUnits),
		errors.Is(err, game.ErrUnitsUnavailable), errors.Is(err, game.ErrInvalidTimeScale),
		errors.Is(err, game.ErrInvalidClockAction):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, game.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrWorldNotFound), errors.Is(err, game.ErrPropertyNotFound),
		errors.Is(err, game.ErrEscrowNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrPropertyRetired), errors.Is(err, game.ErrEscrowFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
