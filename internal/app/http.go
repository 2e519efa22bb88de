package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/auth"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/compose"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/export"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/graph"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/metrics"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/search"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/session"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/store"
	"github.com/jaypiddy/POWER-SHIFTER-Active-Strategy-Tracker-sub000/internal/util"
)

const maxBodyBytes = 1 << 20

type HTTPServer struct {
	sessions   *Registry
	secret     []byte
	accessTTL  time.Duration
	corsOrigin string
	logger     *slog.Logger
	now        func() time.Time
	revoked    session.Revocations
}

func NewHTTPServer(sessions *Registry, secret []byte, accessTTL time.Duration, corsOrigin string, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{
		sessions:   sessions,
		secret:     secret,
		accessTTL:  accessTTL,
		corsOrigin: corsOrigin,
		logger:     logger,
		now:        time.Now,
		revoked:    session.NewMemoryRevocations(),
	}
}

// WithRevocations shares signed-out tokens across processes.
func (s *HTTPServer) WithRevocations(revocations session.Revocations) *HTTPServer {
	s.revoked = revocations
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store": map[string]any{"status": "ok"},
		}
		if err := s.sessions.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":       status == "ready",
			"status":   status,
			"checks":   checks,
			"sessions": s.sessions.Len(),
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		claims, err := s.authenticate(r.Context(), bearerToken(r))
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
			return
		}
		payload := map[string]any{"authenticated": true, "userName": claims.Name, "userId": claims.Subject, "role": claims.Role}
		if svc, ok := s.sessions.Lookup(claims.Subject); ok {
			status, blockErr := svc.Status()
			payload["status"] = status
			if blockErr != nil {
				payload["blockedReason"] = blockErr.Error()
			}
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	claims, svc, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodDelete && r.URL.Path == "/api/session" {
		if err := s.revoked.Revoke(r.Context(), claims.ID, claims.ExpiresAt.Time); err != nil {
			s.fail(w, err)
			return
		}
		s.sessions.Release(claims.Subject)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/restart" {
		if err := svc.Restart(r.Context()); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": StatusActive})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/stream" {
		s.handleStream(w, r, svc)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "collections" {
		s.handleCollections(w, r, svc, parts[2:])
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/bets" {
		bets, err := svc.PopulatedBets()
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": bets})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/summary" {
		bets, err := svc.PopulatedBets()
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"themes": compose.Summary(bets)})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/graph" {
		s.handleGraph(w, r, svc)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r, svc)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/export" {
		s.handleExport(w, r, svc)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/deeplink" {
		s.handleDeepLink(w, r, svc)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/comments" {
		var body struct {
			EntityType string `json:"entityType"`
			EntityID   string `json:"entityId"`
			Body       string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		comment, err := svc.AddComment(r.Context(), store.EntityKind(body.EntityType), body.EntityID, body.Body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, comment)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/snapshots" {
		var body struct {
			Label string `json:"label"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		snapshot, err := svc.CreateSnapshot(r.Context(), body.Label)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/maintenance/reap-orphans" {
		removed, err := svc.ReapOrphans(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "bets" && parts[3] == "advisory" && r.Method == http.MethodPost {
		text, err := svc.GenerateAdvisory(r.Context(), parts[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"betId": parts[2], "advisory": text})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Email       string `json:"email"`
		AvatarURL   string `json:"avatarUrl"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "id is required", nil)
		return
	}
	svc, err := s.sessions.Acquire(r.Context(), Identity{
		ID:          body.ID,
		DisplayName: body.DisplayName,
		Email:       body.Email,
		AvatarURL:   body.AvatarURL,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	role, err := svc.Role(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	token, err := auth.IssueToken(s.secret, auth.NewClaims(body.ID, body.DisplayName, string(role), s.accessTTL, s.now()))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"userName": body.DisplayName,
		"userId":   body.ID,
		"role":     role,
	})
}

// requireSession authenticates the bearer token and returns the principal's
// session, starting it if this process has not seen the principal yet.
func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (auth.Claims, *Service, bool) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("access_token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Claims{}, nil, false
	}
	claims, err := s.authenticate(r.Context(), token)
	if err != nil {
		s.fail(w, err)
		return auth.Claims{}, nil, false
	}
	if svc, ok := s.sessions.Lookup(claims.Subject); ok {
		return claims, svc, true
	}
	svc, err := s.sessions.Acquire(r.Context(), Identity{ID: claims.Subject, DisplayName: claims.Name})
	if err != nil {
		s.fail(w, err)
		return auth.Claims{}, nil, false
	}
	return claims, svc, true
}

// authenticate parses token and rejects signed-out tokens.
func (s *HTTPServer) authenticate(ctx context.Context, token string) (auth.Claims, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return auth.Claims{}, err
	}
	revoked, err := s.revoked.Revoked(ctx, claims.ID)
	if err != nil {
		return auth.Claims{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return auth.Claims{}, auth.ErrInvalidToken
	}
	return claims, nil
}

func (s *HTTPServer) handleCollections(w http.ResponseWriter, r *http.Request, svc *Service, parts []string) {
	c := store.Collection(parts[0])
	if !c.Valid() {
		writeError(w, http.StatusNotFound, "UNKNOWN_COLLECTION", fmt.Sprintf("unknown collection %q", parts[0]), nil)
		return
	}
	entities, err := svc.Entities()
	if err != nil {
		s.fail(w, err)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"collection": c,
			"ready":      entities.Ready(c),
			"version":    entities.Version(c),
			"items":      nonNilEntities(entities.List(c)),
		})
	case len(parts) == 1 && r.Method == http.MethodPost:
		s.writeEntity(w, r, svc, c, util.NewID(""), http.StatusCreated)
	case len(parts) == 2 && r.Method == http.MethodGet:
		e, ok := entities.Get(c, parts[1])
		if !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": e, "pending": entities.Pending(c, parts[1])})
	case len(parts) == 2 && r.Method == http.MethodPut:
		s.writeEntity(w, r, svc, c, parts[1], http.StatusOK)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		coord, err := svc.Coordinator()
		if err != nil {
			s.fail(w, err)
			return
		}
		if err := coord.Delete(r.Context(), c, parts[1]); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) writeEntity(w http.ResponseWriter, r *http.Request, svc *Service, c store.Collection, id string, status int) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
		return
	}
	if !json.Valid(raw) {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return
	}
	e, err := store.Decode(c, store.Document{ID: id, Data: raw})
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	coord, err := svc.Coordinator()
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := coord.Write(r.Context(), e); err != nil {
		s.fail(w, err)
		return
	}
	entities, err := svc.Entities()
	if err != nil {
		s.fail(w, err)
		return
	}
	if stored, ok := entities.Get(c, id); ok {
		e = stored
	}
	writeJSON(w, status, map[string]any{"item": e})
}

func (s *HTTPServer) handleGraph(w http.ResponseWriter, r *http.Request, svc *Service) {
	query := r.URL.Query()
	view, err := svc.ResolveGraph(query.Get("owner"))
	if err != nil {
		s.fail(w, err)
		return
	}
	payload := map[string]any{
		"nodes":  view.Nodes,
		"edges":  view.Edges,
		"layout": view.Layout,
	}
	if hover := query.Get("hover"); hover != "" {
		layer := graph.Layer(query.Get("layer"))
		if !layer.Valid() {
			writeError(w, http.StatusBadRequest, "INVALID_LAYER", fmt.Sprintf("unknown layer %q", query.Get("layer")), nil)
			return
		}
		payload["active"] = view.ActiveSetForHover(hover, layer).IDs()
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, svc *Service) {
	query := r.URL.Query()
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be a number", nil)
		return
	}
	offset, err := optionalInt(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "offset must be a number", nil)
		return
	}
	resultType := search.ResultType(query.Get("type"))
	if resultType != "" && !resultType.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", fmt.Sprintf("unknown type %q", resultType), nil)
		return
	}
	response, err := svc.Search(search.Query{
		Text:          query.Get("q"),
		FilterType:    resultType,
		FilterThemeID: query.Get("theme"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, svc *Service) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'html', 'pdf' or 'docx'", nil)
		return
	}
	result, err := svc.Export(r.Context(), export.Request{
		Format:       format,
		ThemeID:      query.Get("theme"),
		IncludeTasks: query.Get("tasks") != "false",
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

// detailRecorder captures what a deep link opens.
type detailRecorder struct {
	mu     sync.Mutex
	detail openDetail
}

type openDetail struct {
	Kind    store.EntityKind `json:"kind,omitempty"`
	Bet     *store.Bet       `json:"bet,omitempty"`
	Outcome *store.Outcome   `json:"outcome,omitempty"`
	TaskID  string           `json:"taskId,omitempty"`
}

func (d *detailRecorder) set(detail openDetail) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.detail = detail
}

func (d *detailRecorder) current() openDetail {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detail
}

func (d *detailRecorder) OpenBet(bet store.Bet, focusTaskID string) {
	d.set(openDetail{Kind: store.KindBet, Bet: &bet, TaskID: focusTaskID})
}

func (d *detailRecorder) OpenOutcome(outcome store.Outcome) {
	d.set(openDetail{Kind: store.KindOutcome, Outcome: &outcome})
}

func (d *detailRecorder) CloseDetail() {
	d.set(openDetail{})
}

func (s *HTTPServer) handleDeepLink(w http.ResponseWriter, r *http.Request, svc *Service) {
	location := r.URL.Query().Get("location")
	if location == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "location is required", nil)
		return
	}
	view := &detailRecorder{}
	link, release, err := svc.DeepLink(view, location)
	if err != nil {
		s.fail(w, err)
		return
	}
	release()
	writeJSON(w, http.StatusOK, map[string]any{
		"location": link.Location(),
		"pending":  link.Pending(),
		"detail":   view.current(),
	})
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err)
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack hands the connection to the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func optionalInt(value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func nonNilEntities(items []store.Entity) []store.Entity {
	if items == nil {
		return []store.Entity{}
	}
	return items
}
