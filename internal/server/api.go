package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/urmindr/internal/assistant"
	"github.com/teemow/urmindr/internal/calendar"
	"github.com/teemow/urmindr/internal/conversation"
	"github.com/teemow/urmindr/internal/google"
	"github.com/teemow/urmindr/internal/identity"
	"github.com/teemow/urmindr/internal/logging"
	"github.com/teemow/urmindr/internal/tools"
)

const (
	// DefaultAddr is the default listen address of the API.
	DefaultAddr = ":5000"

	// DefaultReadHeaderTimeout bounds reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultWriteTimeout covers one completion plus one calendar call.
	DefaultWriteTimeout = 2 * time.Minute

	// DefaultIdleTimeout is the keep-alive timeout.
	DefaultIdleTimeout = 60 * time.Second
)

// Assistant is the conversation layer served by the API.
type Assistant interface {
	HandlePrompt(ctx context.Context, req assistant.PromptRequest) (*assistant.Reply, error)
	Generate(ctx context.Context, prompt string) (string, error)
	ListConversations(ctx context.Context, subjectID string) (map[string][]conversation.Turn, error)
}

// Authorizer runs the delegated calendar consent flow.
type Authorizer interface {
	AuthorizationURL(ctx context.Context, subjectID string) (string, error)
	Complete(ctx context.Context, state, code string) (string, *google.Credential, error)
}

// Config configures the API server.
type Config struct {
	Addr           string
	AllowedOrigins []string
	// RateLimit is requests per second per client IP. Zero disables limiting.
	RateLimit       float64
	RateBurst       int
	TrustProxy      bool
	Version         string
	CalendarTimeout time.Duration
	WriteTimeout    time.Duration
}

// Dependencies are the collaborators of the API server. Authorizer may be
// nil when no OAuth client is configured.
type Dependencies struct {
	Assistant     Assistant
	Verifier      identity.Verifier
	Calendar      calendar.Service
	Authorizer    Authorizer
	ServerContext *ServerContext
}

// APIServer serves the urmindr JSON API.
type APIServer struct {
	config     Config
	deps       Dependencies
	sc         *ServerContext
	logger     *slog.Logger
	decoder    *requestDecoder
	limiter    *RateLimiter
	health     *HealthChecker
	handler    http.Handler
	httpServer *http.Server
}

// NewAPIServer builds the API handler tree.
func NewAPIServer(config Config, deps Dependencies) (*APIServer, error) {
	if deps.Assistant == nil {
		return nil, errors.New("assistant is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("identity verifier is required")
	}
	if deps.Calendar == nil {
		return nil, errors.New("calendar service is required")
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.CalendarTimeout <= 0 {
		config.CalendarTimeout = tools.DefaultCalendarTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}

	sc := deps.ServerContext
	if sc == nil {
		sc = NewServerContext(context.Background(), nil, nil, nil)
	}

	s := &APIServer{
		config:  config,
		deps:    deps,
		sc:      sc,
		logger:  logging.WithComponent(sc.Logger(), "api"),
		decoder: newRequestDecoder(),
		health:  NewHealthChecker(sc, config.Version),
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst <= 0 {
			burst = DefaultRateBurst
		}
		s.limiter = NewRateLimiter(config.RateLimit, burst, config.TrustProxy)
	}

	mux := http.NewServeMux()
	s.health.RegisterHealthEndpoints(mux)
	s.route(mux, "POST /api/generate", false, s.handleGenerate)
	s.route(mux, "POST /api/toolcall", true, s.handleToolCall)
	s.route(mux, "GET /chats", true, s.handleChats)
	s.route(mux, "POST /api/cal/events", false, s.handleCalendarEvents)
	s.route(mux, "GET /api/cal/auth-url", true, s.handleAuthURL)
	s.route(mux, "GET /oauth2callback", false, s.handleOAuthCallback)

	var h http.Handler = mux
	h = cors(config.AllowedOrigins, h)
	h = securityHeaders(h)
	h = recoverPanics(s.logger, h)
	h = recordRequests(sc.Metrics(), h)
	s.handler = h

	s.httpServer = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return sc.Context() },
	}

	return s, nil
}

// route registers an API handler behind rate limiting and, when auth is set,
// bearer verification.
func (s *APIServer) route(mux *http.ServeMux, pattern string, auth bool, fn http.HandlerFunc) {
	var h http.Handler = fn
	if auth {
		h = requireAuth(s.deps.Verifier, s.sc.Metrics(), s.logger, h)
	}
	h = s.limiter.Middleware(h)
	mux.Handle(pattern, h)
}

// Handler returns the root handler.
func (s *APIServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker so callers can register dependency checks.
func (s *APIServer) Health() *HealthChecker {
	return s.health
}

// Addr returns the configured listen address.
func (s *APIServer) Addr() string {
	return s.config.Addr
}

// Start listens on the configured address and blocks until Shutdown.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ln)
}

// Serve serves the API on ln.
func (s *APIServer) Serve(ln net.Listener) error {
	s.logger.Info("starting API server", slog.String("addr", ln.Addr().String()))
	return s.httpServer.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.limiter != nil {
		s.limiter.Close()
	}
	s.logger.Info("shutting down API server")
	return errors.Join(s.httpServer.Shutdown(ctx), s.sc.Shutdown())
}

type generateRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (s *APIServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decoder.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := s.deps.Assistant.Generate(r.Context(), req.Prompt)
	if err != nil {
		s.writeAssistantError(w, "generate", err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{Response: text})
}

type toolCallRequest struct {
	Prompt         string `json:"prompt" validate:"required"`
	ConversationID string `json:"conversation_id"`
	// ChatID is accepted as an alias of ConversationID.
	ChatID        string             `json:"chat_id"`
	CalendarToken *google.Credential `json:"calendar_token" validate:"omitempty"`
	// AccessToken is a bare delegated access token without refresh support.
	AccessToken string `json:"accessToken"`
}

func (req toolCallRequest) credential() *google.Credential {
	if req.CalendarToken != nil {
		return req.CalendarToken
	}
	if req.AccessToken != "" {
		return &google.Credential{AccessToken: req.AccessToken}
	}
	return nil
}

type toolCallResponse struct {
	*assistant.Reply
	ChatID string `json:"chat_id"`
}

func (s *APIServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())

	var req toolCallRequest
	if err := s.decoder.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = req.ChatID
	}

	reply, err := s.deps.Assistant.HandlePrompt(r.Context(), assistant.PromptRequest{
		SubjectID:      subject,
		ConversationID: convID,
		Prompt:         req.Prompt,
		Credential:     req.credential(),
	})
	if err != nil {
		s.writeAssistantError(w, "toolcall", err)
		return
	}

	status := http.StatusOK
	if reply.Err != nil {
		status = reply.Err.Kind.HTTPStatus()
		if status != http.StatusInternalServerError {
			status = http.StatusOK
		}
	}
	writeJSON(w, status, toolCallResponse{Reply: reply, ChatID: reply.ConversationID})
}

func (s *APIServer) handleChats(w http.ResponseWriter, r *http.Request) {
	subject, _ := SubjectFromContext(r.Context())
	if userID := r.URL.Query().Get("user_id"); userID != "" && userID != subject {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}

	chats, err := s.deps.Assistant.ListConversations(r.Context(), subject)
	if err != nil {
		s.writeAssistantError(w, "chats", err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type calendarEventsRequest struct {
	AccessToken string `json:"accessToken" validate:"required"`
}

type calendarEventsResponse struct {
	Events []calendar.EventRecord `json:"events"`
}

func (s *APIServer) handleCalendarEvents(w http.ResponseWriter, r *http.Request) {
	var req calendarEventsRequest
	if err := s.decoder.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.CalendarTimeout)
	defer cancel()

	events, err := s.deps.Calendar.ListEvents(ctx, &google.Credential{AccessToken: req.AccessToken}, calendar.DefaultListLimit)
	if err != nil {
		s.logger.Error("failed to list calendar events", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to fetch calendar events")
		return
	}
	if events == nil {
		events = []calendar.EventRecord{}
	}
	writeJSON(w, http.StatusOK, calendarEventsResponse{Events: events})
}

type authURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

func (s *APIServer) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	if s.deps.Authorizer == nil {
		writeError(w, http.StatusServiceUnavailable, "Calendar authorization is not configured")
		return
	}
	subject, _ := SubjectFromContext(r.Context())

	authURL, err := s.deps.Authorizer.AuthorizationURL(r.Context(), subject)
	if errors.Is(err, google.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "Calendar authorization is not configured")
		return
	}
	if err != nil {
		s.logger.Error("failed to create authorization url", logging.SubjectHash(subject), logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to start calendar authorization")
		return
	}
	writeJSON(w, http.StatusOK, authURLResponse{AuthorizationURL: authURL})
}

type oauthCallbackResponse struct {
	CalendarToken *google.Credential `json:"calendar_token"`
}

func (s *APIServer) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if denied := q.Get("error"); denied != "" {
		writeError(w, http.StatusBadRequest, "Authorization failed: "+denied)
		return
	}
	state, code := q.Get("state"), q.Get("code")
	if state == "" || code == "" {
		writeError(w, http.StatusBadRequest, "Missing 'state' or 'code' parameter")
		return
	}
	if s.deps.Authorizer == nil {
		writeError(w, http.StatusServiceUnavailable, "Calendar authorization is not configured")
		return
	}

	subject, cred, err := s.deps.Authorizer.Complete(r.Context(), state, code)
	if errors.Is(err, google.ErrFlowStateNotFound) {
		writeError(w, http.StatusBadRequest, "Unknown or expired authorization state")
		return
	}
	if err != nil {
		s.logger.Error("failed to complete calendar authorization", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to complete calendar authorization")
		return
	}

	s.logger.Info("calendar authorization completed", logging.SubjectHash(subject))
	writeJSON(w, http.StatusOK, oauthCallbackResponse{CalendarToken: cred})
}

// writeAssistantError maps a classified error to its status. Validation and
// authentication messages are shown as is; other failures carry their cause.
func (s *APIServer) writeAssistantError(w http.ResponseWriter, op string, err error) {
	kind := assistant.KindOf(err)
	status := kind.HTTPStatus()
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", logging.Operation(op), slog.String("kind", string(kind)), logging.Err(err))
	}

	message := err.Error()
	var aerr *assistant.Error
	if errors.As(err, &aerr) && (kind == assistant.KindValidation || kind == assistant.KindAuthentication) && aerr.Message != "" {
		message = aerr.Message
	}
	writeError(w, status, message)
}
