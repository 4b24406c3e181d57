package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"persona-chat/internal/config"
	"persona-chat/internal/logic"
	"persona-chat/internal/models"
	"persona-chat/internal/provider"
)

const (
	defaultTimeout = 60 * time.Second
	// maxAttempts is the first send plus one retry
	maxAttempts   = 2
	readChunkSize = 4096
	maxErrorBody  = 64 << 10
	maxLogBody    = 500
)

// TokenFunc receives the current display text of a streamed reply. Depending on the
// provider it is either the text so far or the latest fragment.
type TokenFunc func(text string)

// ConfigSource returns a consistent copy of the AI configuration
type ConfigSource interface {
	Snapshot() config.AIConfig
}

// AuthorizationLookup reports whether a persona belongs to the acting user
type AuthorizationLookup interface {
	IsOwnedBy(ctx context.Context, actorID, personaID string) (bool, error)
}

// SessionStore keeps provider conversation ids per (actor, persona)
type SessionStore interface {
	GetSessionID(ctx context.Context, actorID, personaID string) (string, error)
	SaveSessionID(ctx context.Context, actorID, personaID, sessionID string) error
}

// Service generates persona replies through the selected AI provider
type Service struct {
	settings   ConfigSource
	auth       AuthorizationLookup
	sessions   SessionStore
	httpClient *http.Client
	timeout    time.Duration
	tokenPacer pacer
	mock       *MockResponder
	endpoints  map[provider.Provider]string
	locks      *SessionLockManager
	inflight   *accumulatorRegistry
}

// ServiceOption configures the service
type ServiceOption func(*Service)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = httpClient
	}
}

// WithTimeout bounds every call; zero disables the bound
func WithTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		s.timeout = timeout
	}
}

// WithTokenDelay sets the random delay range after each streamed token; zero disables it
func WithTokenDelay(min, max time.Duration) ServiceOption {
	return func(s *Service) {
		s.tokenPacer = newPacer(min, max)
	}
}

// WithMockResponder replaces the mock responder
func WithMockResponder(mock *MockResponder) ServiceOption {
	return func(s *Service) {
		s.mock = mock
	}
}

// WithEndpoint overrides the base URL of one provider
func WithEndpoint(p provider.Provider, url string) ServiceOption {
	return func(s *Service) {
		s.endpoints[p] = url
	}
}

// WithEndpoints overrides several base URLs at once
func WithEndpoints(endpoints map[provider.Provider]string) ServiceOption {
	return func(s *Service) {
		for p, url := range endpoints {
			s.endpoints[p] = url
		}
	}
}

// NewService creates a new Service
func NewService(settings ConfigSource, auth AuthorizationLookup, sessions SessionStore, opts ...ServiceOption) *Service {
	s := &Service{
		settings:   settings,
		auth:       auth,
		sessions:   sessions,
		httpClient: &http.Client{},
		timeout:    defaultTimeout,
		tokenPacer: newPacer(defaultTokenDelayMin, defaultTokenDelayMax),
		endpoints:  make(map[provider.Provider]string),
		locks:      NewSessionLockManager(),
		inflight:   newAccumulatorRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.mock == nil {
		s.mock = NewMockResponder()
	}

	return s
}

// GenerateResponse returns a complete reply without streaming
func (s *Service) GenerateResponse(ctx context.Context, actorID string, persona models.Persona, messages []models.Message) (string, error) {
	return s.generate(ctx, "GenerateResponse", actorID, persona, messages, nil)
}

// GenerateStreamResponse streams the reply to onToken and returns the final text.
// Every onToken call happens before GenerateStreamResponse returns.
func (s *Service) GenerateStreamResponse(ctx context.Context, actorID string, persona models.Persona, messages []models.Message, onToken TokenFunc) (string, error) {
	if onToken == nil {
		onToken = func(string) {}
	}
	return s.generate(ctx, "GenerateStreamResponse", actorID, persona, messages, onToken)
}

// GenerateContent sends prompt as a single user message and returns only the final text.
// No tokens are delivered, so the mock answers after a single think delay.
func (s *Service) GenerateContent(ctx context.Context, actorID string, persona models.Persona, prompt string) (string, error) {
	messages := []models.Message{{
		PersonaID:  persona.ID,
		ActorID:    actorID,
		SenderID:   actorID,
		Content:    prompt,
		IsFromUser: true,
		Timestamp:  time.Now(),
	}}
	return s.generate(ctx, "GenerateContent", actorID, persona, messages, nil)
}

// InFlight returns the number of calls currently running
func (s *Service) InFlight() int {
	return s.inflight.inFlight()
}

// EffectiveConfig resolves the configuration for one call. Personas the actor does not own
// are always answered by the mock provider; the shared settings are left untouched.
func (s *Service) EffectiveConfig(ctx context.Context, actorID string, persona models.Persona) config.AIConfig {
	cfg := s.settings.Snapshot()
	if cfg.SelectedProvider.IsMock() {
		return cfg
	}

	owned, err := s.auth.IsOwnedBy(ctx, actorID, persona.ID)
	if err != nil {
		log.Printf("[Assistant] Ownership lookup failed, using mock persona_id=%s actor_id=%s err=%v", persona.ID, actorID, err)
		return cfg.WithProvider(provider.Mock)
	}
	if !owned {
		log.Printf("[Assistant] Persona not owned by actor, using mock persona_id=%s actor_id=%s", persona.ID, actorID)
		return cfg.WithProvider(provider.Mock)
	}
	return cfg
}

func (s *Service) generate(ctx context.Context, op, actorID string, persona models.Persona, messages []models.Message, onToken TokenFunc) (result string, err error) {
	start := time.Now()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cfg := s.EffectiveConfig(ctx, actorID, persona)
	p := cfg.SelectedProvider
	log.Printf("[Assistant] %s started persona_id=%s actor_id=%s provider=%s messages=%d", op, persona.ID, actorID, p, len(messages))

	acc := s.inflight.acquire(persona.ID)
	defer func() {
		s.inflight.release(acc)
		observeCall(p, start, err)
		if err != nil {
			log.Printf("[Assistant] %s failed persona_id=%s provider=%s request_id=%s err=%v", op, persona.ID, p, acc.id, err)
			return
		}
		log.Printf("[Assistant] %s completed persona_id=%s provider=%s request_id=%s length=%d", op, persona.ID, p, acc.id, len(result))
	}()

	if p.IsMock() {
		var emit func(string)
		if onToken != nil {
			emit = func(text string) {
				tokensTotal.WithLabelValues(string(p)).Inc()
				onToken(text)
			}
		}
		return s.mock.Respond(ctx, persona, emit)
	}

	pc := cfg.Current()
	if pc.APIKey == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, p)
	}

	call := &call{
		service: s,
		ctx:     ctx,
		actorID: actorID,
		persona: persona,
		p:       p,
		cfg:     pc,
		acc:     acc,
		onToken: onToken,
	}
	return call.run(messages)
}

// call carries the state of one real-provider call
type call struct {
	service *Service
	ctx     context.Context
	actorID string
	persona models.Persona
	p       provider.Provider
	cfg     config.ProviderConfig
	acc     *accumulation
	onToken TokenFunc
}

func (c *call) run(messages []models.Message) (string, error) {
	s := c.service
	format := c.p.WireFormat()

	var sessionID string
	if format == provider.Custom {
		unlock, err := s.locks.Lock(c.ctx, c.actorID, c.persona.ID)
		if err != nil {
			return "", contextError(c.ctx, 0)
		}
		defer unlock()

		sessionID, err = s.sessions.GetSessionID(c.ctx, c.actorID, c.persona.ID)
		if err != nil {
			log.Printf("[Assistant] Session lookup failed, starting new conversation persona_id=%s err=%v", c.persona.ID, err)
			sessionID = ""
		}
	}

	wire := logic.FormatConversation(c.persona, messages)
	req, err := buildRequest(c.p, s.endpoint(c.p), c.cfg, sessionID, wire)
	if err != nil {
		return "", err
	}

	resp, attempts, err := c.send(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", handleError(resp)
	}

	if format == provider.Custom || isEventStream(resp) {
		decoder, ok := newFrameDecoder(format)
		if !ok {
			return "", fmt.Errorf("%w: no frame decoder for wire format %s", ErrEncoding, format)
		}
		return c.readStream(resp.Body, decoder, attempts)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.ctx.Err() != nil {
			return "", contextError(c.ctx, attempts)
		}
		return "", &TransportError{Attempts: attempts, Err: err}
	}
	return decodeCompletion(body)
}

// send issues the request, retrying once when no response was received
func (c *call) send(req *preparedRequest) (*http.Response, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		httpReq, err := req.newHTTPRequest(c.ctx)
		if err != nil {
			return nil, attempt, err
		}

		resp, err := c.service.httpClient.Do(httpReq)
		if err == nil {
			return resp, attempt, nil
		}
		if c.ctx.Err() != nil {
			return nil, attempt, contextError(c.ctx, attempt)
		}

		lastErr = err
		log.Printf("[Assistant] Send failed persona_id=%s provider=%s attempt=%d err=%v", c.persona.ID, c.p, attempt, err)
		if attempt < maxAttempts {
			retriesTotal.WithLabelValues(string(c.p)).Inc()
		}
	}
	return nil, maxAttempts, &TransportError{Attempts: maxAttempts, Err: lastErr}
}

// readStream pumps the body through the stream parser until the sentinel or EOF
func (c *call) readStream(body io.Reader, decoder frameDecoder, attempts int) (string, error) {
	parser := newStreamParser(decoder, c.acc, c.handleFrame)

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := parser.feed(buf[:n]); ferr != nil {
				return "", ferr
			}
			if parser.done() {
				return parser.finish()
			}
		}
		if errors.Is(err, io.EOF) {
			return parser.finish()
		}
		if err != nil {
			parser.fail()
			if c.ctx.Err() != nil {
				return "", contextError(c.ctx, attempts)
			}
			return "", &TransportError{Attempts: attempts, Err: err}
		}
	}
}

// handleFrame applies one decoded frame: session ids are stored at once, tokens are delivered
// and paced
func (c *call) handleFrame(f frame) error {
	if f.sessionID != "" {
		// stored even if the caller goes away, the provider already created the conversation
		if err := c.service.sessions.SaveSessionID(context.WithoutCancel(c.ctx), c.actorID, c.persona.ID, f.sessionID); err != nil {
			log.Printf("[Assistant] Failed to save session persona_id=%s err=%v", c.persona.ID, err)
		} else {
			log.Printf("[Assistant] Session saved persona_id=%s session_id=%s", c.persona.ID, f.sessionID)
		}
	}

	if f.token == "" || c.onToken == nil {
		return nil
	}
	if c.ctx.Err() != nil {
		return contextError(c.ctx, 1)
	}

	c.onToken(f.token)
	tokensTotal.WithLabelValues(string(c.p)).Inc()

	if err := c.service.tokenPacer.wait(c.ctx); err != nil {
		return contextError(c.ctx, 1)
	}
	return nil
}

func (s *Service) endpoint(p provider.Provider) string {
	if url, ok := s.endpoints[p]; ok && url != "" {
		return url
	}
	return p.BaseURL()
}

func isEventStream(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/event-stream"
}

// handleError turns a non-2xx response into an HTTPStatusError. The body is kept for
// diagnostics only.
func handleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	bodyStr := string(body)

	logBody := bodyStr
	if len(logBody) > maxLogBody {
		logBody = logBody[:maxLogBody] + "..."
	}
	log.Printf("[Assistant] API Error status=%d body=%s", resp.StatusCode, logBody)

	return &HTTPStatusError{
		StatusCode: resp.StatusCode,
		Body:       logBody,
	}
}
