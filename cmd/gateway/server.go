package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/config"
	"github.com/nexusgate/gateway/eventbus"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/llm"
	"github.com/nexusgate/gateway/llm/budget"
	"github.com/nexusgate/gateway/llm/catalog"
	"github.com/nexusgate/gateway/llm/cost"
	"github.com/nexusgate/gateway/llm/health"
	claude "github.com/nexusgate/gateway/llm/providers/anthropic"
	"github.com/nexusgate/gateway/llm/providers"
	"github.com/nexusgate/gateway/llm/providers/gemini"
	"github.com/nexusgate/gateway/llm/providers/ollama"
	"github.com/nexusgate/gateway/llm/providers/openai"
	"github.com/nexusgate/gateway/llm/providers/vllm"
	"github.com/nexusgate/gateway/llm/router"
	"github.com/nexusgate/gateway/llm/streaming"
	"github.com/nexusgate/gateway/workflow/function"
	"github.com/nexusgate/gateway/workflow/petri"
)

// Server wires every gateway component together and exposes them over
// HTTP: chat completion dispatch, health, and Prometheus metrics.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	catalog         *catalog.Registry
	tracker         *health.Tracker
	calc            *cost.Calculator
	ledger          *budget.MemoryLedger
	router          *router.Router
	bus             *eventbus.Bus
	funcs           *function.Engine
	collector       *metrics.Collector
	providerClients map[string]llm.Provider

	mu          sync.Mutex
	workflows   map[string]*petri.Engine
	definitions map[string]petri.WorkflowDefinition
	tokens      map[string]*petri.Token

	httpSrv *http.Server
}

// NewServer builds every component SPEC_FULL.md's package map names (A-J)
// from cfg, wiring one Prometheus Collector into the health tracker,
// budget ledger and event bus. No Redis lag store is attached to the bus.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	catalogReg := catalog.NewRegistry(seedCatalog())

	tracker := health.NewTracker()
	tracker.SetCollector(collector)

	calc := cost.NewCalculator(catalogReg)

	ledger := budget.NewMemoryLedger()
	ledger.SetCollector(collector)
	if cfg.Gateway.DefaultBudgetCapUSD > 0 {
		ledger.Configure(string(budget.ScopeGlobal), cfg.Gateway.DefaultBudgetCapUSD, cfg.Gateway.DefaultBudgetWindow)
	}

	bus := eventbus.NewBus()
	bus.SetCollector(collector)

	providerClients := buildProviders(cfg, logger)

	r := router.NewRouter(catalogReg, tracker, calc, ledger, providerClients, logger)
	r.SetPrefixRouter(router.NewPrefixRouter([]router.PrefixRule{
		{Prefix: "gpt-", Provider: "openai"},
		{Prefix: "o1", Provider: "openai"},
		{Prefix: "claude-", Provider: "anthropic"},
		{Prefix: "gemini-", Provider: "google"},
	}))

	funcs := function.NewEngine(function.NewInMemoryStorage(), noopExecutor{}, bus, logger)
	funcs.Start(context.Background())

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		catalog:         catalogReg,
		tracker:         tracker,
		calc:            calc,
		ledger:          ledger,
		router:          r,
		bus:             bus,
		funcs:           funcs,
		collector:       collector,
		providerClients: providerClients,
		workflows:       make(map[string]*petri.Engine),
		definitions:     make(map[string]petri.WorkflowDefinition),
		tokens:          make(map[string]*petri.Token),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletion)
	mux.HandleFunc("/v1/chat/completions/stream", s.handleChatStream)
	mux.HandleFunc("/v1/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("/v1/workflows/tokens", s.handleCreateToken)
	mux.HandleFunc("/v1/workflows/fire", s.handleFireTransition)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Gateway.ReadTimeout,
		WriteTimeout: cfg.Gateway.WriteTimeout,
	}

	return s, nil
}

// noopExecutor backs the function engine when no real function backend is
// configured; it is replaced with a concrete Executor (subprocess, RPC,
// container) by deployments that actually register functions.
type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, def function.Definition, input map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("no executor registered for function %s", def.ID)
}

// buildProviders constructs a live llm.Provider for every provider with a
// non-empty credential or endpoint configured.
func buildProviders(cfg *config.Config, logger *zap.Logger) map[string]llm.Provider {
	clients := make(map[string]llm.Provider)

	if cfg.OpenAI.APIKey != "" {
		clients["openai"] = openai.NewOpenAIProvider(providers.OpenAIConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.OpenAI.APIKey,
				BaseURL: cfg.OpenAI.BaseURL,
			},
		}, logger)
	}

	if cfg.Anthropic.APIKey != "" {
		clients["anthropic"] = claude.New(claude.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
		}, logger)
	}

	if cfg.Google.APIKey != "" {
		clients["google"] = gemini.NewGeminiProvider(providers.GeminiConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.Google.APIKey,
				BaseURL: cfg.Google.BaseURL,
				Model:   cfg.Google.DefaultModel,
			},
		}, logger)
	}

	if cfg.Ollama.BaseURL != "" {
		clients["ollama"] = ollama.New(providers.OllamaConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				BaseURL: cfg.Ollama.BaseURL,
				Model:   cfg.Ollama.DefaultModel,
			},
			KeepAlive: cfg.Ollama.KeepAlive,
			VerifySSL: cfg.Ollama.VerifySSL,
		}, logger)
	}

	if cfg.VLLM.BaseURL != "" {
		clients["vllm"] = vllm.New(providers.VLLMConfig{
			BaseProviderConfig: providers.BaseProviderConfig{
				APIKey:  cfg.VLLM.APIKey,
				BaseURL: cfg.VLLM.BaseURL,
				Model:   cfg.VLLM.DefaultModel,
			},
			VerifySSL: cfg.VLLM.VerifySSL,
		}, logger)
	}

	return clients
}

// seedCatalog returns the built-in model roster the router and cost
// calculator consult until an operator supplies a richer catalog (e.g.
// loaded from the YAML config or a discovery endpoint).
func seedCatalog() []catalog.ModelInfo {
	return []catalog.ModelInfo{
		{
			Provider: "openai", ModelID: "gpt-4o", ContextWindow: 128000, MaxOutputTokens: 16384,
			SupportsStreaming: true, CostPerInputToken: 2.5e-6, CostPerOutputToken: 1e-5,
			Capabilities: map[catalog.Capability]bool{catalog.CapText: true, catalog.CapVision: true, catalog.CapFunctionCalling: true},
		},
		{
			Provider: "anthropic", ModelID: "claude-3-5-sonnet-20241022", ContextWindow: 200000, MaxOutputTokens: 8192,
			SupportsStreaming: true, CostPerInputToken: 3e-6, CostPerOutputToken: 1.5e-5,
			Capabilities: map[catalog.Capability]bool{catalog.CapText: true, catalog.CapReasoning: true, catalog.CapFunctionCalling: true},
		},
		{
			Provider: "google", ModelID: "gemini-2.0-flash", ContextWindow: 1000000, MaxOutputTokens: 8192,
			SupportsStreaming: true, CostPerInputToken: 1e-7, CostPerOutputToken: 4e-7,
			Capabilities: map[catalog.Capability]bool{catalog.CapText: true, catalog.CapVision: true},
		},
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"providers": s.tracker.AllSnapshots(),
	})
}

type chatCompletionRequest struct {
	llm.ChatRequest
	Strategy    router.Strategy `json:"strategy,omitempty"`
	BudgetScope string          `json:"budget_scope,omitempty"`
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = router.CostOptimized
	}
	scope := req.BudgetScope
	if scope == "" {
		scope = string(budget.ScopeGlobal)
	}

	decision, err := s.router.Select(router.RouteRequest{
		Model:       req.Model,
		Strategy:    strategy,
		BudgetScope: scope,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	chatReq := req.ChatRequest
	resp, err := s.router.Dispatch(r.Context(), decision, func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error) {
		client, ok := s.providerFor(provider)
		if !ok {
			return nil, fmt.Errorf("no client registered for provider %s", provider)
		}
		reqCopy := chatReq
		reqCopy.Model = model.ModelID
		return client.Completion(ctx, &reqCopy)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleChatStream routes the request the same way handleChatCompletion
// does, but dispatches to the chosen provider's Stream method and relays
// chunks back as SSE. A streaming.Session sits between the provider's raw
// channel and the HTTP response so terminal-chunk usage still prices
// against the budget scope and publishes llm.completed (or llm.failed, on
// error or cancellation) on the event bus, exactly like a non-streaming call
// does.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = router.CostOptimized
	}
	scope := req.BudgetScope
	if scope == "" {
		scope = string(budget.ScopeGlobal)
	}

	decision, err := s.router.Select(router.RouteRequest{
		Model:       req.Model,
		Strategy:    strategy,
		BudgetScope: scope,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	client, ok := s.providerFor(decision.Primary.Provider)
	if !ok {
		http.Error(w, fmt.Sprintf("no client registered for provider %s", decision.Primary.Provider), http.StatusServiceUnavailable)
		return
	}

	chatReq := req.ChatRequest
	chatReq.Model = decision.Primary.Model.ModelID
	upstream, err := client.Stream(r.Context(), &chatReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	session := streaming.NewSession(decision.Primary.Provider, chatReq.Model, s.calc, s.ledger, scope, s.bus)
	client2 := session.Subscribe()

	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := session.Consume(ctx, upstream); err != nil {
			s.logger.Warn("stream session ended with error", zap.Error(err))
		}
	}()

	for chunk := range client2.ReadChan() {
		if chunk.Err != nil {
			payload, _ := json.Marshal(map[string]string{"error": chunk.Err.Error()})
			w.Write([]byte("event: error\ndata: "))
			w.Write(payload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			break
		}
		w.Write([]byte("data: "))
		json.NewEncoder(w).Encode(chunk)
		w.Write([]byte("\n"))
		flusher.Flush()
		if chunk.Terminal {
			break
		}
	}
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
	<-done
}

// handleCreateWorkflow registers a WorkflowDefinition and builds a live
// petri.Engine for it, keyed by its ID. The engine publishes
// workflow.transitioned/workflow.completed onto the gateway's shared event
// bus as tokens move through it.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var def petri.WorkflowDefinition
	if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
		http.Error(w, fmt.Sprintf("invalid workflow definition: %v", err), http.StatusBadRequest)
		return
	}

	engine, err := petri.NewEngine(def, s.bus)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.workflows[def.ID] = engine
	s.definitions[def.ID] = def
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"id": def.ID})
}

type createTokenRequest struct {
	WorkflowID string         `json:"workflow_id"`
	TokenID    string         `json:"token_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// handleCreateToken starts a new token in its workflow's initial place.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	def, ok := s.definitions[req.WorkflowID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("unknown workflow %s", req.WorkflowID), http.StatusNotFound)
		return
	}

	token := petri.NewToken(req.TokenID, req.WorkflowID, def.InitialPlace)
	for k, v := range req.Data {
		token.Data[k] = v
	}

	s.mu.Lock()
	s.tokens[req.TokenID] = token
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(token.Snapshot())
}

type fireTransitionRequest struct {
	WorkflowID   string `json:"workflow_id"`
	TokenID      string `json:"token_id"`
	TransitionID string `json:"transition_id"`
}

// handleFireTransition fires one transition against a token, returning its
// new snapshot or the reason firing was rejected.
func (s *Server) handleFireTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req fireTransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	engine, okEngine := s.workflows[req.WorkflowID]
	token, okToken := s.tokens[req.TokenID]
	s.mu.Unlock()
	if !okEngine {
		http.Error(w, fmt.Sprintf("unknown workflow %s", req.WorkflowID), http.StatusNotFound)
		return
	}
	if !okToken {
		http.Error(w, fmt.Sprintf("unknown token %s", req.TokenID), http.StatusNotFound)
		return
	}

	if err := engine.Fire(r.Context(), token, req.TransitionID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(token.Snapshot())
}

func (s *Server) providerFor(name string) (llm.Provider, bool) {
	// Router keeps its own provider map private; the gateway rebuilds the
	// lookup it passed in at construction time instead of threading a
	// second copy through Dispatch's closure.
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.providerClients[name]
	return client, ok
}

// Start begins serving HTTP in the background.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains the HTTP
// server within the gateway's shutdown timeout. Event bus subscriptions
// are not closed here.
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Gateway.ShutdownTimeout)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
