package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/goclaw/internal/approval"
	"github.com/nextlevelbuilder/goclaw/internal/appsettings"
	"github.com/nextlevelbuilder/goclaw/internal/bus"
	"github.com/nextlevelbuilder/goclaw/internal/classifier"
	"github.com/nextlevelbuilder/goclaw/internal/config"
	"github.com/nextlevelbuilder/goclaw/internal/dispatch"
	"github.com/nextlevelbuilder/goclaw/internal/orchestrator"
	"github.com/nextlevelbuilder/goclaw/internal/providerreg"
	"github.com/nextlevelbuilder/goclaw/internal/providers"
	"github.com/nextlevelbuilder/goclaw/internal/sandbox"
	"github.com/nextlevelbuilder/goclaw/internal/scheduler"
	"github.com/nextlevelbuilder/goclaw/internal/session"
	sessionsmgr "github.com/nextlevelbuilder/goclaw/internal/sessions"
	"github.com/nextlevelbuilder/goclaw/internal/skills"
	filestore "github.com/nextlevelbuilder/goclaw/internal/store/file"
	"github.com/nextlevelbuilder/goclaw/internal/tools"
)

// runtime bundles every core component the two modes (bot, gateway) share.
// Constructed once at startup from environment variables (6).
type runtime struct {
	workspace   string
	dataDir     string
	sessions    *session.Store
	dispatcher  *dispatch.Dispatcher
	approvals   *approval.Coordinator
	classifier  *classifier.Classifier
	providers   *providerreg.Registry
	scheduler   *scheduler.Scheduler
	orch        *orchestrator.Orchestrator
	appSettings *appsettings.Store
	skills      *skills.Store
	logger      *slog.Logger
}

func newRuntime(ctx context.Context, onEvent orchestrator.EventFunc) (*runtime, error) {
	logger := slog.Default()

	workspace := os.Getenv("AGENT_CWD")
	if workspace == "" {
		var err error
		workspace, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve default workspace: %w", err)
		}
	}

	dataDir := os.Getenv("USER_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create user data dir: %w", err)
	}

	approvals := approval.New()
	classif := classifier.New()
	blockedPatterns := filepath.Join(dataDir, "blocked-patterns.json")
	if fileExists(blockedPatterns) {
		if err := classif.LoadBlockedPatterns(blockedPatterns); err != nil {
			logger.Warn("blocked patterns failed to load", "error", err)
		}
	}
	watchBlockedPatterns(ctx, blockedPatterns, classif, logger)

	providerRegistry := providerreg.New()
	if err := bootstrapProviders(dataDir, providerRegistry); err != nil {
		return nil, err
	}

	cfg, err := config.Load(filepath.Join(dataDir, "config.json5"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	reg := dispatch.NewRegistry()
	policyTools := tools.NewRegistry()
	registerTools(ctx, reg, policyTools, cfg, workspace, dataDir, providerRegistry, logger)
	dispatcher := dispatch.New(reg, classif, approvals)
	dispatcher.SetPolicy(tools.NewPolicyEngine(&cfg.Tools), policyTools)

	sessions := session.New(func(kind session.SyncKind, sessionID string, payload any) {
		logger.Debug("session sync", "kind", kind, "session", sessionID)
	})

	defaultProvider, _, hasProvider := providerRegistry.Default()
	if !hasProvider {
		defaultProvider = noProvider{}
	}

	orch := orchestrator.New(sessions, dispatcher, approvals, defaultProvider, onEvent, logger)

	store, err := scheduler.NewSQLiteStore(filepath.Join(dataDir, "scheduler.db"))
	if err != nil {
		return nil, fmt.Errorf("open scheduler store: %w", err)
	}
	sched := scheduler.New(store,
		func(ctx context.Context, t *scheduler.Task) {
			logger.Info("scheduled task notification", "task", t.ID, "title", t.Title)
		},
		func(ctx context.Context, t *scheduler.Task) error {
			sess := sessions.Create(t.Title, workspace, "")
			return orch.Start(ctx, sess.ID, t.Prompt)
		},
		scheduler.WithLogger(logger),
	)

	return &runtime{
		workspace:   workspace,
		dataDir:     dataDir,
		sessions:    sessions,
		dispatcher:  dispatcher,
		approvals:   approvals,
		classifier:  classif,
		providers:   providerRegistry,
		scheduler:   sched,
		orch:        orch,
		appSettings: appsettings.NewStore(filepath.Join(dataDir, "api-settings.json")),
		skills:      skills.NewStore(filepath.Join(dataDir, "skills-settings.json")),
		logger:      logger,
	}, nil
}

// registerTools populates the dispatch registry with every built-in tool
// (4.4), honoring the sandbox mode and web-search backends from config.
func registerTools(ctx context.Context, reg *dispatch.Registry, policyTools *tools.Registry, cfg *config.Config, workspace, dataDir string, providerRegistry *providerreg.Registry, logger *slog.Logger) {
	add := func(t interface {
		tools.Tool
		dispatch.Tool
	}) {
		reg.Register(t)
		policyTools.Register(t)
	}

	restrict := cfg.Agents.Defaults.RestrictToWorkspace

	var sandboxMgr sandbox.Manager
	if sc := cfg.Agents.Defaults.Sandbox; sc != nil && sc.Mode != "" && sc.Mode != "off" {
		sandboxMgr = sandbox.NewDockerManager(sc.ToSandboxConfig())
	}

	if sandboxMgr != nil {
		add(tools.NewSandboxedExecTool(workspace, restrict, sandboxMgr))
		add(tools.NewSandboxedReadFileTool(workspace, restrict, sandboxMgr))
	} else {
		add(tools.NewExecTool(workspace, restrict))
		add(tools.NewReadFileTool(workspace, restrict))
	}

	add(tools.NewCreateImageTool(providerRegistry))
	add(tools.NewReadImageTool(providerRegistry))
	add(tools.NewRunCodeTool(workspace))
	add(tools.NewMemoryTool(workspace, restrict))

	add(tools.NewWebFetchTool(tools.WebFetchConfig{JinaReaderAPIKey: cfg.Tools.Web.Reader.JinaAPIKey}))

	webCfg := cfg.Tools.Web
	if st := tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:     webCfg.Brave.APIKey,
		BraveEnabled:    webCfg.Brave.Enabled,
		BraveMaxResults: webCfg.Brave.MaxResults,
		DDGEnabled:      webCfg.DuckDuckGo.Enabled,
		DDGMaxResults:   webCfg.DuckDuckGo.MaxResults,
	}); st != nil {
		add(st)
	} else {
		logger.Info("web_search tool disabled: no search backend configured")
	}

	sessionMgr := sessionsmgr.NewManager(cfg.Sessions.Storage)
	sessionMgr.SetLogger(logger)
	watchIdleSessions(ctx, sessionMgr, logger)
	sessionStore := filestore.NewFileSessionStore(sessionMgr)
	msgBus := bus.NewMessageBus()

	listTool := tools.NewSessionsListTool()
	listTool.SetSessionStore(sessionStore)
	add(listTool)

	statusTool := tools.NewSessionStatusTool()
	statusTool.SetSessionStore(sessionStore)
	add(statusTool)

	historyTool := tools.NewSessionsHistoryTool()
	historyTool.SetSessionStore(sessionStore)
	add(historyTool)

	sendTool := tools.NewSessionsSendTool()
	sendTool.SetSessionStore(sessionStore)
	sendTool.SetMessageBus(msgBus)
	add(sendTool)
}

// bootstrapProviders registers every provider persisted in
// llm-providers-settings.json (the file the configure command writes), then,
// if API_KEY is set, a "default" provider from BASE_URL/API_KEY/MODEL_NAME
// (6). Absence is not fatal — the runtime then has no provider. Providers
// are read only here, at startup; llm.providers.* client events are not
// handled, so a provider added later takes effect after a restart.
func bootstrapProviders(dataDir string, reg *providerreg.Registry) error {
	settings, err := providerreg.LoadSettings(filepath.Join(dataDir, "llm-providers-settings.json"))
	if err != nil {
		return fmt.Errorf("load provider settings: %w", err)
	}
	for _, p := range settings.Providers {
		reg.Register(p, newProviderFor(p.Name, p.APIKey, p.BaseURL, defaultModelOf(p)))
	}

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return nil
	}
	baseURL := os.Getenv("BASE_URL")
	model := os.Getenv("MODEL_NAME")
	cfg := providerreg.ProviderConfig{Name: "default", BaseURL: baseURL, APIKey: apiKey, Default: true}
	reg.Register(cfg, newProviderFor("default", apiKey, baseURL, model))
	return nil
}

// newProviderFor picks the wire adapter by name/base-URL convention, the
// same dispatch the teacher's onboarding flow used for its provider presets:
// an Anthropic-shaped base URL gets the native Anthropic client, a DashScope
// one gets the OpenAI-compatible client with DashScope's streaming+tools
// workaround, and everything else falls back to the generic OpenAI-
// compatible client (which itself special-cases "gemini" in its name for
// the thought_signature collapse).
func newProviderFor(name, apiKey, baseURL, model string) providers.Provider {
	switch {
	case strings.Contains(baseURL, "anthropic"):
		return providers.NewAnthropicProvider(apiKey, providers.WithAnthropicModel(model), providers.WithAnthropicBaseURL(baseURL))
	case strings.Contains(name, "dashscope") || strings.Contains(baseURL, "dashscope"):
		return providers.NewDashScopeProvider(apiKey, baseURL, model)
	default:
		return providers.NewOpenAIProvider(name, apiKey, baseURL, model)
	}
}

func defaultModelOf(p providerreg.ProviderConfig) string {
	if len(p.Models) > 0 {
		return p.Models[0].Name
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// idleSessionSweep and idleSessionMaxAge bound how long an in-memory,
// already-persisted session history is kept around once nothing has
// touched it — the per-process message log is a cache over the on-disk
// store, not the source of truth, so trimming it back is safe.
const (
	idleSessionSweep  = 10 * time.Minute
	idleSessionMaxAge = 24 * time.Hour
)

// watchIdleSessions periodically evicts idle in-memory session history
// from the sessions manager, whose map is unbounded otherwise across a
// long-running bot process serving many channels over weeks.
func watchIdleSessions(ctx context.Context, mgr *sessionsmgr.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(idleSessionSweep)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mgr.EvictIdle(idleSessionMaxAge)
			}
		}
	}()
}

// watchBlockedPatterns watches blocked-patterns.json for external edits and
// hot-reloads the Command Classifier's blocked-pattern set without a
// restart (SPEC_FULL.md §A). Watching the parent directory rather than the
// file itself survives editors that replace the file via rename-into-place.
func watchBlockedPatterns(ctx context.Context, path string, classif *classifier.Classifier, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("blocked patterns watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		logger.Warn("blocked patterns watch failed", "error", err)
		watcher.Close()
		return
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := classif.LoadBlockedPatterns(path); err != nil {
					logger.Warn("blocked patterns reload failed", "error", err)
					continue
				}
				logger.Info("blocked patterns reloaded", "path", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("blocked patterns watcher error", "error", err)
			}
		}
	}()
}

// noProvider is used when no LLM provider is configured yet; every call
// fails with a clear message instead of a nil-pointer panic.
type noProvider struct{}

func (noProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return nil, fmt.Errorf("no LLM provider configured: set API_KEY or run the configure command, then restart")
}
func (noProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return nil, fmt.Errorf("no LLM provider configured: set API_KEY or run the configure command, then restart")
}
func (noProvider) DefaultModel() string { return "" }
func (noProvider) Name() string         { return "none" }
