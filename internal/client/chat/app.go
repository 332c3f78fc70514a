// Package chat assembles the client: it owns every store, binds server
// events to them and exposes the user actions.
package chat

import (
	"context"
	"log"
	"strings"
	"sync"

	"chatwire/internal/client/api"
	"chatwire/internal/client/customelement"
	"chatwire/internal/client/elements"
	"chatwire/internal/client/prefs"
	"chatwire/internal/client/session"
	"chatwire/internal/client/tree"
	"chatwire/internal/client/upload"
	"chatwire/internal/types"
)

const (
	defaultAuthor = "User"
	LoginPath     = "/login"
)

type Config struct {
	API        *api.Client
	Transport  session.Transport
	Prefs      *prefs.Store
	Navigator  session.Navigator
	Notifier   session.Notifier
	ClientType string
	Author     string
	// Uploader overrides the default socket uploader.
	Uploader upload.Uploader
}

type App struct {
	api       *api.Client
	transport session.Transport
	prefs     *prefs.Store
	notify    session.Notifier
	nav       session.Navigator
	author    string

	Tree     *tree.Store
	Elements *elements.Store
	Session  *session.Manager
	Renderer *customelement.Renderer

	mu       sync.RWMutex
	settings types.ProjectSettings
	asking   bool
	uploader upload.Uploader
	offs     []func()
}

func New(cfg Config) *App {
	token := ""
	if cfg.API != nil {
		token = cfg.API.Token()
	}
	if token == "" && cfg.Prefs != nil {
		token = cfg.Prefs.Token()
	}
	author := strings.TrimSpace(cfg.Author)
	if author == "" {
		author = defaultAuthor
	}
	notify := cfg.Notifier
	if notify == nil {
		notify = logNotifier{}
	}

	a := &App{
		api:       cfg.API,
		transport: cfg.Transport,
		prefs:     cfg.Prefs,
		notify:    notify,
		nav:       cfg.Navigator,
		author:    author,
		uploader:  cfg.Uploader,
		Tree:      tree.New(),
		Elements:  elements.New(),
		Renderer:  customelement.New(customelement.DefaultLimits()),
	}
	if a.uploader == nil {
		a.uploader = upload.SocketUploader{Transport: cfg.Transport}
	}
	opts := session.Options{ClientType: cfg.ClientType, Navigator: cfg.Navigator, Notifier: notify}
	if cfg.API != nil {
		opts.Threads = cfg.API
		cfg.API.OnUnauthorized(a.onUnauthorized)
	}
	a.Session = session.NewManager(session.NewStore(token), cfg.Transport, a.Tree, a.Elements, opts)
	return a
}

// Start binds server events and connects.
func (a *App) Start(ctx context.Context) error {
	a.bind()
	a.Session.Bind()
	return a.Session.Connect(ctx)
}

// Close removes every event binding and drops the connection.
func (a *App) Close() {
	a.unbind()
	a.Session.Unbind()
	a.transport.Disconnect()
}

// LoadSettings fetches the project settings that drive uploads and resume.
func (a *App) LoadSettings(ctx context.Context, language string) error {
	if a.api == nil {
		return nil
	}
	settings, err := a.api.Settings(ctx, language).Unpack()
	if err != nil {
		return err
	}
	a.SetSettings(settings)
	return nil
}

func (a *App) SetSettings(s types.ProjectSettings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = s
}

// SetUploader replaces the uploader used by UploadFiles.
func (a *App) SetUploader(u upload.Uploader) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploader = u
}

func (a *App) currentUploader() upload.Uploader {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.uploader
}

func (a *App) Settings() types.ProjectSettings {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.settings
}

// Asking reports whether the server is waiting for the user to answer.
func (a *App) Asking() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.asking
}

func (a *App) setAsking(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asking = v
}

func (a *App) onUnauthorized() {
	if a.prefs != nil {
		if err := a.prefs.SetToken(""); err != nil {
			log.Printf("chat: reset token: %v", err)
		}
	}
	a.Session.Store().SetToken("")
	a.notify.Error("Your session has expired, please sign in again")
	if a.nav != nil {
		a.nav.Navigate(LoginPath)
	}
}

type logNotifier struct{}

func (logNotifier) Error(msg string) { log.Printf("chat: error: %s", msg) }
func (logNotifier) Info(msg string)  { log.Printf("chat: %s", msg) }
