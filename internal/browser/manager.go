// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
)

// ErrNoActivePage is returned when an operation needs a page but every
// tab has been closed.
var ErrNoActivePage = errors.New("no active browser page")

const launchProbeTimeout = 30 * time.Second

// Manager owns the browser process and tracks which tab the agent is
// driving. When a site opens a new tab, or the current tab dies, the
// active page moves so the loop keeps seeing what the user would see.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	pages *pageRegistry
}

// NewManager creates the manager. The browser process is not launched
// until Start is called.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser_manager"),
		pages:  newPageRegistry(logger),
	}
}

// Start launches the browser process, connects the root tab, and wires
// the target listeners that keep the active page current.
func (m *Manager) Start(ctx context.Context) error {
	opts, err := m.buildAllocatorOptions()
	if err != nil {
		return err
	}

	m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)

	browserOpts := []chromedp.ContextOption{}
	if m.cfg.Browser.Debug {
		sugar := m.logger.Sugar()
		browserOpts = append(browserOpts,
			chromedp.WithLogf(sugar.Debugf),
			chromedp.WithErrorf(sugar.Errorf),
		)
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocatorCtx, browserOpts...)

	// Confirm the browser is alive before anything else depends on it.
	probeCtx, cancelProbe := context.WithTimeout(m.browserCtx, launchProbeTimeout)
	defer cancelProbe()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	// The root tab becomes the first active page.
	rootTarget := chromedp.FromContext(m.browserCtx).Target
	if rootTarget == nil {
		m.allocatorCancel()
		return fmt.Errorf("browser context has no attached target")
	}
	m.pages.register(rootTarget.TargetID, m.browserCtx, func() {})

	chromedp.ListenTarget(m.browserCtx, m.handleTargetEvent)

	m.logger.Info("Browser launched successfully and is responsive.")
	return nil
}

// handleTargetEvent follows tab creation and destruction. A freshly
// created page tab is registered as pending and only takes over as the
// active page once it has been foregrounded and settled; destroying the
// active tab falls back to the most recently seen survivor.
func (m *Manager) handleTargetEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		if e.TargetInfo.Type != "page" {
			return
		}
		id := e.TargetInfo.TargetID
		if m.pages.has(id) {
			return
		}
		tabCtx, tabCancel := chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(id))
		m.pages.registerPending(id, tabCtx, tabCancel)
		m.logger.Debug("New tab registered, settling.", zap.String("target_id", string(id)))
		go m.settleTab(id, tabCtx)

	case *target.EventTargetDestroyed:
		if m.pages.remove(e.TargetID) {
			m.logger.Debug("Tab closed, active page moved.", zap.String("target_id", string(e.TargetID)))
		}
	}
}

// settleTab brings a freshly opened tab to the foreground and waits for its
// document before the registry serves it as the active page. A tab that will
// not settle within the navigation timeout is promoted anyway; a live slow
// tab is still what the user would be looking at.
func (m *Manager) settleTab(id target.ID, tabCtx context.Context) {
	settleCtx, cancel := context.WithTimeout(tabCtx, m.cfg.Network.NavigationTimeout)
	defer cancel()

	err := chromedp.Run(settleCtx,
		cdppage.BringToFront(),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if tabCtx.Err() != nil {
			// The tab died while settling; the destroy event cleans it up.
			return
		}
		m.logger.Warn("New tab did not settle cleanly.",
			zap.String("target_id", string(id)), zap.Error(err))
	}

	if m.pages.markReady(id) {
		m.logger.Debug("New tab settled and adopted as active page.", zap.String("target_id", string(id)))
	}
}

// ActiveContext returns the chromedp context of the tab the agent is
// currently driving.
func (m *Manager) ActiveContext() (context.Context, error) {
	return m.pages.active()
}

func (m *Manager) buildAllocatorOptions() ([]chromedp.ExecAllocatorOption, error) {
	userDataDir := m.cfg.Browser.UserDataDir
	if userDataDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory for browser profile: %w", err)
		}
		userDataDir = filepath.Join(home, ".webpilot", "profile")
	}
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create browser profile directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Browser.Headless),
		chromedp.Flag("ignore-certificate-errors", m.cfg.Browser.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", m.cfg.Browser.Headless),
		chromedp.UserDataDir(userDataDir),
	)

	if w, h := m.cfg.Browser.Viewport["width"], m.cfg.Browser.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	// Custom arguments from the config file.
	for _, arg := range m.cfg.Browser.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts, nil
}

// Shutdown closes all tabs and terminates the browser process.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("Shutting down browser manager.")

	m.pages.closeAll()

	if m.allocatorCancel != nil {
		if m.browserCancel != nil {
			m.browserCancel()
		}
		m.allocatorCancel()
		select {
		case <-m.allocatorCtx.Done():
		case <-ctx.Done():
			m.logger.Warn("Shutdown deadline exceeded before browser terminated.", zap.Error(ctx.Err()))
		}
	}
	return nil
}

// CombineContext creates a context canceled when either parent is
// canceled. Operations must respect both the tab lifetime and the
// caller's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
