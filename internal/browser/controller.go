// internal/browser/controller.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
)

// Controller exposes the page primitives the agent drives. Every
// operation runs against whichever tab is currently active.
type Controller struct {
	mgr    *Manager
	cfg    *config.Config
	logger *zap.Logger
}

// Point is a viewport coordinate pair.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ElementInfo describes the DOM element found under a point.
type ElementInfo struct {
	Center Point  `json:"center"`
	Tag    string `json:"tag"`
	Text   string `json:"text"`
	Href   string `json:"href"`
	Found  bool   `json:"found"`
}

// NewController wires a controller to the manager's active page.
func NewController(mgr *Manager, cfg *config.Config, logger *zap.Logger) *Controller {
	return &Controller{
		mgr:    mgr,
		cfg:    cfg,
		logger: logger.Named("controller"),
	}
}

// run executes chromedp actions against the active page, honoring both
// the tab lifetime and the caller's context.
func (c *Controller) run(ctx context.Context, actions ...chromedp.Action) error {
	pageCtx, err := c.mgr.ActiveContext()
	if err != nil {
		return err
	}
	runCtx, cancel := CombineContext(pageCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads the URL and waits for the document body. A zero
// timeout falls back to the configured navigation timeout.
func (c *Controller) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Network.NavigationTimeout
	}
	c.logger.Debug("Navigating", zap.String("url", url), zap.Duration("timeout", timeout))

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := c.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}

	if wait := c.cfg.Network.PostLoadWait; wait > 0 {
		if err := c.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return nil
}

// ClickAt dispatches a left click at the given viewport coordinates.
func (c *Controller) ClickAt(ctx context.Context, x, y int) error {
	c.logger.Debug("Clicking", zap.Int("x", x), zap.Int("y", y))

	clickCtx, cancel := context.WithTimeout(ctx, c.cfg.Network.ActionTimeout)
	defer cancel()

	if err := c.run(clickCtx, chromedp.MouseClickXY(float64(x), float64(y))); err != nil {
		return fmt.Errorf("click at (%d, %d) failed: %w", x, y, err)
	}
	return nil
}

// TypeText sends the text to the focused element, one rune at a time
// with the configured inter-key delay.
func (c *Controller) TypeText(ctx context.Context, text string, delay time.Duration) error {
	c.logger.Debug("Typing text", zap.Int("length", len(text)))

	timeout := c.cfg.Network.ActionTimeout + time.Duration(len(text))*delay
	typeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	actions := make([]chromedp.Action, 0, 2*len(text))
	for _, r := range text {
		actions = append(actions, chromedp.KeyEvent(string(r)))
		if delay > 0 {
			actions = append(actions, chromedp.Sleep(delay))
		}
	}

	if err := c.run(typeCtx, actions...); err != nil {
		return fmt.Errorf("type action failed: %w", err)
	}
	return nil
}

// keyTable maps the key names the planner emits to CDP key codes.
var keyTable = map[string]string{
	"enter":       kb.Enter,
	"return":      kb.Enter,
	"tab":         kb.Tab,
	"escape":      kb.Escape,
	"esc":         kb.Escape,
	"backspace":   kb.Backspace,
	"delete":      kb.Delete,
	"space":       " ",
	"arrow_up":    kb.ArrowUp,
	"arrow_down":  kb.ArrowDown,
	"arrow_left":  kb.ArrowLeft,
	"arrow_right": kb.ArrowRight,
	"arrowup":     kb.ArrowUp,
	"arrowdown":   kb.ArrowDown,
	"arrowleft":   kb.ArrowLeft,
	"arrowright":  kb.ArrowRight,
	"page_up":     kb.PageUp,
	"page_down":   kb.PageDown,
	"home":        kb.Home,
	"end":         kb.End,
}

// PressKey dispatches a single named key to the focused element.
func (c *Controller) PressKey(ctx context.Context, key string) error {
	code, ok := keyTable[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unsupported key: %q", key)
	}
	c.logger.Debug("Pressing key", zap.String("key", key))

	keyCtx, cancel := context.WithTimeout(ctx, c.cfg.Network.ActionTimeout)
	defer cancel()

	if err := c.run(keyCtx, chromedp.KeyEvent(code)); err != nil {
		return fmt.Errorf("key press %q failed: %w", key, err)
	}
	return nil
}

// Scroll moves the viewport by amount pixels in the given direction.
func (c *Controller) Scroll(ctx context.Context, direction string, amount int) error {
	var top, left int
	switch strings.ToLower(direction) {
	case "down", "":
		top = amount
	case "up":
		top = -amount
	case "right":
		left = amount
	case "left":
		left = -amount
	default:
		return fmt.Errorf("invalid scroll direction: %s (supported: up, down, left, right)", direction)
	}

	script := fmt.Sprintf(`window.scrollBy({top: %d, left: %d, behavior: 'instant'});`, top, left)

	scrollCtx, cancel := context.WithTimeout(ctx, c.cfg.Network.ActionTimeout)
	defer cancel()

	if err := c.run(scrollCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("scroll action failed: %w", err)
	}
	return nil
}

// WaitForLoad blocks until the document body is ready, then settles for the
// configured post-load pause. Used both for explicit wait actions and after
// navigations.
func (c *Controller) WaitForLoad(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.cfg.Network.ActionTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.run(waitCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if waitCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("page load timed out after %s", timeout)
		}
		return fmt.Errorf("wait for load failed: %w", err)
	}
	if c.cfg.Network.PostLoadWait > 0 {
		_ = c.run(ctx, chromedp.Sleep(c.cfg.Network.PostLoadWait))
	}
	return nil
}

// Sleep pauses against the active page so a dying tab interrupts the wait.
func (c *Controller) Sleep(ctx context.Context, d time.Duration) error {
	return c.run(ctx, chromedp.Sleep(d))
}

// Screenshot captures the visible viewport as PNG. When a screenshot
// directory is configured every capture is also dumped to disk.
func (c *Controller) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	shotCtx, cancel := context.WithTimeout(ctx, c.cfg.Network.ActionTimeout)
	defer cancel()

	if err := c.run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}

	if dir := c.cfg.Browser.ScreenshotDir; dir != "" {
		name := filepath.Join(dir, fmt.Sprintf("view-%d.png", time.Now().UnixMilli()))
		if err := os.WriteFile(name, buf, 0o644); err != nil {
			c.logger.Warn("Failed to dump debug screenshot.", zap.String("path", name), zap.Error(err))
		}
	}
	return buf, nil
}

// CurrentURL returns the location of the active page.
func (c *Controller) CurrentURL(ctx context.Context) (string, error) {
	var url string
	if err := c.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

// Title returns the document title of the active page.
func (c *Controller) Title(ctx context.Context) (string, error) {
	var title string
	if err := c.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return title, nil
}

// ElementAtPoint snaps a raw model coordinate to the center of the DOM
// element under it. Found is false when nothing is hit-testable there.
func (c *Controller) ElementAtPoint(ctx context.Context, x, y int) (ElementInfo, error) {
	script := fmt.Sprintf(`(function() {
		const el = document.elementFromPoint(%d, %d);
		if (!el) { return {found: false, center: {x: 0, y: 0}, tag: "", text: "", href: ""}; }
		const r = el.getBoundingClientRect();
		const anchor = el.closest('a');
		return {
			found: true,
			tag: el.tagName.toLowerCase(),
			text: (el.innerText || el.value || '').trim().slice(0, 120),
			href: anchor ? anchor.href : '',
			center: {x: Math.round(r.left + r.width / 2), y: Math.round(r.top + r.height / 2)}
		};
	})()`, x, y)

	var info ElementInfo
	evalCtx, cancel := context.WithTimeout(ctx, c.cfg.Network.ActionTimeout)
	defer cancel()

	if err := c.run(evalCtx, chromedp.Evaluate(script, &info)); err != nil {
		return ElementInfo{}, fmt.Errorf("element hit test failed: %w", err)
	}
	return info, nil
}
