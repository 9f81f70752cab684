// internal/agent/driver.go
package agent

import (
	"context"
	"time"

	"github.com/weiyun0912/webpilot/internal/browser"
)

// Driver is the narrow browser surface the agent depends on. The concrete
// implementation re-resolves the active tab on every call, so a tab closing
// mid-task fails over transparently.
type Driver interface {
	Screenshot(ctx context.Context) ([]byte, error)
	CurrentURL(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	ClickAt(ctx context.Context, x, y int) error
	TypeText(ctx context.Context, text string, delay time.Duration) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, direction string, amount int) error
	WaitForLoad(ctx context.Context, timeout time.Duration) error
	Sleep(ctx context.Context, d time.Duration) error
	ElementAtPoint(ctx context.Context, x, y int) (browser.ElementInfo, error)
}

var _ Driver = (*browser.Controller)(nil)
