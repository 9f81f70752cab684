// File: internal/agent/common_test.go
package agent

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/browser"
	"github.com/weiyun0912/webpilot/internal/vision"
)

// checkerPNG renders a 64x64 test screenshot. The cell size controls how
// coarse the checkerboard is, so different cells produce different
// perceptual hashes while identical calls produce identical bytes.
func checkerPNG(t *testing.T, cell int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if cell > 0 && (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func mustView(t *testing.T, label string, screenshot []byte, url string) *View {
	t.Helper()
	view, err := NewView(label, screenshot, url)
	require.NoError(t, err)
	return view
}

// mockCompleter scripts vision model responses in call order. When the
// script runs out the last response repeats.
type mockCompleter struct {
	mu        sync.Mutex
	responses []string
	err       error
	requests  []vision.Request
}

func (m *mockCompleter) Complete(_ context.Context, req vision.Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", nil
	}
	resp := m.responses[0]
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return resp, nil
}

func (m *mockCompleter) ModelName() string { return "mock-vl" }

func (m *mockCompleter) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// mockDriver is a scriptable browser stand-in. Screenshots are served from
// the shots queue; the last one repeats once the queue drains.
type mockDriver struct {
	mu    sync.Mutex
	shots [][]byte
	url   string

	element    browser.ElementInfo
	elementErr error

	navigateErr error
	clickErr    error
	typeErr     error
	keyErr      error
	scrollErr   error
	waitErr     error
	shotErr     error

	navigated []string
	clicked   []Point
	typed     []string
	keys      []string
	scrolls   []string
}

func (d *mockDriver) Screenshot(context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shotErr != nil {
		return nil, d.shotErr
	}
	if len(d.shots) == 0 {
		return nil, nil
	}
	shot := d.shots[0]
	if len(d.shots) > 1 {
		d.shots = d.shots[1:]
	}
	return shot, nil
}

func (d *mockDriver) CurrentURL(context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url, nil
}

func (d *mockDriver) Navigate(_ context.Context, url string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.navigateErr != nil {
		return d.navigateErr
	}
	d.navigated = append(d.navigated, url)
	d.url = url
	return nil
}

func (d *mockDriver) ClickAt(_ context.Context, x, y int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clickErr != nil {
		return d.clickErr
	}
	d.clicked = append(d.clicked, Point{X: x, Y: y})
	return nil
}

func (d *mockDriver) TypeText(_ context.Context, text string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.typeErr != nil {
		return d.typeErr
	}
	d.typed = append(d.typed, text)
	return nil
}

func (d *mockDriver) PressKey(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keyErr != nil {
		return d.keyErr
	}
	d.keys = append(d.keys, key)
	return nil
}

func (d *mockDriver) Scroll(_ context.Context, direction string, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.scrollErr != nil {
		return d.scrollErr
	}
	d.scrolls = append(d.scrolls, direction)
	return nil
}

func (d *mockDriver) WaitForLoad(context.Context, time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitErr
}

func (d *mockDriver) Sleep(context.Context, time.Duration) error { return nil }

func (d *mockDriver) ElementAtPoint(context.Context, int, int) (browser.ElementInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.element, d.elementErr
}

var _ Driver = (*mockDriver)(nil)

func testLogger() *zap.Logger { return zap.NewNop() }
