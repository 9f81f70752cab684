// internal/agent/locator.go
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/weiyun0912/webpilot/internal/config"
	"github.com/weiyun0912/webpilot/internal/vision"
)

const locateRetries = 2

// Coordinate formats the model has been observed to emit, tried in order.
var coordinatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\((\d+)\s*,\s*(\d+)\)`),
	regexp.MustCompile(`^\s*\(?\s*(\d+)\s*,\s*(\d+)\s*\)?\s*$`),
	regexp.MustCompile(`(\d+)\s*,\s*(\d+)`),
	regexp.MustCompile(`(?is)x[=:]\s*(\d+).*?y[=:]\s*(\d+)`),
}

// Locator resolves a textual element description to screen coordinates by
// asking the vision model where the element sits in the screenshot.
type Locator struct {
	model  vision.Completer
	driver Driver
	cfg    config.VisionConfig
	logger *zap.Logger
}

func NewLocator(model vision.Completer, driver Driver, cfg config.VisionConfig, logger *zap.Logger) *Locator {
	return &Locator{
		model:  model,
		driver: driver,
		cfg:    cfg,
		logger: logger.Named("locator"),
	}
}

// Locate returns the click point for the described element. The raw model
// coordinate is snapped to the center of the DOM element under it when the
// hit test finds one.
func (l *Locator) Locate(ctx context.Context, elementDescription string, screenshot []byte) (Point, error) {
	prompt := buildLocatePrompt(elementDescription)

	var lastErr error
	for attempt := 0; attempt <= locateRetries; attempt++ {
		response, err := l.model.Complete(ctx, vision.Request{
			Prompt:    prompt,
			ImagePNG:  screenshot,
			MaxTokens: l.cfg.LocateMaxTokens,
		})
		if err == nil {
			var point Point
			point, err = parseCoordinates(response)
			if err == nil {
				l.logger.Debug("Element located",
					zap.String("element", elementDescription),
					zap.Int("x", point.X),
					zap.Int("y", point.Y),
					zap.Int("attempt", attempt+1))
				return l.snap(ctx, point), nil
			}
		}

		lastErr = err
		if attempt < locateRetries {
			l.logger.Warn("Locate attempt failed, retrying",
				zap.String("element", elementDescription),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return Point{}, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
	}
	return Point{}, fmt.Errorf("locate %q failed: %w", elementDescription, lastErr)
}

// snap replaces the raw coordinate with the center of the element under it,
// when the hit test succeeds. A failed hit test keeps the raw point; the
// click may still land correctly.
func (l *Locator) snap(ctx context.Context, raw Point) Point {
	info, err := l.driver.ElementAtPoint(ctx, raw.X, raw.Y)
	if err != nil || !info.Found {
		return raw
	}
	l.logger.Debug("Snapped to element",
		zap.String("tag", info.Tag),
		zap.String("text", info.Text),
		zap.Int("x", info.Center.X),
		zap.Int("y", info.Center.Y))
	return Point{X: info.Center.X, Y: info.Center.Y}
}

// parseCoordinates extracts an (x, y) pair from the model's free text.
// Negative values cannot occur (the patterns match digits only) and (0, 0)
// is rejected as a telltale of a failed localization.
func parseCoordinates(text string) (Point, error) {
	for _, pattern := range coordinatePatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		x, errX := strconv.Atoi(m[1])
		y, errY := strconv.Atoi(m[2])
		if errX != nil || errY != nil {
			continue
		}
		if x == 0 && y == 0 {
			return Point{}, fmt.Errorf("coordinates resolve to (0, 0), localization likely failed")
		}
		return Point{X: x, Y: y}, nil
	}
	return Point{}, fmt.Errorf("no coordinates in model response: %s", truncate(text, 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
