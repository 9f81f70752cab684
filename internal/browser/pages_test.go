// internal/browser/pages_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPage(id string) (target.ID, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	return target.ID(id), ctx, cancel
}

func TestPageRegistry(t *testing.T) {
	t.Run("empty registry has no active page", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		_, err := r.active()
		assert.ErrorIs(t, err, ErrNoActivePage)
	})

	t.Run("last registered page is active", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		id2, ctx2, cancel2 := newTestPage("t2")
		defer cancel1()
		defer cancel2()

		r.register(id1, ctx1, cancel1)
		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx1, got)

		r.register(id2, ctx2, cancel2)
		got, err = r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx2, got)
	})

	t.Run("register is idempotent per target", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id, ctx, cancel := newTestPage("t1")
		defer cancel()

		r.register(id, ctx, cancel)
		r.register(id, ctx, cancel)
		assert.Len(t, r.pages, 1)
	})

	t.Run("removing active page promotes the previous tab", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		id2, ctx2, cancel2 := newTestPage("t2")
		defer cancel1()
		defer cancel2()

		r.register(id1, ctx1, cancel1)
		r.register(id2, ctx2, cancel2)

		wasActive := r.remove(id2)
		assert.True(t, wasActive)
		assert.Error(t, ctx2.Err(), "removed page context should be canceled")

		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx1, got)
	})

	t.Run("removing a background tab keeps the active page", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		id2, ctx2, cancel2 := newTestPage("t2")
		defer cancel1()
		defer cancel2()

		r.register(id1, ctx1, cancel1)
		r.register(id2, ctx2, cancel2)

		wasActive := r.remove(id1)
		assert.False(t, wasActive)

		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx2, got)
	})

	t.Run("closeAll cancels everything", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		r.register(id1, ctx1, cancel1)

		r.closeAll()
		assert.Error(t, ctx1.Err())
		_, err := r.active()
		assert.ErrorIs(t, err, ErrNoActivePage)
	})

	t.Run("removing unknown target is a no-op", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		assert.False(t, r.remove(target.ID("missing")))
	})

	t.Run("pending tab is not served until it settles", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		id2, ctx2, cancel2 := newTestPage("t2")
		defer cancel1()
		defer cancel2()

		r.register(id1, ctx1, cancel1)
		r.registerPending(id2, ctx2, cancel2)

		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx1, got, "a tab that has not settled must not take over")

		require.True(t, r.markReady(id2))
		got, err = r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx2, got)
	})

	t.Run("removing a pending tab keeps the active page", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id1, ctx1, cancel1 := newTestPage("t1")
		id2, ctx2, cancel2 := newTestPage("t2")
		defer cancel1()
		defer cancel2()

		r.register(id1, ctx1, cancel1)
		r.registerPending(id2, ctx2, cancel2)

		assert.False(t, r.remove(id2))
		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx1, got)
	})

	t.Run("a lone pending tab is served rather than nothing", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		id, ctx, cancel := newTestPage("t1")
		defer cancel()

		r.registerPending(id, ctx, cancel)
		got, err := r.active()
		require.NoError(t, err)
		assert.Equal(t, ctx, got)
	})

	t.Run("markReady on an unknown target reports gone", func(t *testing.T) {
		r := newPageRegistry(zap.NewNop())
		assert.False(t, r.markReady(target.ID("missing")))
	})
}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancel propagates", func(t *testing.T) {
		parent := context.Background()
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(parent, secondary)
		defer cancel()

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-testTimeout(t):
			t.Fatal("combined context was not canceled")
		}
	})

	t.Run("parent cancel propagates", func(t *testing.T) {
		parent, cancelParent := context.WithCancel(context.Background())
		secondary := context.Background()

		combined, cancel := CombineContext(parent, secondary)
		defer cancel()

		cancelParent()
		select {
		case <-combined.Done():
		case <-testTimeout(t):
			t.Fatal("combined context was not canceled")
		}
	})
}

func testTimeout(t *testing.T) <-chan struct{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx.Done()
}
