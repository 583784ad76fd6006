package apns

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierlabs/pushgate/pkg/types"
)

type fakeTransport struct {
	mu      sync.Mutex
	pushed  []string
	respond func(deviceToken string) (*apns2.Response, error)
}

func (f *fakeTransport) PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.mu.Lock()
	f.pushed = append(f.pushed, n.DeviceToken)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(n.DeviceToken)
	}
	return &apns2.Response{StatusCode: http.StatusOK}, nil
}

func testIOSConfig() *types.IOSConfig {
	return &types.IOSConfig{
		AppID:    "com.acme.app",
		BundleID: "com.acme.app",
		TeamID:   "TEAM123456",
		KeyID:    "KEY1234567",
	}
}

func newFakePool(ft *fakeTransport, shutdowns *int32) *Pool {
	pool := NewPool(8)
	pool.newTransport = func(cfg *types.IOSConfig) (transport, func(), error) {
		return ft, func() {
			if shutdowns != nil {
				atomic.AddInt32(shutdowns, 1)
			}
		}, nil
	}
	return pool
}

func TestChunks(t *testing.T) {
	many := func(n int) []string {
		tokens := make([]string, n)
		for i := range tokens {
			tokens[i] = "t"
		}
		return tokens
	}
	tests := []struct {
		n    int
		want int
	}{
		{1, 1},
		{1000, 1},
		{1001, 2},
		{2500, 3},
	}
	for _, tt := range tests {
		got := chunks(many(tt.n), chunkSize)
		if len(got) != tt.want {
			t.Errorf("chunks(%d) = %d invocations, want %d", tt.n, len(got), tt.want)
		}
		total := 0
		for _, c := range got {
			total += len(c)
		}
		if total != tt.n {
			t.Errorf("chunks(%d) covers %d tokens", tt.n, total)
		}
	}
}

func TestSendAllDelivered(t *testing.T) {
	ft := &fakeTransport{}
	pool := newFakePool(ft, nil)

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Platform:     types.PlatformIOS,
		Tokens:       []string{"t1", "t2"},
		Notification: &types.Notification{Title: "Hi", Body: "there"},
	}
	result, err := pool.Send(context.Background(), testIOSConfig(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Requested)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, []string{}, result.InvalidTokens)
	assert.Len(t, ft.pushed, 2)
}

func TestSendClassifiesInvalidTokens(t *testing.T) {
	ft := &fakeTransport{
		respond: func(deviceToken string) (*apns2.Response, error) {
			switch deviceToken {
			case "gone":
				return &apns2.Response{StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered}, nil
			case "badtoken":
				return &apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken}, nil
			case "wrongtopic":
				return &apns2.Response{StatusCode: http.StatusBadRequest, Reason: apns2.ReasonDeviceTokenNotForTopic}, nil
			case "throttled":
				return &apns2.Response{StatusCode: http.StatusTooManyRequests, Reason: apns2.ReasonTooManyRequests}, nil
			}
			return &apns2.Response{StatusCode: http.StatusOK}, nil
		},
	}
	pool := newFakePool(ft, nil)

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Platform:     types.PlatformIOS,
		Tokens:       []string{"ok1", "gone", "badtoken", "wrongtopic", "throttled"},
		Notification: &types.Notification{Title: "Hi"},
	}
	result, err := pool.Send(context.Background(), testIOSConfig(), req)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Requested)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 4, result.Failed)
	assert.ElementsMatch(t, []string{"gone", "badtoken", "wrongtopic"}, result.InvalidTokens,
		"throttling is a failure but not a token invalidation")
}

func TestSendTransportErrorCountsFailed(t *testing.T) {
	ft := &fakeTransport{
		respond: func(string) (*apns2.Response, error) {
			return nil, assert.AnError
		},
	}
	pool := newFakePool(ft, nil)

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Tokens:       []string{"t1"},
		Notification: &types.Notification{Title: "Hi"},
	}
	result, err := pool.Send(context.Background(), testIOSConfig(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, result.InvalidTokens)
}

func TestPoolSingleConstruction(t *testing.T) {
	var constructions int32
	pool := NewPool(8)
	pool.newTransport = func(cfg *types.IOSConfig) (transport, func(), error) {
		atomic.AddInt32(&constructions, 1)
		return &fakeTransport{}, func() {}, nil
	}

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Tokens:       []string{"t1"},
		Notification: &types.Notification{Title: "Hi"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Send(context.Background(), testIOSConfig(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&constructions),
		"concurrent first uses must yield one provider")
}

func TestPoolInvalidate(t *testing.T) {
	var constructions, shutdowns int32
	pool := NewPool(8)
	pool.newTransport = func(cfg *types.IOSConfig) (transport, func(), error) {
		atomic.AddInt32(&constructions, 1)
		return &fakeTransport{}, func() { atomic.AddInt32(&shutdowns, 1) }, nil
	}

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Tokens:       []string{"t1"},
		Notification: &types.Notification{Title: "Hi"},
	}

	_, err := pool.Send(context.Background(), testIOSConfig(), req)
	require.NoError(t, err)

	pool.Invalidate("com.acme.app")
	assert.EqualValues(t, 1, atomic.LoadInt32(&shutdowns), "invalidation shuts the provider down")

	_, err = pool.Send(context.Background(), testIOSConfig(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&constructions), "next send rebuilds the provider")

	pool.Shutdown()
	assert.EqualValues(t, 2, atomic.LoadInt32(&shutdowns))
}
