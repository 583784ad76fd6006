package fcm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/courierlabs/pushgate/pkg/types"
)

var errNotRegistered = errors.New("registration token not registered")

type fakeSender struct {
	mu    sync.Mutex
	calls [][]string
	// fail maps a token to its per-token error.
	fail map[string]error
}

func (f *fakeSender) SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg.Tokens)
	f.mu.Unlock()

	resp := &messaging.BatchResponse{}
	for _, token := range msg.Tokens {
		if err, ok := f.fail[token]; ok {
			resp.FailureCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: false, Error: err})
		} else {
			resp.SuccessCount++
			resp.Responses = append(resp.Responses, &messaging.SendResponse{Success: true, MessageID: "m"})
		}
	}
	return resp, nil
}

func testAndroidConfig() *types.AndroidConfig {
	return &types.AndroidConfig{
		AppID:          "com.acme.app",
		ServiceAccount: `{"client_email":"svc@acme.iam.gserviceaccount.com","private_key":"key"}`,
	}
}

func newFakePool(fs *fakeSender) *Pool {
	pool := NewPool()
	pool.newSender = func(ctx context.Context, cfg *types.AndroidConfig) (sender, error) {
		return fs, nil
	}
	pool.invalidErr = func(err error) bool {
		return errors.Is(err, errNotRegistered)
	}
	return pool
}

func TestSendAggregatesAndClassifies(t *testing.T) {
	fs := &fakeSender{fail: map[string]error{
		"dead":  errNotRegistered,
		"flaky": errors.New("internal"),
	}}
	pool := newFakePool(fs)

	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		Platform:     types.PlatformAndroid,
		Tokens:       []string{"t1", "dead", "flaky"},
		Notification: &types.Notification{Title: "Hi"},
	}
	result, err := pool.Send(context.Background(), testAndroidConfig(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, []string{"dead"}, result.InvalidTokens,
		"transient failures are not token invalidations")
}

func TestSendChunksAt500(t *testing.T) {
	fs := &fakeSender{}
	pool := newFakePool(fs)

	tokens := make([]string, 1200)
	for i := range tokens {
		tokens[i] = "t"
	}
	req := &types.SubmitRequest{
		AppID:  "com.acme.app",
		Tokens: tokens,
		Data:   map[string]string{"k": "v"},
	}
	result, err := pool.Send(context.Background(), testAndroidConfig(), req)
	require.NoError(t, err)
	assert.Equal(t, 1200, result.Sent)
	require.Len(t, fs.calls, 3)
	assert.Len(t, fs.calls[0], 500)
	assert.Len(t, fs.calls[1], 500)
	assert.Len(t, fs.calls[2], 200)
}

func TestPoolSingleConstructionAndInvalidate(t *testing.T) {
	var constructions int32
	pool := NewPool()
	pool.newSender = func(ctx context.Context, cfg *types.AndroidConfig) (sender, error) {
		atomic.AddInt32(&constructions, 1)
		return &fakeSender{}, nil
	}

	req := &types.SubmitRequest{
		AppID:  "com.acme.app",
		Tokens: []string{"t1"},
		Data:   map[string]string{"k": "v"},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Send(context.Background(), testAndroidConfig(), req)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, atomic.LoadInt32(&constructions))

	pool.Invalidate("com.acme.app")
	_, err := pool.Send(context.Background(), testAndroidConfig(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&constructions))
}

func TestMentionsRegistrationToken(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"The registration token is not a valid FCM registration token", true},
		{"Requested entity was not found (registration token)", true},
		{"Invalid value at 'message.android.ttl'", false},
		{"request contains an invalid argument", false},
	}
	for _, tt := range tests {
		if got := mentionsRegistrationToken(errors.New(tt.msg)); got != tt.want {
			t.Errorf("mentionsRegistrationToken(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestBuildMessage(t *testing.T) {
	ttl := int64(300)
	fcmTTL := int64(60)
	req := &types.SubmitRequest{
		AppID:        "com.acme.app",
		TTLSeconds:   &ttl,
		Notification: &types.Notification{Title: "Hi", Body: "there"},
		Data:         map[string]string{"k": "v"},
		FCM: &types.FCMOptions{
			TTLSeconds:  &fcmTTL,
			Priority:    "high",
			CollapseKey: "updates",
		},
	}
	msg := buildMessage(req, []string{"t1", "t2"})

	assert.Equal(t, []string{"t1", "t2"}, msg.Tokens)
	require.NotNil(t, msg.Notification)
	assert.Equal(t, "Hi", msg.Notification.Title)
	assert.Equal(t, map[string]string{"k": "v"}, msg.Data)
	require.NotNil(t, msg.Android)
	require.NotNil(t, msg.Android.TTL)
	assert.Equal(t, 60*time.Second, *msg.Android.TTL, "fcm ttl wins over global ttl")
	assert.Equal(t, "high", msg.Android.Priority)
	assert.Equal(t, "updates", msg.Android.CollapseKey)
}

func TestBuildMessageOmitsEmptyBlocks(t *testing.T) {
	req := &types.SubmitRequest{
		AppID: "com.acme.app",
		Data:  map[string]string{"k": "v"},
	}
	msg := buildMessage(req, []string{"t1"})

	assert.Nil(t, msg.Notification, "no notification without title or body")
	assert.Nil(t, msg.Android, "android block omitted when empty")

	req = &types.SubmitRequest{
		AppID:        "com.acme.app",
		Notification: &types.Notification{Title: "Hi"},
	}
	msg = buildMessage(req, []string{"t1"})
	assert.Nil(t, msg.Data)
	require.NotNil(t, msg.Notification)

	ttl := int64(90)
	req.TTLSeconds = &ttl
	msg = buildMessage(req, []string{"t1"})
	require.NotNil(t, msg.Android, "global ttl populates the android block")
	assert.Equal(t, 90*time.Second, *msg.Android.TTL)
}
