package fcm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/metrics"
	"github.com/courierlabs/pushgate/pkg/types"
)

// sender is the messaging seam; *messaging.Client satisfies it.
type sender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// Pool caches one long-lived FCM messaging client per tenant, built lazily
// from the tenant's inline service-account JSON and evicted on credential
// writes.
type Pool struct {
	mu        sync.Mutex
	clients   map[string]sender
	newSender func(ctx context.Context, cfg *types.AndroidConfig) (sender, error)
	// invalidErr classifies a per-token error as a permanent token
	// invalidation.
	invalidErr func(err error) bool
}

// NewPool creates an FCM pool.
func NewPool() *Pool {
	return &Pool{
		clients:    make(map[string]sender),
		newSender:  newMessagingClient,
		invalidErr: sdkInvalidToken,
	}
}

func newMessagingClient(ctx context.Context, cfg *types.AndroidConfig) (sender, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(cfg.ServiceAccount)))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize messaging client: %w", err)
	}
	return client, nil
}

func sdkInvalidToken(err error) bool {
	if messaging.IsRegistrationTokenNotRegistered(err) {
		return true
	}
	return messaging.IsInvalidArgument(err) && mentionsRegistrationToken(err)
}

// mentionsRegistrationToken distinguishes a bad token from other
// INVALID_ARGUMENT rejections such as a malformed payload, which must not
// mark the whole batch invalid.
func mentionsRegistrationToken(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "registration token")
}

func (p *Pool) get(ctx context.Context, cfg *types.AndroidConfig) (sender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[cfg.AppID]; ok {
		return client, nil
	}
	client, err := p.newSender(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.clients[cfg.AppID] = client
	metrics.ProvidersActive.WithLabelValues("android").Set(float64(len(p.clients)))
	return client, nil
}

// Invalidate evicts the tenant's client so the next send observes fresh
// credentials.
func (p *Pool) Invalidate(appID string) {
	p.mu.Lock()
	if _, ok := p.clients[appID]; ok {
		delete(p.clients, appID)
		logger := log.WithComponent("fcm")
		logger.Info().Str("app_id", appID).Msg("client invalidated")
	}
	metrics.ProvidersActive.WithLabelValues("android").Set(float64(len(p.clients)))
	p.mu.Unlock()
}

// Shutdown drops every cached client. Messaging clients hold no sockets of
// their own beyond the shared HTTP transport, so eviction suffices.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.clients = make(map[string]sender)
	metrics.ProvidersActive.WithLabelValues("android").Set(0)
	p.mu.Unlock()
}

// Send delivers the request in multicast chunks of at most 500 tokens.
// Sends run to completion even if the caller disconnects.
func (p *Pool) Send(ctx context.Context, cfg *types.AndroidConfig, req *types.SubmitRequest) (*types.SendResult, error) {
	client, err := p.get(ctx, cfg)
	if err != nil {
		return nil, err
	}

	result := &types.SendResult{
		Requested:     len(req.Tokens),
		InvalidTokens: []string{},
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, chunk := range chunks(req.Tokens, chunkSize) {
		resp, err := client.SendEachForMulticast(sendCtx, buildMessage(req, chunk))
		if err != nil {
			logger := log.WithComponent("fcm")
			logger.Warn().Err(err).Str("app_id", cfg.AppID).Msg("multicast failed")
			result.Failed += len(chunk)
			continue
		}
		for i, r := range resp.Responses {
			if r.Success {
				result.Sent++
				continue
			}
			result.Failed++
			if p.invalidErr(r.Error) {
				result.InvalidTokens = append(result.InvalidTokens, chunk[i])
			}
		}
	}

	metrics.TokensSentTotal.WithLabelValues("android").Add(float64(result.Sent))
	metrics.TokensFailedTotal.WithLabelValues("android").Add(float64(result.Failed))
	metrics.TokensInvalidTotal.WithLabelValues("android").Add(float64(len(result.InvalidTokens)))
	return result, nil
}

func chunks(tokens []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(tokens); start += size {
		end := start + size
		if end > len(tokens) {
			end = len(tokens)
		}
		out = append(out, tokens[start:end])
	}
	return out
}
