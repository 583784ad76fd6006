package apns

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
	"golang.org/x/sync/errgroup"

	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/metrics"
	"github.com/courierlabs/pushgate/pkg/types"
)

// chunkSize is the largest token batch handed to one provider invocation.
const chunkSize = 1000

// transport is the provider seam; *apns2.Client satisfies it.
type transport interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

type provider struct {
	appID     string
	transport transport
	shutdown  func()
	// inFlight bounds concurrent pushes per provider, keeping stream
	// pressure on the HTTP/2 connection under control during bursts.
	inFlight chan struct{}
}

// Pool caches one long-lived APNs provider per tenant. Providers are built
// lazily on first use and evicted when an admin write changes the tenant's
// iOS credential.
type Pool struct {
	mu           sync.Mutex
	providers    map[string]*provider
	maxInFlight  int
	newTransport func(cfg *types.IOSConfig) (transport, func(), error)
}

// NewPool creates a pool with the given per-provider in-flight push cap.
func NewPool(maxInFlight int) *Pool {
	return &Pool{
		providers:    make(map[string]*provider),
		maxInFlight:  maxInFlight,
		newTransport: newTokenTransport,
	}
}

func newTokenTransport(cfg *types.IOSConfig) (transport, func(), error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	shutdown := func() {
		if hc, ok := client.HTTPClient.Transport.(*http.Transport); ok {
			hc.CloseIdleConnections()
		} else {
			client.HTTPClient.CloseIdleConnections()
		}
	}
	return client, shutdown, nil
}

// get returns the tenant's provider, constructing it at most once even
// under concurrent first use.
func (p *Pool) get(cfg *types.IOSConfig) (*provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if prov, ok := p.providers[cfg.AppID]; ok {
		return prov, nil
	}
	t, shutdown, err := p.newTransport(cfg)
	if err != nil {
		return nil, err
	}
	prov := &provider{
		appID:     cfg.AppID,
		transport: t,
		shutdown:  shutdown,
		inFlight:  make(chan struct{}, p.maxInFlight),
	}
	p.providers[cfg.AppID] = prov
	metrics.ProvidersActive.WithLabelValues("ios").Set(float64(len(p.providers)))
	return prov, nil
}

// Invalidate gracefully shuts down and evicts the tenant's provider so the
// next send observes fresh credentials.
func (p *Pool) Invalidate(appID string) {
	p.mu.Lock()
	prov, ok := p.providers[appID]
	if ok {
		delete(p.providers, appID)
	}
	metrics.ProvidersActive.WithLabelValues("ios").Set(float64(len(p.providers)))
	p.mu.Unlock()

	if ok && prov.shutdown != nil {
		prov.shutdown()
		logger := log.WithComponent("apns")
		logger.Info().Str("app_id", appID).Msg("provider invalidated")
	}
}

// Shutdown gracefully closes every cached provider.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	providers := p.providers
	p.providers = make(map[string]*provider)
	metrics.ProvidersActive.WithLabelValues("ios").Set(0)
	p.mu.Unlock()

	for _, prov := range providers {
		if prov.shutdown != nil {
			prov.shutdown()
		}
	}
}

// Send delivers the request to every token, batching in chunks of at most
// 1000 per provider invocation. Sends run to completion even if the caller
// disconnects, so invalid-token learning stays accurate.
func (p *Pool) Send(ctx context.Context, cfg *types.IOSConfig, req *types.SubmitRequest) (*types.SendResult, error) {
	prov, err := p.get(cfg)
	if err != nil {
		return nil, err
	}

	template := buildNotification(req, cfg.BundleID, time.Now())
	result := &types.SendResult{
		Requested:     len(req.Tokens),
		InvalidTokens: []string{},
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, chunk := range chunks(req.Tokens, chunkSize) {
		sent, failed, invalid := prov.sendChunk(sendCtx, chunk, template)
		result.Sent += sent
		result.Failed += failed
		result.InvalidTokens = append(result.InvalidTokens, invalid...)
	}

	metrics.TokensSentTotal.WithLabelValues("ios").Add(float64(result.Sent))
	metrics.TokensFailedTotal.WithLabelValues("ios").Add(float64(result.Failed))
	metrics.TokensInvalidTotal.WithLabelValues("ios").Add(float64(len(result.InvalidTokens)))
	return result, nil
}

// sendChunk is one provider invocation: it fans the chunk out over the
// provider's in-flight budget and aggregates per-token outcomes.
func (prov *provider) sendChunk(ctx context.Context, tokens []string, template *apns2.Notification) (sent, failed int, invalid []string) {
	type outcome struct {
		ok      bool
		invalid bool
	}
	outcomes := make([]outcome, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	for i, deviceToken := range tokens {
		g.Go(func() error {
			prov.inFlight <- struct{}{}
			metrics.APNsInFlight.WithLabelValues(prov.appID).Inc()
			defer func() {
				metrics.APNsInFlight.WithLabelValues(prov.appID).Dec()
				<-prov.inFlight
			}()

			n := *template
			n.DeviceToken = deviceToken
			resp, err := prov.transport.PushWithContext(gctx, &n)
			if err != nil {
				logger := log.WithComponent("apns")
				logger.Warn().Err(err).Str("app_id", prov.appID).Msg("push failed")
				return nil
			}
			if resp.Sent() {
				outcomes[i] = outcome{ok: true}
				return nil
			}
			outcomes[i] = outcome{invalid: invalidReason(resp)}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		switch {
		case o.ok:
			sent++
		case o.invalid:
			failed++
			invalid = append(invalid, tokens[i])
		default:
			failed++
		}
	}
	return sent, failed, invalid
}

// invalidReason reports whether the response marks the device token as
// permanently undeliverable.
func invalidReason(resp *apns2.Response) bool {
	if resp.StatusCode == http.StatusGone {
		return true
	}
	switch resp.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
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
