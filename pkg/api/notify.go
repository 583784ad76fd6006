package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/courierlabs/pushgate/pkg/httperr"
	"github.com/courierlabs/pushgate/pkg/log"
	"github.com/courierlabs/pushgate/pkg/middleware"
	"github.com/courierlabs/pushgate/pkg/storage"
	"github.com/courierlabs/pushgate/pkg/types"
	"github.com/courierlabs/pushgate/pkg/validate"
)

// ConfigSource resolves a tenant and its per-platform credentials.
type ConfigSource interface {
	GetAppConfig(id string) (*types.AppConfig, error)
}

// IOSSender delivers to APNs on behalf of one tenant.
type IOSSender interface {
	Send(ctx context.Context, cfg *types.IOSConfig, req *types.SubmitRequest) (*types.SendResult, error)
}

// AndroidSender delivers to FCM on behalf of one tenant.
type AndroidSender interface {
	Send(ctx context.Context, cfg *types.AndroidConfig, req *types.SubmitRequest) (*types.SendResult, error)
}

// NotifyHandler validates an admitted submit request, resolves the tenant's
// credential for the requested platform and dispatches to the matching
// provider pool.
type NotifyHandler struct {
	Configs ConfigSource
	IOS     IOSSender
	Android AndroidSender
}

type notifyResponse struct {
	OK      bool                         `json:"ok"`
	AppID   string                       `json:"appId"`
	Results map[string]*types.SendResult `json:"results"`
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := validate.SubmitRequest(middleware.RawBody(r))
	if err != nil {
		httperr.Write(w, err)
		return
	}

	// The authenticated tenant may not submit on behalf of another.
	if authID := middleware.AuthAppID(r); authID != "" && authID != req.AppID {
		httperr.Write(w, httperr.BadRequest("appId does not match authenticated app"))
		return
	}

	cfg, err := h.Configs.GetAppConfig(req.AppID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperr.Write(w, httperr.NotFound("App not found"))
			return
		}
		log.Errorf("failed to load app config", err)
		httperr.Write(w, httperr.Internal("Internal server error"))
		return
	}

	var result *types.SendResult
	switch req.Platform {
	case types.PlatformIOS:
		if cfg.IOS == nil {
			httperr.Write(w, httperr.BadRequest("iOS is not configured for this app"))
			return
		}
		result, err = h.IOS.Send(r.Context(), cfg.IOS, req)
	case types.PlatformAndroid:
		if cfg.Android == nil {
			httperr.Write(w, httperr.BadRequest("Android is not configured for this app"))
			return
		}
		result, err = h.Android.Send(r.Context(), cfg.Android, req)
	default:
		httperr.Write(w, httperr.BadRequest("platform must be ios or android"))
		return
	}
	logger := log.WithApp(req.AppID)
	if err != nil {
		logger.Error().Err(err).Str("platform", string(req.Platform)).Msg("delivery failed")
		httperr.Write(w, httperr.Internal("Delivery failed"))
		return
	}

	logger.Info().
		Str("platform", string(req.Platform)).
		Int("requested", result.Requested).
		Int("sent", result.Sent).
		Int("failed", result.Failed).
		Int("invalid", len(result.InvalidTokens)).
		Msg("notification dispatched")

	httperr.WriteJSON(w, http.StatusOK, notifyResponse{
		OK:      true,
		AppID:   req.AppID,
		Results: map[string]*types.SendResult{string(req.Platform): result},
	})
}
