// Package dispatch is the front door for module activations. One request
// walks the gates in order: rate limit, optional bearer auth, payload
// sanitization, precondition rules, module resolution, execution,
// postcondition rules. Each gate exits early with a typed fault that maps to
// exactly one HTTP status.
package dispatch

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/CePCCo-Asesores/backend-universal/internal/registry"
	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/contract"
	"github.com/CePCCo-Asesores/backend-universal/pkg/eventbus"
	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
	"github.com/CePCCo-Asesores/backend-universal/pkg/httpx"
	"github.com/CePCCo-Asesores/backend-universal/pkg/moduleid"
)

type Resolver interface {
	Resolve(name string) (registry.Module, bool)
}

type RuleSource interface {
	Rules(module, section string) []contract.Rule
}

type Limiter interface {
	Allow(ctx context.Context, key, ip string) bool
}

type TokenVerifier interface {
	Verify(token string) (authn.User, error)
}

type Controller struct {
	Modules    Resolver
	Contracts  RuleSource
	Limiter    Limiter
	Tokens     TokenVerifier
	Bus        *eventbus.Bus
	Log        *zap.Logger
	Production bool
}

type activateRequest struct {
	Module  string         `json:"module"`
	Payload map[string]any `json:"payload"`
}

// Activate handles POST /module/activate.
func (c *Controller) Activate(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req activateRequest
	if err := httpx.ReadJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "invalid JSON body", nil)
		return
	}
	if strings.TrimSpace(req.Module) == "" {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", "missing required parameter: module", nil)
		return
	}
	key := moduleid.Sanitize(req.Module)
	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	action, _ := payload["action"].(string)
	if action == "" {
		action = "direct"
	}
	ip := clientIP(r)

	if !c.Limiter.Allow(r.Context(), key+":"+action, ip) {
		c.logger().Warn("rate limited",
			zap.String("module", key), zap.String("action", action), zap.String("ip", ip))
		c.finish(key, action, "", started, false, "rate_limited")
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
		return
	}

	// Auth is opt-in per module: a missing or invalid token leaves the user
	// anonymous rather than failing the request.
	var user authn.User
	if token, ok := authn.FromBearer(r.Header.Get("Authorization")); ok && c.Tokens != nil {
		if u, err := c.Tokens.Verify(token); err == nil {
			user = u
		}
	}

	payload = sanitize(payload)

	if violations := contract.Evaluate(payload, c.Contracts.Rules(key, "pre")); len(violations) > 0 {
		c.logger().Warn("precondition violated",
			zap.String("module", key), zap.String("action", action), zap.Int("violations", len(violations)))
		c.finish(key, action, user.Email, started, false, "precondition")
		c.writeViolations(w, "pre", violations)
		return
	}

	mod, ok := c.Modules.Resolve(key)
	if !ok {
		c.logger().Warn("module not found",
			zap.String("module", key), zap.String("action", action))
		c.finish(key, action, user.Email, started, false, "not_found")
		httpx.WriteError(w, http.StatusNotFound, "module not found", "", nil)
		return
	}

	result, err := mod.Run(r.Context(), payload, user)
	if err != nil {
		fe := faults.AsError(err)
		c.logger().Error("module execution failed",
			zap.String("module", key), zap.String("action", action),
			zap.String("kind", fe.Kind.String()), zap.Error(err))
		c.finish(key, action, user.Email, started, false, fe.Kind.String())
		c.writeFault(w, fe)
		return
	}

	// Postcondition failures are detected after the module has run; its side
	// effects stand. Logged apart from precondition failures so operators can
	// tell bad input from bad module output.
	if violations := contract.Evaluate(result, c.Contracts.Rules(key, "post")); len(violations) > 0 {
		c.logger().Error("postcondition violated after execution",
			zap.String("module", key), zap.String("action", action), zap.Int("violations", len(violations)))
		c.finish(key, action, user.Email, started, false, "postcondition")
		c.writeViolations(w, "post", violations)
		return
	}

	out := make(map[string]any, len(result)+2)
	for k, v := range result {
		out[k] = v
	}
	out["ok"] = true
	out["module"] = key

	c.logger().Info("module activated",
		zap.String("module", key), zap.String("action", action),
		zap.String("user", user.Email), zap.Duration("duration", time.Since(started)))
	c.finish(key, action, user.Email, started, true, "")
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (c *Controller) writeFault(w http.ResponseWriter, fe *faults.Error) {
	switch fe.Kind {
	case faults.Validation:
		httpx.WriteError(w, http.StatusUnprocessableEntity, "validation_error", fe.Message, fe.Context)
	case faults.ContractViolation:
		httpx.WriteError(w, http.StatusUnprocessableEntity, "contract_violation", fe.Message, fe.Context)
	case faults.NotFound:
		httpx.WriteError(w, http.StatusNotFound, fe.Message, "", nil)
	case faults.RateLimited:
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", fe.Message, nil)
	default:
		msg := fe.Message
		if c.Production {
			msg = "internal error"
		}
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func (c *Controller) writeViolations(w http.ResponseWriter, phase string, violations []contract.Violation) {
	c.writeFault(w, faults.Contract(phase, phase+"condition failed",
		map[string]any{"phase": phase, "violations": violations}))
}

func (c *Controller) finish(module, action, user string, started time.Time, success bool, reason string) {
	if c.Bus == nil {
		return
	}
	c.Bus.Publish("module.activated", map[string]any{
		"module":      module,
		"action":      action,
		"user":        user,
		"duration_ms": time.Since(started).Milliseconds(),
		"success":     success,
		"reason":      reason,
	})
}

func (c *Controller) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

func clientIP(r *http.Request) string {
	for _, h := range []string{"X-Forwarded-For", "CF-Connecting-IP", "X-Real-IP"} {
		if v := r.Header.Get(h); v != "" {
			return strings.TrimSpace(strings.Split(v, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
