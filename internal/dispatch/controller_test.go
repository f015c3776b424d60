package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/CePCCo-Asesores/backend-universal/internal/registry"
	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/contract"
	"github.com/CePCCo-Asesores/backend-universal/pkg/eventbus"
	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
)

type fakeModule struct {
	result  map[string]any
	err     error
	payload map[string]any
	user    authn.User
	calls   int
}

func (m *fakeModule) Run(_ context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	m.calls++
	m.payload = payload
	m.user = user
	return m.result, m.err
}

type fakeResolver struct{ modules map[string]registry.Module }

func (r fakeResolver) Resolve(name string) (registry.Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

type fakeRules struct{ pre, post []contract.Rule }

func (r fakeRules) Rules(_, section string) []contract.Rule {
	if section == "pre" {
		return r.pre
	}
	return r.post
}

type fakeLimiter struct {
	allow bool
	key   string
	ip    string
}

func (l *fakeLimiter) Allow(_ context.Context, key, ip string) bool {
	l.key, l.ip = key, ip
	return l.allow
}

type fakeTokens struct{ user authn.User }

func (t fakeTokens) Verify(token string) (authn.User, error) {
	if token == "good" {
		return t.user, nil
	}
	return authn.User{}, authn.ErrInvalidToken
}

func newController(mod registry.Module, rules fakeRules) (*Controller, *fakeLimiter) {
	limiter := &fakeLimiter{allow: true}
	return &Controller{
		Modules:   fakeResolver{modules: map[string]registry.Module{"DEMO_V1": mod}},
		Contracts: rules,
		Limiter:   limiter,
		Tokens:    fakeTokens{user: authn.User{Email: "t@u.v", Sub: "s1"}},
		Bus:       eventbus.New(nil),
	}, limiter
}

func activate(t *testing.T, c *Controller, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/module/activate", strings.NewReader(body))
	req.RemoteAddr = "10.0.0.7:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.Activate(w, req)

	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v\n%s", err, w.Body.String())
	}
	return w, out
}

func TestActivateSuccessMergesEnvelope(t *testing.T) {
	mod := &fakeModule{result: map[string]any{"plan_id": "p1"}}
	c, _ := newController(mod, fakeRules{})

	w, out := activate(t, c, `{"module":"demo-v1","payload":{"action":"generate"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", w.Code, out)
	}
	if out["ok"] != true || out["module"] != "DEMO_V1" || out["plan_id"] != "p1" {
		t.Fatalf("result must be merged with ok and the sanitized module key: %v", out)
	}
}

func TestActivateMissingModuleParam(t *testing.T) {
	c, _ := newController(&fakeModule{}, fakeRules{})
	w, out := activate(t, c, `{"payload":{}}`, nil)
	if w.Code != http.StatusUnprocessableEntity || out["error"] != "validation_error" {
		t.Fatalf("missing module = 422 validation_error, got %d %v", w.Code, out)
	}
}

func TestActivateInvalidJSON(t *testing.T) {
	c, _ := newController(&fakeModule{}, fakeRules{})
	w, _ := activate(t, c, `{not json`, nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad JSON = 422, got %d", w.Code)
	}
}

func TestActivateRateLimited(t *testing.T) {
	mod := &fakeModule{}
	c, limiter := newController(mod, fakeRules{})
	limiter.allow = false

	w, out := activate(t, c, `{"module":"DEMO_V1","payload":{"action":"step"}}`,
		map[string]string{"X-Forwarded-For": "1.2.3.4, 9.9.9.9"})
	if w.Code != http.StatusTooManyRequests || out["error"] != "rate_limited" {
		t.Fatalf("rate limited = 429, got %d %v", w.Code, out)
	}
	if limiter.key != "DEMO_V1:step" || limiter.ip != "1.2.3.4" {
		t.Fatalf("limiter key/ip wrong: %q %q", limiter.key, limiter.ip)
	}
	if mod.calls != 0 {
		t.Fatalf("the module must not run when rate limited")
	}
}

func TestActivatePreconditionViolation(t *testing.T) {
	mod := &fakeModule{}
	c, _ := newController(mod, fakeRules{pre: []contract.Rule{{Path: "action", Op: "in", Value: []any{"go"}}}})

	w, out := activate(t, c, `{"module":"DEMO_V1","payload":{"action":"stop"}}`, nil)
	if w.Code != http.StatusUnprocessableEntity || out["error"] != "contract_violation" {
		t.Fatalf("pre violation = 422 contract_violation, got %d %v", w.Code, out)
	}
	ctx := out["context"].(map[string]any)
	if ctx["phase"] != "pre" || len(ctx["violations"].([]any)) != 1 {
		t.Fatalf("violations must be reported in context: %v", ctx)
	}
	if mod.calls != 0 {
		t.Fatalf("the module must not run on a failed precondition")
	}
}

func TestActivateModuleNotFound(t *testing.T) {
	c, _ := newController(&fakeModule{}, fakeRules{})
	w, out := activate(t, c, `{"module":"GHOST","payload":{}}`, nil)
	if w.Code != http.StatusNotFound || out["error"] != "module not found" {
		t.Fatalf("unknown module = 404 {error: module not found}, got %d %v", w.Code, out)
	}
}

func TestActivateModuleFaults(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{faults.Validationf("campo requerido"), http.StatusUnprocessableEntity, "validation_error"},
		{faults.NotFoundf("session not found"), http.StatusNotFound, "session not found"},
		{errors.New("pq: connection refused"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		c, _ := newController(&fakeModule{err: tc.err}, fakeRules{})
		w, out := activate(t, c, `{"module":"DEMO_V1","payload":{}}`, nil)
		if w.Code != tc.status || out["error"] != tc.code {
			t.Fatalf("err %v: got %d %v, want %d %s", tc.err, w.Code, out, tc.status, tc.code)
		}
	}
}

func TestActivateInternalMessageGatedInProduction(t *testing.T) {
	c, _ := newController(&fakeModule{err: errors.New("pq: secret dsn")}, fakeRules{})
	c.Production = true
	_, out := activate(t, c, `{"module":"DEMO_V1","payload":{}}`, nil)
	if out["message"] != "internal error" {
		t.Fatalf("production must hide internal detail, got %v", out["message"])
	}

	c2, _ := newController(&fakeModule{err: errors.New("pq: secret dsn")}, fakeRules{})
	_, out = activate(t, c2, `{"module":"DEMO_V1","payload":{}}`, nil)
	if msg, _ := out["message"].(string); !strings.Contains(msg, "secret dsn") {
		t.Fatalf("development keeps the detail, got %v", out["message"])
	}
}

func TestActivatePostconditionViolationAfterExecution(t *testing.T) {
	mod := &fakeModule{result: map[string]any{"status": "broken"}}
	c, _ := newController(mod, fakeRules{post: []contract.Rule{{Path: "status", Op: "eq", Value: "done"}}})

	w, out := activate(t, c, `{"module":"DEMO_V1","payload":{}}`, nil)
	if w.Code != http.StatusUnprocessableEntity || out["error"] != "contract_violation" {
		t.Fatalf("post violation = 422, got %d %v", w.Code, out)
	}
	if ctx := out["context"].(map[string]any); ctx["phase"] != "post" {
		t.Fatalf("phase must be post: %v", ctx)
	}
	if mod.calls != 1 {
		t.Fatalf("the module already ran; its side effects stand")
	}
}

func TestActivateSanitizesPayloadBeforeModule(t *testing.T) {
	mod := &fakeModule{}
	c, _ := newController(mod, fakeRules{})

	activate(t, c, `{"module":"DEMO_V1","payload":{"action":"direct","tema":"  <script>x</script>cocina  ","nested":{"v":" <b>ok</b> "}}}`, nil)
	if mod.payload["tema"] != "xcocina" {
		t.Fatalf("strings must be trimmed and stripped of tags, got %q", mod.payload["tema"])
	}
	if nested := mod.payload["nested"].(map[string]any); nested["v"] != "ok" {
		t.Fatalf("sanitization must recurse, got %q", nested["v"])
	}
}

func TestActivateBearerToken(t *testing.T) {
	mod := &fakeModule{}
	c, _ := newController(mod, fakeRules{})

	activate(t, c, `{"module":"DEMO_V1","payload":{}}`, map[string]string{"Authorization": "Bearer good"})
	if mod.user.Email != "t@u.v" {
		t.Fatalf("a valid token attaches the user, got %+v", mod.user)
	}

	mod2 := &fakeModule{}
	c2, _ := newController(mod2, fakeRules{})
	activate(t, c2, `{"module":"DEMO_V1","payload":{}}`, map[string]string{"Authorization": "Bearer bad"})
	if mod2.user.Email != "" {
		t.Fatalf("an invalid token falls back to anonymous, got %+v", mod2.user)
	}
	if mod2.calls != 1 {
		t.Fatalf("auth is optional; the request still runs")
	}
}

func TestActivatePublishesEvent(t *testing.T) {
	mod := &fakeModule{result: map[string]any{}}
	c, _ := newController(mod, fakeRules{})
	var events []map[string]any
	c.Bus.Subscribe("module.activated", func(p map[string]any) { events = append(events, p) })

	activate(t, c, `{"module":"DEMO_V1","payload":{"action":"start"}}`, nil)
	if len(events) != 1 {
		t.Fatalf("one activation publishes one event, got %d", len(events))
	}
	e := events[0]
	if e["module"] != "DEMO_V1" || e["action"] != "start" || e["success"] != true {
		t.Fatalf("event fields wrong: %v", e)
	}

	c2, limiter := newController(&fakeModule{}, fakeRules{})
	limiter.allow = false
	var denied map[string]any
	c2.Bus.Subscribe("module.activated", func(p map[string]any) { denied = p })
	activate(t, c2, `{"module":"DEMO_V1","payload":{}}`, nil)
	if denied == nil || denied["success"] != false || denied["reason"] != "rate_limited" {
		t.Fatalf("denied activations publish too: %v", denied)
	}
}

func TestActivateLogsDeniedOutcomes(t *testing.T) {
	// Every exit from the pipeline logs; the denied paths must not be silent.
	core, logs := observer.New(zap.WarnLevel)
	c, limiter := newController(&fakeModule{}, fakeRules{})
	c.Log = zap.New(core)
	limiter.allow = false
	activate(t, c, `{"module":"DEMO_V1","payload":{"action":"step"}}`, nil)

	entries := logs.FilterMessage("rate limited").All()
	if len(entries) != 1 {
		t.Fatalf("rate-limited exit must log, got %v", logs.All())
	}
	if fields := entries[0].ContextMap(); fields["module"] != "DEMO_V1" || fields["action"] != "step" {
		t.Fatalf("log fields wrong: %v", fields)
	}

	core2, logs2 := observer.New(zap.WarnLevel)
	c2, _ := newController(&fakeModule{}, fakeRules{})
	c2.Log = zap.New(core2)
	activate(t, c2, `{"module":"GHOST","payload":{}}`, nil)
	if logs2.FilterMessage("module not found").Len() != 1 {
		t.Fatalf("not-found exit must log, got %v", logs2.All())
	}
}

func TestSanitizeValueTypes(t *testing.T) {
	out := sanitize(map[string]any{
		"s":    " <i>hola</i> ",
		"n":    float64(3),
		"b":    true,
		"list": []any{" a ", map[string]any{"x": "<p>y</p>"}},
	})
	if out["s"] != "hola" || out["n"] != float64(3) || out["b"] != true {
		t.Fatalf("scalars wrong: %v", out)
	}
	list := out["list"].([]any)
	if list[0] != "a" || list[1].(map[string]any)["x"] != "y" {
		t.Fatalf("nested values wrong: %v", list)
	}
}
