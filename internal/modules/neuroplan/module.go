// Package neuroplan implements the NEUROPLAN_360 module: a session-scoped
// wizard that accumulates plan input over numbered steps and generates a
// persisted plan, plus a direct entry point that takes the complete payload
// in one call.
package neuroplan

import (
	"context"

	"github.com/CePCCo-Asesores/backend-universal/pkg/authn"
	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
)

const ModuleName = "NEUROPLAN_360"

// anonEmail is used when neither a verified token nor the payload names the
// caller.
const anonEmail = "anon@local"

// casRetries bounds the compare-and-swap loop on session updates.
const casRetries = 3

type Module struct {
	store Store
}

func New(store Store) *Module { return &Module{store: store} }

func (m *Module) Run(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	action, _ := payload["action"].(string)
	switch action {
	case "start":
		return m.start(ctx, payload, user)
	case "step":
		return m.step(ctx, payload)
	case "generate":
		return m.generate(ctx, payload)
	case "direct":
		return m.direct(ctx, payload, user)
	}
	return nil, faults.Validationf("action no soportada: %q", action)
}

func (m *Module) start(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	sess, err := m.store.CreateSession(ctx, callerEmail(payload, user))
	if err != nil {
		return nil, faults.Internalf(err, "no se pudo crear la sesión")
	}
	return map[string]any{
		"session_id": sess.ID,
		"next_step":  Next(StepNone, sess.Data).Wire(),
	}, nil
}

func (m *Module) step(ctx context.Context, payload map[string]any) (map[string]any, error) {
	sessionID, _ := payload["session_id"].(string)
	if sessionID == "" {
		return nil, faults.Validationf("session_id requerido")
	}
	step, ok := ParseStep(payload["step"])
	if !ok {
		return nil, faults.Validationf("step no soportado")
	}
	input, _ := payload["input"].(map[string]any)
	if input == nil {
		input = map[string]any{}
	}
	if err := validateStep(step, input); err != nil {
		return nil, err
	}

	// Read-merge-write under a version check; a concurrent writer costs one
	// retry, never a lost update.
	for attempt := 0; attempt < casRetries; attempt++ {
		sess, err := m.store.GetSession(ctx, sessionID)
		if err != nil {
			if err == ErrSessionNotFound {
				return nil, faults.NotFoundf("session not found")
			}
			return nil, faults.Internalf(err, "no se pudo leer la sesión")
		}
		if expected := Next(sess.Step, sess.Data); step != expected {
			return nil, faults.Validationf("step fuera de orden (esperado %d)", expected.Wire())
		}
		data := mergeStep(step, sess.Data, input)
		ok, err := m.store.UpdateSession(ctx, sessionID, step, data, sess.Version)
		if err != nil {
			return nil, faults.Internalf(err, "no se pudo guardar la sesión")
		}
		if ok {
			return map[string]any{
				"session_id": sessionID,
				"saved_step": step.Wire(),
				"next_step":  Next(step, data).Wire(),
			}, nil
		}
	}
	return nil, faults.Internalf(nil, "conflicto de concurrencia en la sesión")
}

func (m *Module) generate(ctx context.Context, payload map[string]any) (map[string]any, error) {
	sessionID, _ := payload["session_id"].(string)
	if sessionID == "" {
		return nil, faults.Validationf("session_id requerido")
	}
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == ErrSessionNotFound {
			return nil, faults.NotFoundf("session not found")
		}
		return nil, faults.Internalf(err, "no se pudo leer la sesión")
	}
	// Generates from whatever the session holds; unvisited steps default.
	plan := BuildPlan(sess.Data)
	planID, err := m.store.InsertPlan(ctx, sess.Email, sess.Data, plan)
	if err != nil {
		return nil, faults.Internalf(err, "no se pudo persistir el plan")
	}
	return map[string]any{
		"plan_id": planID,
		"email":   sess.Email,
		"plan":    plan,
	}, nil
}

func (m *Module) direct(ctx context.Context, payload map[string]any, user authn.User) (map[string]any, error) {
	if err := validateDirect(payload); err != nil {
		return nil, err
	}
	email := callerEmail(payload, user)
	plan := BuildPlan(payload)
	planID, err := m.store.InsertPlan(ctx, email, payload, plan)
	if err != nil {
		return nil, faults.Internalf(err, "no se pudo persistir el plan")
	}
	return map[string]any{
		"plan_id": planID,
		"email":   email,
		"plan":    plan,
	}, nil
}

// mergeStep copies the session data and sets only the fields the given step
// owns; the step sets never overlap, so earlier answers survive later steps.
func mergeStep(step Step, data, input map[string]any) map[string]any {
	out := make(map[string]any, len(data)+2)
	for k, v := range data {
		out[k] = v
	}
	switch step {
	case StepUserType:
		if v, ok := firstOf(input, "tipoUsuario", "usuario"); ok {
			out["usuario"] = v
		}
	case StepNeurodiversity:
		out["neurodiversidades"] = input["neurodiversidades"]
	case StepMenuOption:
		out["opcionMenu"] = input["opcionMenu"]
	case StepTeacherContext:
		if nested, ok := input["contexto"].(map[string]any); ok {
			out["contexto"] = nested
		} else {
			out["contexto"] = input
		}
	case StepSensitivities:
		if v, ok := input["sensibilidades"]; ok {
			out["sensibilidades"] = v
		}
	case StepPersonal:
		for _, k := range []string{"entornos", "limitaciones", "prioridad"} {
			if v, ok := input[k]; ok {
				out[k] = v
			}
		}
	case StepFormat:
		out["formato"] = input["formato"]
	}
	return out
}

func callerEmail(payload map[string]any, user authn.User) string {
	if user.Email != "" {
		return user.Email
	}
	if e, ok := payload["usuarioEmail"].(string); ok && e != "" {
		return e
	}
	return anonEmail
}
