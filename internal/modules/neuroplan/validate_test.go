package neuroplan

import (
	"testing"

	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
)

func validContext() map[string]any {
	return map[string]any{
		"grado":     "3ro primaria",
		"contenido": "fracciones",
		"tema":      "cocina",
		"sesiones":  float64(3),
		"duracion":  float64(45),
	}
}

func TestValidateStepUserType(t *testing.T) {
	if err := validateStep(StepUserType, map[string]any{"tipoUsuario": "docente"}); err != nil {
		t.Fatalf("docente is a valid user type: %v", err)
	}
	if err := validateStep(StepUserType, map[string]any{"usuario": "terapeuta"}); err != nil {
		t.Fatalf("legacy field name must be accepted: %v", err)
	}
	if err := validateStep(StepUserType, map[string]any{"tipoUsuario": "alien"}); err == nil {
		t.Fatalf("unknown user type must fail")
	}
	if err := validateStep(StepUserType, map[string]any{}); err == nil {
		t.Fatalf("missing user type must fail")
	}
}

func TestValidateStepNeurodiversity(t *testing.T) {
	if err := validateStep(StepNeurodiversity, map[string]any{"neurodiversidades": []any{"tdah"}}); err != nil {
		t.Fatalf("one entry suffices: %v", err)
	}
	if err := validateStep(StepNeurodiversity, map[string]any{"neurodiversidades": []any{}}); err == nil {
		t.Fatalf("at least one entry is required")
	}
	if err := validateStep(StepNeurodiversity, map[string]any{"neurodiversidades": "tdah"}); err == nil {
		t.Fatalf("a bare string is not a list")
	}
	if err := validateStep(StepNeurodiversity, map[string]any{"neurodiversidades": []any{"tdah", "  "}}); err == nil {
		t.Fatalf("blank entries must fail")
	}
}

func TestValidateStepTeacherContext(t *testing.T) {
	if err := validateStep(StepTeacherContext, validContext()); err != nil {
		t.Fatalf("flat context fields: %v", err)
	}
	if err := validateStep(StepTeacherContext, map[string]any{"contexto": validContext()}); err != nil {
		t.Fatalf("nested contexto: %v", err)
	}

	bad := validContext()
	bad["sesiones"] = float64(0)
	if err := validateStep(StepTeacherContext, bad); err == nil {
		t.Fatalf("sesiones must be >= 1")
	}
	bad = validContext()
	bad["duracion"] = "mucho"
	if err := validateStep(StepTeacherContext, bad); err == nil {
		t.Fatalf("duracion must be an integer")
	}
	bad = validContext()
	delete(bad, "tema")
	if err := validateStep(StepTeacherContext, bad); err == nil {
		t.Fatalf("tema is required")
	}
}

func TestValidateStepOptionalFields(t *testing.T) {
	// Sensitivities and personal-context fields are all optional.
	if err := validateStep(StepSensitivities, map[string]any{}); err != nil {
		t.Fatalf("empty sensitivities input is valid: %v", err)
	}
	if err := validateStep(StepSensitivities, map[string]any{"sensibilidades": []any{123}}); err == nil {
		t.Fatalf("non-string entries must fail when present")
	}
	if err := validateStep(StepPersonal, map[string]any{}); err != nil {
		t.Fatalf("empty personal input is valid: %v", err)
	}
	if err := validateStep(StepPersonal, map[string]any{"entornos": "casa"}); err == nil {
		t.Fatalf("entornos must be a list when present")
	}
}

func TestValidateStepFormat(t *testing.T) {
	if err := validateStep(StepFormat, map[string]any{"formato": "semaforo"}); err != nil {
		t.Fatalf("semaforo is valid: %v", err)
	}
	if err := validateStep(StepFormat, map[string]any{"formato": "pdf"}); err == nil {
		t.Fatalf("unknown format must fail")
	}
}

func TestValidateDirect(t *testing.T) {
	payload := map[string]any{
		"usuario":           "docente",
		"neurodiversidades": []any{"tea"},
		"formato":           "completo",
		"contexto":          validContext(),
	}
	if err := validateDirect(payload); err != nil {
		t.Fatalf("complete payload: %v", err)
	}

	legacy := map[string]any{
		"tipoUsuario":               "padre",
		"neurodiversidades":         []any{"tdah"},
		"formatoPreferido":          "practico",
		"grado":                     "2do",
		"contenidoTematico":         "lectura",
		"temaDetonador":             "dinosaurios",
		"numeroSesiones":            float64(2),
		"duracionSesion":            float64(30),
		"sensibilidadesSensoriales": []any{"ruido"},
		"prioridadUrgente":          "rutinas",
	}
	if err := validateDirect(legacy); err != nil {
		t.Fatalf("legacy flat payload: %v", err)
	}

	delete(payload, "neurodiversidades")
	err := validateDirect(payload)
	if err == nil {
		t.Fatalf("neurodiversidades is required")
	}
	if fe := faults.AsError(err); fe.Kind != faults.Validation {
		t.Fatalf("expected a validation fault, got %v", err)
	}
}
