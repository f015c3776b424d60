package neuroplan

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/CePCCo-Asesores/backend-universal/pkg/faults"
)

var (
	tiposUsuario = []string{"docente", "terapeuta", "padre", "medico", "otro", "mixto"}
	opcionesMenu = []string{"adaptar", "crear", "revisar", "consultar", "evaluar", "universal"}
	formatos     = []string{"practico", "completo", "nd_plus", "sensorial", "semaforo"}
)

// validateStep checks the step-specific input before it is merged into the
// session. Field names accept both current and legacy spellings.
func validateStep(step Step, input map[string]any) error {
	switch step {
	case StepUserType:
		return assertEnum(input, []string{"tipoUsuario", "usuario"}, tiposUsuario, "tipoUsuario")
	case StepNeurodiversity:
		return assertStringList(input, "neurodiversidades", 1)
	case StepMenuOption:
		return assertEnum(input, []string{"opcionMenu"}, opcionesMenu, "opcionMenu")
	case StepTeacherContext:
		ctx := input
		if nested, ok := input["contexto"].(map[string]any); ok {
			ctx = nested
		}
		return validateContext(ctx)
	case StepSensitivities:
		if _, ok := input["sensibilidades"]; ok {
			return assertStringList(input, "sensibilidades", 0)
		}
		return nil
	case StepPersonal:
		if _, ok := input["entornos"]; ok {
			if err := assertStringList(input, "entornos", 0); err != nil {
				return err
			}
		}
		if _, ok := input["limitaciones"]; ok {
			if err := assertStringList(input, "limitaciones", 0); err != nil {
				return err
			}
		}
		if _, ok := input["prioridad"]; ok {
			return assertString(input, "prioridad", 0, 1000)
		}
		return nil
	case StepFormat:
		return assertEnum(input, []string{"formato"}, formatos, "formato")
	}
	return faults.Validationf("step no soportado")
}

// validateDirect checks a complete payload for the no-wizard entry point: the
// same field set the wizard would have accumulated.
func validateDirect(payload map[string]any) error {
	if err := assertEnum(payload, []string{"usuario", "tipoUsuario"}, tiposUsuario, "usuario"); err != nil {
		return err
	}
	if err := assertStringList(payload, "neurodiversidades", 1); err != nil {
		return err
	}
	if err := assertEnum(payload, []string{"formato", "formatoPreferido"}, formatos, "formato"); err != nil {
		return err
	}

	ctx, ok := payload["contexto"].(map[string]any)
	if !ok {
		ctx = map[string]any{
			"grado":     payload["grado"],
			"contenido": payload["contenidoTematico"],
			"tema":      payload["temaDetonador"],
			"sesiones":  payload["numeroSesiones"],
			"duracion":  payload["duracionSesion"],
		}
	}
	if err := validateContext(ctx); err != nil {
		return err
	}

	if v, ok := firstOf(payload, "sensibilidades", "sensibilidadesSensoriales"); ok {
		if err := assertStringList(map[string]any{"sensibilidades": v}, "sensibilidades", 0); err != nil {
			return err
		}
	}
	if _, ok := payload["entornos"]; ok {
		if err := assertStringList(payload, "entornos", 0); err != nil {
			return err
		}
	}
	if _, ok := payload["limitaciones"]; ok {
		if err := assertStringList(payload, "limitaciones", 0); err != nil {
			return err
		}
	}
	if v, ok := firstOf(payload, "prioridad", "prioridadUrgente"); ok {
		return assertString(map[string]any{"prioridad": v}, "prioridad", 0, 1000)
	}
	return nil
}

func validateContext(ctx map[string]any) error {
	for _, key := range []string{"grado", "contenido", "tema"} {
		if err := assertString(ctx, key, 1, 0); err != nil {
			return err
		}
	}
	for _, key := range []string{"sesiones", "duracion"} {
		if err := assertInt(ctx, key, 1); err != nil {
			return err
		}
	}
	return nil
}

func firstOf(data map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func assertEnum(data map[string]any, keys, allowed []string, label string) error {
	var val string
	for _, k := range keys {
		if s, ok := data[k].(string); ok && s != "" {
			val = s
			break
		}
	}
	if val == "" {
		return faults.Validationf("%s requerido", label)
	}
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return faults.Validationf("%s inválido (permitidos: %s)", label, strings.Join(allowed, ", "))
}

func assertStringList(data map[string]any, key string, minItems int) error {
	v, ok := data[key]
	if !ok {
		if minItems > 0 {
			return faults.Validationf("%s requerido", key)
		}
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return faults.Validationf("%s debe ser arreglo", key)
	}
	if len(list) < minItems {
		return faults.Validationf("%s requiere al menos %d elementos", key, minItems)
	}
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return faults.Validationf("%s[%d] debe ser string", key, i)
		}
		if strings.TrimSpace(s) == "" {
			return faults.Validationf("%s[%d] no puede estar vacío", key, i)
		}
	}
	return nil
}

func assertString(data map[string]any, key string, minLen, maxLen int) error {
	v, ok := data[key]
	if !ok || v == nil {
		return faults.Validationf("%s requerido", key)
	}
	s, ok := v.(string)
	if !ok {
		return faults.Validationf("%s debe ser string", key)
	}
	n := len([]rune(strings.TrimSpace(s)))
	if n < minLen {
		return faults.Validationf("%s debe tener al menos %d caracteres", key, minLen)
	}
	if maxLen > 0 && n > maxLen {
		return faults.Validationf("%s excede longitud máxima (%d)", key, maxLen)
	}
	return nil
}

func assertInt(data map[string]any, key string, min int) error {
	v, ok := data[key]
	if !ok || v == nil {
		return faults.Validationf("%s requerido", key)
	}
	n, err := toInt(v)
	if err != nil {
		return faults.Validationf("%s debe ser entero", key)
	}
	if n < min {
		return faults.Validationf("%s debe ser ≥ %d", key, min)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(t), nil
	case int:
		return t, nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	}
	return 0, fmt.Errorf("not an integer")
}
