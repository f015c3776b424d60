package neuroplan

import "fmt"

// BuildPlan turns accumulated session data (or a direct payload) into the
// plan structure. Pure field remapping and defaulting, no external calls.
// Accepts the wizard's field names and the legacy flat spellings.
func BuildPlan(p map[string]any) map[string]any {
	usuario := firstString(p, "usuario", "tipoUsuario")
	if usuario == "" {
		usuario = "desconocido"
	}
	formato := firstString(p, "formato", "formatoPreferido")
	if formato == "" {
		formato = "practico"
	}
	nds := firstList(p, "neurodiversidades", "nds")

	ctx, ok := p["contexto"].(map[string]any)
	if !ok {
		ctx = map[string]any{
			"grado":     p["grado"],
			"contenido": p["contenidoTematico"],
			"tema":      p["temaDetonador"],
			"sesiones":  p["numeroSesiones"],
			"duracion":  p["duracionSesion"],
		}
	}

	ajustes := map[string]any{
		"sensorial":    firstList(p, "sensibilidades", "sensibilidadesSensoriales"),
		"entornos":     firstList(p, "entornos"),
		"limitaciones": firstList(p, "limitaciones"),
		"prioridad":    firstValue(p, "prioridad", "prioridadUrgente"),
	}

	tiempo := "Flexible (con pausas)"
	if d := ctx["duracion"]; d != nil {
		if n, err := toInt(d); err == nil && n > 0 {
			tiempo = fmt.Sprintf("%d min por sesión", n)
		}
	}

	return map[string]any{
		"titulo":            "NeuroPlan 360",
		"usuario":           usuario,
		"neurodiversidades": nds,
		"formato":           formato,
		"contexto":          ctx,
		"ajustes":           ajustes,
		"implementacion": map[string]any{
			"objetivo": "Objetivo ND adaptado al contexto y sensibilidades.",
			"materiales": []any{
				"Apoyos visuales (pictogramas/códigos de color)",
				"Herramientas sensoriales (ruido/luz/textura)",
				"Instrucciones paso a paso",
			},
			"pasos": []any{
				"Preparar entorno y apoyos",
				"Explicar con multimodalidad (visual/auditiva/kinestésica)",
				"Permitir pausas y autorregulación",
			},
			"evaluacion": "Checklist breve + observación formativa.",
			"tiempo":     tiempo,
		},
	}
}

func firstString(p map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := p[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func firstValue(p map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := p[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstList(p map[string]any, keys ...string) []any {
	for _, k := range keys {
		if l, ok := p[k].([]any); ok {
			return l
		}
	}
	return []any{}
}
