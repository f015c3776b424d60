package neuroplan

// Step is one stage of the wizard. Wire values follow the legacy protocol:
// 1..6 for the linear steps and 35 for the teacher-context branch (the old
// deployment used a fractional "3.5" marker; clients send 35 or 3.5 and both
// parse to StepTeacherContext).
type Step int

const (
	StepNone           Step = 0
	StepUserType       Step = 1
	StepNeurodiversity Step = 2
	StepMenuOption     Step = 3
	StepTeacherContext Step = 35
	StepSensitivities  Step = 4
	StepPersonal       Step = 5
	StepFormat         Step = 6
)

// ParseStep accepts the wire encodings of a step number (JSON numbers decode
// as float64; 3.5 and 35 both mean the branch step).
func ParseStep(v any) (Step, bool) {
	n, ok := v.(float64)
	if !ok {
		if i, isInt := v.(int); isInt {
			n = float64(i)
		} else {
			return StepNone, false
		}
	}
	switch n {
	case 1:
		return StepUserType, true
	case 2:
		return StepNeurodiversity, true
	case 3:
		return StepMenuOption, true
	case 3.5, 35:
		return StepTeacherContext, true
	case 4:
		return StepSensitivities, true
	case 5:
		return StepPersonal, true
	case 6:
		return StepFormat, true
	}
	return StepNone, false
}

// Wire returns the protocol value clients see (35 for the branch step, 0 for
// "nothing left, generate").
func (s Step) Wire() int { return int(s) }

// Next returns the step that follows s given the session's accumulated data.
// The order is linear except after the menu step: a docente who chose crear
// detours through the teacher-context step before rejoining at
// sensibilidades.
func Next(s Step, data map[string]any) Step {
	switch s {
	case StepNone:
		return StepUserType
	case StepUserType:
		return StepNeurodiversity
	case StepNeurodiversity:
		return StepMenuOption
	case StepMenuOption:
		usuario, _ := data["usuario"].(string)
		opcion, _ := data["opcionMenu"].(string)
		if usuario == "docente" && opcion == "crear" {
			return StepTeacherContext
		}
		return StepSensitivities
	case StepTeacherContext:
		return StepSensitivities
	case StepSensitivities:
		return StepPersonal
	case StepPersonal:
		return StepFormat
	}
	return StepNone
}
