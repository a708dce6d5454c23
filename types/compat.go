package types

import "fmt"

// IsCompatible reports whether an entity of type actual may satisfy an import
// declared as expected. The relation is reflexive and transitive but not
// symmetric: a memory with a larger minimum satisfies a smaller one, not the
// other way round.
func IsCompatible(expected, actual ExternType) bool {
	if expected == nil || actual == nil {
		return false
	}
	switch e := expected.(type) {
	case *FunctionType:
		a, ok := actual.(*FunctionType)
		return ok && e.Equal(a)
	case MemoryType:
		a, ok := actual.(MemoryType)
		return ok && e.Shared == a.Shared && limitsCompatible(e.Min, e.Max, e.HasMax, a.Min, a.Max, a.HasMax)
	case TableType:
		a, ok := actual.(TableType)
		return ok && e.Element == a.Element && limitsCompatible(e.Min, e.Max, e.HasMax, a.Min, a.Max, a.HasMax)
	case GlobalType:
		a, ok := actual.(GlobalType)
		return ok && e.Type == a.Type && e.Mutable == a.Mutable
	default:
		return false
	}
}

func limitsCompatible(eMin, eMax uint32, eHasMax bool, aMin, aMax uint32, aHasMax bool) bool {
	if aMin < eMin {
		return false
	}
	if !eHasMax {
		return true
	}
	return aHasMax && aMax <= eMax
}

// LimitsError reports an invalid memory or table type.
type LimitsError struct {
	Entity string
	Detail string
}

func (e *LimitsError) Error() string {
	return "invalid " + e.Entity + " type: " + e.Detail
}

func validateLimits(entity string, minimum, maximum uint32, hasMax bool, ceiling uint32) error {
	if hasMax && minimum > maximum {
		return &LimitsError{Entity: entity, Detail: fmt.Sprintf("minimum %d exceeds maximum %d", minimum, maximum)}
	}
	if minimum > ceiling {
		return &LimitsError{Entity: entity, Detail: fmt.Sprintf("minimum %d exceeds limit %d", minimum, ceiling)}
	}
	if hasMax && maximum > ceiling {
		return &LimitsError{Entity: entity, Detail: fmt.Sprintf("maximum %d exceeds limit %d", maximum, ceiling)}
	}
	return nil
}

func limitsString(minimum, maximum uint32, hasMax bool) string {
	if hasMax {
		return fmt.Sprintf("[%d..%d]", minimum, maximum)
	}
	return fmt.Sprintf("[%d..]", minimum)
}
