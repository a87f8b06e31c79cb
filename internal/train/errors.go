package train

import "fmt"

// MalformedTrainError reports a validation failure during train set
// construction: non-monotonic or duplicate timestamps within a unit, or a
// negative frame index.
type MalformedTrainError struct {
	SetName string
	UnitID  string
	Index   int    // Index of the offending event within the unit
	Reason  string // Short description, e.g. "duplicate frame"
}

func (e *MalformedTrainError) Error() string {
	return fmt.Sprintf("malformed train in set %q, unit %q at event %d: %s",
		e.SetName, e.UnitID, e.Index, e.Reason)
}

// InvalidUnitError reports a reference to a unit ID not present in a set.
type InvalidUnitError struct {
	SetName string
	UnitID  string
}

func (e *InvalidUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q in set %q", e.UnitID, e.SetName)
}
