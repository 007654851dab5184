package identity

import "telechat/tools/errs"

// Class selects which profile collection and permission rules apply to an
// identity. The three classes share no behavior, only a display projection,
// so they stay a tagged value, not a type hierarchy.
type Class string

const (
	ClassPatient      Class = "patient"
	ClassPractitioner Class = "practitioner"
	ClassOperator     Class = "operator"
)

func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassPatient, ClassPractitioner, ClassOperator:
		return Class(s), nil
	default:
		return "", errs.ErrValidation.WithDetail("unknown identity class: " + s)
	}
}

func (c Class) Valid() bool {
	_, err := ParseClass(string(c))
	return err == nil
}

func (c Class) String() string { return string(c) }

// Ref is the weak reference used everywhere a participant, sender or reader
// is recorded: an id plus the class needed to resolve it.
type Ref struct {
	ID    string `bson:"identity_id" json:"identityId"`
	Class Class  `bson:"class" json:"class"`
}
