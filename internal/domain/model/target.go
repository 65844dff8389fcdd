package model

// TargetKind tags how a scanned input identifies a booth.
type TargetKind int

const (
	TargetUnrecognized TargetKind = iota
	TargetBoothID
	TargetBoothCode
)

func (k TargetKind) String() string {
	switch k {
	case TargetBoothID:
		return "booth_id"
	case TargetBoothCode:
		return "booth_code"
	default:
		return "unrecognized"
	}
}

// Target is the canonical booth reference produced by the resolver.
// Exactly one of BoothID or BoothCode is meaningful, selected by Kind.
type Target struct {
	Kind  TargetKind
	Value string
}

// ByBoothID builds a Target referencing a booth by id.
func ByBoothID(id string) Target { return Target{Kind: TargetBoothID, Value: id} }

// ByBoothCode builds a Target referencing a booth by its scannable code.
func ByBoothCode(code string) Target { return Target{Kind: TargetBoothCode, Value: code} }

// BoothID returns the id when the target is id-based.
func (t Target) BoothID() string {
	if t.Kind == TargetBoothID {
		return t.Value
	}
	return ""
}

// BoothCode returns the code when the target is code-based.
func (t Target) BoothCode() string {
	if t.Kind == TargetBoothCode {
		return t.Value
	}
	return ""
}

// IsZero reports whether the target carries no reference.
func (t Target) IsZero() bool {
	return t.Kind == TargetUnrecognized || t.Value == ""
}
