package domain

type EditState int

const (
	EditPending EditState = iota
	EditCommitted
	EditRolledBack
)

func (s EditState) String() string {
	switch s {
	case EditPending:
		return "pending"
	case EditCommitted:
		return "committed"
	case EditRolledBack:
		return "rolledBack"
	default:
		return "unknown"
	}
}

// OptimisticEdit is a local change shown before the remote write settles.
type OptimisticEdit struct {
	ID            string    `json:"id"`
	SubjectID     int64     `json:"subjectId"`
	Field         PostField `json:"field"`
	PreviousValue any       `json:"previousValue"`
	PendingValue  any       `json:"pendingValue"`
	State         EditState `json:"state"`
}
