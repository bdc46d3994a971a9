package usecase

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/totegamma/basedfeed/internal/domain"
)

// PostView is the state an OptimisticMutator edits in place.
type PostView interface {
	Patch(subjectID int64, fn func(*domain.Post) error) error
}

type editKey struct {
	subjectID int64
	field     domain.PostField
}

// OptimisticMutator shows local edits immediately and settles them once the
// corresponding remote write finishes. The latest edit of a (subject, field)
// pair wins; settling a superseded edit does nothing to the view.
type OptimisticMutator struct {
	view PostView

	mu      sync.Mutex
	edits   map[string]*domain.OptimisticEdit
	current map[editKey]string
}

func NewOptimisticMutator(view PostView) *OptimisticMutator {
	return &OptimisticMutator{
		view:    view,
		edits:   make(map[string]*domain.OptimisticEdit),
		current: make(map[editKey]string),
	}
}

// FieldChange is one field of an edit applied together with others.
type FieldChange struct {
	Field   domain.PostField
	Pending any
}

// Apply writes pending into the view and returns the edit handle.
func (m *OptimisticMutator) Apply(subjectID int64, field domain.PostField, pending any) (string, error) {
	ids, err := m.ApplyAll(subjectID, FieldChange{Field: field, Pending: pending})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// ApplyAll writes several fields of one post in a single view update, so no
// reader sees some of them changed and others not. It returns one edit
// handle per change, in order.
func (m *OptimisticMutator) ApplyAll(subjectID int64, changes ...FieldChange) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edits := make([]*domain.OptimisticEdit, len(changes))
	for i, c := range changes {
		edits[i] = &domain.OptimisticEdit{
			ID:           uuid.NewString(),
			SubjectID:    subjectID,
			Field:        c.Field,
			PendingValue: c.Pending,
			State:        domain.EditPending,
		}
	}

	err := m.view.Patch(subjectID, func(p *domain.Post) error {
		for i, edit := range edits {
			prev, err := p.Field(edit.Field)
			if err == nil {
				err = p.SetField(edit.Field, edit.PendingValue)
			}
			if err != nil {
				for j := i - 1; j >= 0; j-- {
					_ = p.SetField(edits[j].Field, edits[j].PreviousValue)
				}
				return err
			}
			edit.PreviousValue = prev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// a superseded edit stays addressable until settled but no longer owns the field
	ids := make([]string, len(edits))
	for i, edit := range edits {
		m.edits[edit.ID] = edit
		m.current[editKey{subjectID: subjectID, field: edit.Field}] = edit.ID
		ids[i] = edit.ID
	}
	return ids, nil
}

// Commit makes the edit permanent. The view is not touched.
func (m *OptimisticMutator) Commit(editID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edit, ok := m.edits[editID]
	if !ok {
		return domain.NotFoundError{Resource: fmt.Sprintf("edit %s", editID)}
	}
	edit.State = domain.EditCommitted
	m.release(edit)
	return nil
}

// Rollback restores the value the field had before the edit, unless a newer
// edit of the same field has superseded it.
func (m *OptimisticMutator) Rollback(editID string) error {
	return m.RollbackAll(editID)
}

// RollbackAll reverts several edits, one view update per post. A post that
// left the view has nothing to revert; its edits are released all the same.
func (m *OptimisticMutator) RollbackAll(editIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edits := make([]*domain.OptimisticEdit, 0, len(editIDs))
	for _, id := range editIDs {
		edit, ok := m.edits[id]
		if !ok {
			return domain.NotFoundError{Resource: fmt.Sprintf("edit %s", id)}
		}
		edits = append(edits, edit)
	}

	bySubject := make(map[int64][]*domain.OptimisticEdit)
	var subjects []int64
	for _, edit := range edits {
		if m.current[editKey{subjectID: edit.SubjectID, field: edit.Field}] != edit.ID {
			continue
		}
		if _, ok := bySubject[edit.SubjectID]; !ok {
			subjects = append(subjects, edit.SubjectID)
		}
		bySubject[edit.SubjectID] = append(bySubject[edit.SubjectID], edit)
	}

	for _, subjectID := range subjects {
		owned := bySubject[subjectID]
		err := m.view.Patch(subjectID, func(p *domain.Post) error {
			for i := len(owned) - 1; i >= 0; i-- {
				if err := p.SetField(owned[i].Field, owned[i].PreviousValue); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	for _, edit := range edits {
		edit.State = domain.EditRolledBack
		m.release(edit)
	}
	return nil
}

// Pending lists unsettled edits.
func (m *OptimisticMutator) Pending() []domain.OptimisticEdit {
	m.mu.Lock()
	defer m.mu.Unlock()

	edits := make([]domain.OptimisticEdit, 0, len(m.edits))
	for _, e := range m.edits {
		edits = append(edits, *e)
	}
	return edits
}

func (m *OptimisticMutator) release(edit *domain.OptimisticEdit) {
	delete(m.edits, edit.ID)
	key := editKey{subjectID: edit.SubjectID, field: edit.Field}
	if m.current[key] == edit.ID {
		delete(m.current, key)
	}
}
