// Package mapper is the pure translation layer between the local task
// representation and the remote wire representation. It performs no I/O.
package mapper

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"tasksync/internal/config"
	"tasksync/internal/model"
	"tasksync/internal/remote"
)

// MappingError reports a per-task data shape problem. It is non-fatal to
// a batch: the reconciler records it and moves on.
type MappingError struct {
	Field string
	Err   error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: %v", e.Field, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// Mapper holds the immutable translation tables. Construct once at
// startup; never mutated afterwards.
type Mapper struct {
	statusFromRaw map[string]model.Status // lowercased raw -> normalized
	statusToRaw   map[model.Status]string // normalized -> canonical raw
	priorityOut   map[int]int             // normalized -> remote
	priorityIn    map[int]int             // remote -> normalized
	fieldIDs      map[string]map[string]string // list id -> lowercased name -> field id
	logger        *zap.Logger
}

func defaultStatusMap() map[string]string {
	return map[string]string{
		"to do":       string(model.StatusTodo),
		"in progress": string(model.StatusInProgress),
		"complete":    string(model.StatusComplete),
	}
}

func New(cfg config.MappingConfig, logger *zap.Logger) *Mapper {
	statusMap := cfg.StatusMap
	if len(statusMap) == 0 {
		statusMap = defaultStatusMap()
	}

	m := &Mapper{
		statusFromRaw: make(map[string]model.Status, len(statusMap)),
		statusToRaw:   make(map[model.Status]string, len(statusMap)),
		priorityOut:   make(map[int]int, len(cfg.PriorityMap)),
		priorityIn:    make(map[int]int, len(cfg.PriorityMap)),
		fieldIDs:      make(map[string]map[string]string, len(cfg.CustomFields)),
		logger:        logger,
	}

	// Sorted iteration so the inverse table is deterministic when two
	// raw strings map to the same normalized status.
	raws := make([]string, 0, len(statusMap))
	for raw := range statusMap {
		raws = append(raws, raw)
	}
	sort.Strings(raws)
	for _, raw := range raws {
		norm := model.Status(statusMap[raw])
		m.statusFromRaw[strings.ToLower(raw)] = norm
		if _, taken := m.statusToRaw[norm]; !taken {
			m.statusToRaw[norm] = raw
		}
	}

	for norm, rem := range cfg.PriorityMap {
		m.priorityOut[norm] = rem
		m.priorityIn[rem] = norm
	}

	for listID, fields := range cfg.CustomFields {
		lowered := make(map[string]string, len(fields))
		for name, id := range fields {
			lowered[strings.ToLower(name)] = id
		}
		m.fieldIDs[listID] = lowered
	}

	return m
}

// ToRemote converts a local task into the remote wire payload. Fails with
// *MappingError only when a due value is present but not representable as
// an integer instant.
func (m *Mapper) ToRemote(t model.Task) (remote.Payload, error) {
	p := remote.Payload{
		Name:        t.Name,
		Description: t.Description,
	}

	switch {
	case t.Status == model.StatusOther:
		p.Status = t.StatusRaw
	case t.Status != "":
		p.Status = m.statusToRaw[t.Status]
	}

	if t.Priority != 0 {
		if rem, ok := m.priorityOut[t.Priority]; ok {
			p.Priority = rem
		} else {
			p.Priority = t.Priority
		}
	}

	switch {
	case t.DueAt != 0:
		due := t.DueAt
		p.DueDate = &due
	case t.DueRaw != "":
		due, err := ParseInstant(t.DueRaw)
		if err != nil {
			return remote.Payload{}, &MappingError{Field: "due_at", Err: err}
		}
		p.DueDate = &due
	}

	if t.AssigneeRef != "" {
		p.Assignees = []string{t.AssigneeRef}
	}

	for _, cf := range t.CustomFields {
		id := m.fieldID(t.ListID, cf.Name)
		if id == "" {
			m.logger.Debug("Dropping custom field with no remote id",
				zap.String("list_id", t.ListID),
				zap.String("field", cf.Name),
			)
			continue
		}
		p.CustomFields = append(p.CustomFields, remote.CustomFieldValue{ID: id, Value: cf.Value})
	}

	return p, nil
}

// FromRemote converts a remote record into a local task shape. It never
// fails: unmapped status strings land in StatusOther with the raw value
// retained.
func (m *Mapper) FromRemote(rec remote.Record) model.Task {
	t := model.Task{
		RemoteID:    rec.ID,
		Name:        rec.Name,
		Description: rec.Description,
	}

	if rec.Status != "" {
		if norm, ok := m.statusFromRaw[strings.ToLower(rec.Status)]; ok {
			t.Status = norm
		} else {
			t.Status = model.StatusOther
			t.StatusRaw = rec.Status
		}
	}

	if rec.Priority != 0 {
		if norm, ok := m.priorityIn[rec.Priority]; ok {
			t.Priority = norm
		} else {
			t.Priority = rec.Priority
		}
	}

	if rec.DueDate != nil {
		t.DueAt = *rec.DueDate
	}

	if len(rec.Assignees) > 0 {
		t.AssigneeRef = rec.Assignees[0]
	}

	for _, f := range rec.CustomFields {
		name := f.Name
		if name == "" {
			name = f.ID
		}
		t.CustomFields = append(t.CustomFields, model.CustomField{Name: name, Value: f.Value})
	}

	return t
}

func (m *Mapper) fieldID(listID, name string) string {
	fields, ok := m.fieldIDs[listID]
	if !ok {
		return ""
	}
	return fields[strings.ToLower(name)]
}
