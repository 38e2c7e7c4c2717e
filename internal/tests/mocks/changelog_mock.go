package mocks

import (
	"context"

	"narraweave/internal/services"
)

type ChangeLogMock struct {
	RecordFunc func(ctx context.Context, entry services.ChangeEntry) (string, error)
	Entries    []services.ChangeEntry
}

func (m *ChangeLogMock) Record(ctx context.Context, entry services.ChangeEntry) (string, error) {
	m.Entries = append(m.Entries, entry)
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, entry)
	}
	return "", nil
}
