package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snipekit/sniperbot/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.puts[path] = buf
	return nil
}

type fakeArchiveStore struct {
	positions []domain.Position
}

func (f *fakeArchiveStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	var out []domain.Position
	for _, p := range f.positions {
		if p.ClosedAt != nil && p.ClosedAt.Before(before) {
			out = append(out, p)
		}
	}
	return out, nil
}

func closedPosition(id string, closedAt time.Time) domain.Position {
	return domain.Position{
		ID:        id,
		SniperID:  "s1",
		WalletID:  "w1",
		TokenMint: "Mint" + id,
		Status:    domain.PositionStatusClosed,
		OpenedAt:  closedAt.Add(-time.Hour),
		ClosedAt:  &closedAt,
	}
}

func TestArchivePositionsWritesJSONL(t *testing.T) {
	cutoff := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeArchiveStore{positions: []domain.Position{
		closedPosition("p1", cutoff.Add(-48*time.Hour)),
		closedPosition("p2", cutoff.Add(-time.Hour)),
		closedPosition("p3", cutoff.Add(time.Hour)), // after cutoff, stays hot
	}}
	writer := &fakeWriter{}
	archiver := NewPositionArchiver(writer, store)

	count, err := archiver.ArchivePositions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	body, ok := writer.puts["archive/positions/2026-08.jsonl"]
	require.True(t, ok)

	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	require.Len(t, lines, 2)

	var first domain.Position
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, "p1", first.ID)
	assert.Equal(t, domain.PositionStatusClosed, first.Status)
}

func TestArchivePositionsNothingToExport(t *testing.T) {
	writer := &fakeWriter{}
	archiver := NewPositionArchiver(writer, &fakeArchiveStore{})

	count, err := archiver.ArchivePositions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)
}
