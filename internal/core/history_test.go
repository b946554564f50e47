package core

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avdeyev/parley/internal/domain"
)

func testMessage(i int, ts int64) domain.Message {
	return domain.Message{
		MessageID: fmt.Sprintf("m%03d", i),
		UserID:    "u1",
		Username:  "alice",
		Content:   fmt.Sprintf("message %d", i),
		Timestamp: ts,
	}
}

func TestHistoryCapEvictsOldestInMemoryOnly(t *testing.T) {
	ctx := context.Background()
	fl := newFakeLog()
	h := newHistory("general", fl, 3)

	for i := 0; i < 5; i++ {
		h.Append(ctx, testMessage(i, int64(1000+i)))
	}

	recent := h.Recent()
	require.Len(t, recent, 3)
	require.Equal(t, "message 2", recent[0].Content)
	require.Equal(t, "message 4", recent[2].Content)

	// Durable copies of entries evicted from memory stay until the sweep.
	require.Equal(t, 5, fl.count("general"))
}

func TestHistoryRehydrateRoundTrip(t *testing.T) {
	ctx := context.Background()
	fl := newFakeLog()

	h := newHistory("general", fl, 10)
	for i := 0; i < 4; i++ {
		h.Append(ctx, testMessage(i, int64(1000+i)))
	}

	// Fresh instance over the same log, as after a process restart.
	h2 := newHistory("general", fl, 10)
	require.NoError(t, h2.Rehydrate(ctx))

	recent := h2.Recent()
	require.Len(t, recent, 4)
	for i := 1; i < len(recent); i++ {
		require.Less(t, recent[i-1].Timestamp, recent[i].Timestamp)
	}
	require.Equal(t, h.Recent(), recent)
}

func TestHistoryRehydrateLimitedToCap(t *testing.T) {
	ctx := context.Background()
	fl := newFakeLog()

	h := newHistory("general", fl, 10)
	for i := 0; i < 8; i++ {
		h.Append(ctx, testMessage(i, int64(1000+i)))
	}

	h2 := newHistory("general", fl, 3)
	require.NoError(t, h2.Rehydrate(ctx))

	recent := h2.Recent()
	require.Len(t, recent, 3)
	// The newest three, ascending.
	require.Equal(t, "message 5", recent[0].Content)
	require.Equal(t, "message 7", recent[2].Content)
}

func TestHistoryAppendSurvivesPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	fl := newFakeLog()
	fl.failPuts = true
	h := newHistory("general", fl, 10)

	h.Append(ctx, testMessage(0, 1000))

	// The live view keeps the message even though it will not survive a
	// restart.
	require.Len(t, h.Recent(), 1)
	require.Equal(t, 0, fl.count("general"))
}

func TestHistoryTruncate(t *testing.T) {
	ctx := context.Background()
	fl := newFakeLog()
	h := newHistory("general", fl, 10)

	for i := 0; i < 3; i++ {
		h.Append(ctx, testMessage(i, int64(1000+i)))
	}
	require.NoError(t, h.Truncate(ctx))
	require.Empty(t, h.Recent())
	require.Equal(t, 0, fl.count("general"))
}

func TestMsgKeyFixedWidthOrdering(t *testing.T) {
	// Lexicographic order must equal chronological order even across digit
	// count boundaries.
	require.Less(t, msgKey(999, "a"), msgKey(1000, "a"))
	require.Less(t, msgKey(1000, "a"), msgKey(10000, "a"))
	require.Less(t, msgKey(1000, "a"), msgKey(1000, "b"))
}
