package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndScanReverse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Insert out of order; fixed-width keys must scan chronologically.
	for _, ts := range []int64{1003, 1001, 1002, 999} {
		key := fmt.Sprintf("msg:%020d:m%d", ts, ts)
		require.NoError(t, s.Put(ctx, "general", key, []byte(fmt.Sprintf("v%d", ts))))
	}

	entries, err := s.ScanReverse(ctx, "general", "msg:", 10)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	require.Equal(t, []byte("v1003"), entries[0].Value)
	require.Equal(t, []byte("v999"), entries[3].Value)
}

func TestScanReverseLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("msg:%020d:m%d", 1000+i, i)
		require.NoError(t, s.Put(ctx, "general", key, []byte{byte(i)}))
	}
	entries, err := s.ScanReverse(ctx, "general", "msg:", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte{4}, entries[0].Value)
	require.Equal(t, []byte{3}, entries[1].Value)
}

func TestScanIsolatedPerRoomAndPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "general", "msg:001", []byte("a")))
	require.NoError(t, s.Put(ctx, "random", "msg:001", []byte("b")))
	require.NoError(t, s.Put(ctx, "general", "meta:001", []byte("c")))

	entries, err := s.ScanReverse(ctx, "general", "msg:", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, []byte("a"), entries[0].Value)
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "general", "msg:001", []byte("a")))
	require.NoError(t, s.Put(ctx, "general", "msg:002", []byte("b")))
	require.NoError(t, s.Put(ctx, "general", "meta:001", []byte("keep")))

	require.NoError(t, s.DeletePrefix(ctx, "general", "msg:"))

	entries, err := s.ScanReverse(ctx, "general", "msg:", 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	kept, err := s.ScanReverse(ctx, "general", "meta:", 10)
	require.NoError(t, err)
	require.Len(t, kept, 1)
}

func TestAlarmArmIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	got, err := s.Arm(ctx, "general", first)
	require.NoError(t, err)
	require.Equal(t, first.UnixMilli(), got.UnixMilli())

	// A second arming, e.g. after a restart, must not move the schedule.
	later := first.Add(time.Hour)
	got, err = s.Arm(ctx, "general", later)
	require.NoError(t, err)
	require.Equal(t, first.UnixMilli(), got.UnixMilli())
}

func TestAlarmReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Now().Add(time.Hour)
	_, err := s.Arm(ctx, "general", first)
	require.NoError(t, err)

	next := first.Add(time.Hour)
	require.NoError(t, s.Reset(ctx, "general", next))

	got, err := s.Arm(ctx, "general", first)
	require.NoError(t, err)
	require.Equal(t, next.UnixMilli(), got.UnixMilli())
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, "msg;", prefixEnd("msg:"))
	require.Equal(t, "b", prefixEnd("a"))
	require.Equal(t, "b", prefixEnd("a\xff"))
	// No string is greater than every key starting with 0xff bytes.
	require.Equal(t, "", prefixEnd("\xff"))
	require.Equal(t, "", prefixEnd("\xff\xff"))
	require.Equal(t, "", prefixEnd(""))
}

func TestScanAndDeleteUnboundedPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// Keys longer than the all-0xff prefix still fall under it.
	require.NoError(t, s.Put(ctx, "general", "\xff\xff\x01", []byte("a")))
	require.NoError(t, s.Put(ctx, "general", "\xff\xff\xff", []byte("b")))
	require.NoError(t, s.Put(ctx, "general", "msg:001", []byte("other")))

	entries, err := s.ScanReverse(ctx, "general", "\xff\xff", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].Value)
	require.Equal(t, []byte("a"), entries[1].Value)

	require.NoError(t, s.DeletePrefix(ctx, "general", "\xff\xff"))
	entries, err = s.ScanReverse(ctx, "general", "\xff\xff", 10)
	require.NoError(t, err)
	require.Empty(t, entries)

	kept, err := s.ScanReverse(ctx, "general", "msg:", 10)
	require.NoError(t, err)
	require.Len(t, kept, 1)
}
