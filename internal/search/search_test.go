package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalicmd"
)

type recordingSender struct {
	calls []dalicmd.Special
}

func (r *recordingSender) SendSpecial(cmd dalicmd.Special, param byte) error {
	r.calls = append(r.calls, cmd)
	return nil
}

func TestFirstSendAlwaysTransmitsAllThreeBytes(t *testing.T) {
	rec := &recordingSender{}
	s := New(rec)

	require.NoError(t, s.Send(0x123456))
	assert.Equal(t, []dalicmd.Special{dalicmd.SearchAddrL, dalicmd.SearchAddrM, dalicmd.SearchAddrH}, rec.calls)
}

func TestSecondSendOnlyRetransmitsChangedBytes(t *testing.T) {
	rec := &recordingSender{}
	s := New(rec)
	require.NoError(t, s.Send(0x123456))
	rec.calls = nil

	// Only the low byte changes (0x56 -> 0x57).
	require.NoError(t, s.Send(0x123457))
	assert.Equal(t, []dalicmd.Special{dalicmd.SearchAddrL}, rec.calls)
}

func TestResetForcesFullRetransmit(t *testing.T) {
	rec := &recordingSender{}
	s := New(rec)
	require.NoError(t, s.Send(0x123456))
	s.Reset()
	rec.calls = nil

	require.NoError(t, s.Send(0x123456))
	assert.Len(t, rec.calls, 3)
}

// TestDiffPropertyMatchesChangedByteCount is the §8 property: send(x) then
// send(y) issues exactly one command per byte position that differs.
func TestDiffPropertyMatchesChangedByteCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint32Range(0, 0xFFFFFF).Draw(t, "x")
		y := rapid.Uint32Range(0, 0xFFFFFF).Draw(t, "y")

		rec := &recordingSender{}
		s := New(rec)
		require.NoError(t, s.Send(x))
		rec.calls = nil

		require.NoError(t, s.Send(y))

		want := 0
		if byte(x) != byte(y) {
			want++
		}
		if byte(x>>8) != byte(y>>8) {
			want++
		}
		if byte(x>>16) != byte(y>>16) {
			want++
		}
		assert.Len(t, rec.calls, want)
	})
}
