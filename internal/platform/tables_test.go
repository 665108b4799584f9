package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/affinity/internal/errdefs"
	"github.com/loykin/affinity/internal/profile"
)

func TestNiceTableRoundTrip(t *testing.T) {
	want := map[profile.Priority]int{
		profile.Idle:        19,
		profile.BelowNormal: 10,
		profile.Normal:      0,
		profile.AboveNormal: -5,
		profile.High:        -10,
		profile.Realtime:    -20,
	}
	for p, nice := range want {
		assert.Equal(t, nice, NiceValue(p), p.String())
		back, err := PriorityFromNice(nice)
		require.NoError(t, err)
		assert.Equal(t, p, back)
	}
}

func TestPriorityFromNiceUnknown(t *testing.T) {
	_, err := PriorityFromNice(3)
	require.Error(t, err)
	assert.Equal(t, errdefs.System, errdefs.KindOf(err))
}

func TestBuildMask(t *testing.T) {
	mask, err := BuildMask([]int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5), mask)
	assert.Equal(t, "0x5", FormatMask(mask))

	mask, err = BuildMask([]int{63})
	require.NoError(t, err)
	assert.Equal(t, uint64(1)<<63, mask)

	mask, err = BuildMask(nil)
	require.NoError(t, err)
	assert.Zero(t, mask)
}

func TestBuildMaskRejectsWideCores(t *testing.T) {
	_, err := BuildMask([]int{0, 64})
	require.Error(t, err)
	assert.Equal(t, errdefs.UnsupportedCoreCount, errdefs.KindOf(err))

	_, err = BuildMask([]int{-1})
	assert.Equal(t, errdefs.UnsupportedCoreCount, errdefs.KindOf(err))
}

func TestMaskCores(t *testing.T) {
	assert.Equal(t, []int{0, 2, 5}, MaskCores(0x25))
	assert.Empty(t, MaskCores(0))
}

func TestExistingCores(t *testing.T) {
	assert.Equal(t, []int{3, 0, 1}, ExistingCores([]int{3, 99, 0, 1, 8}, 8))
	assert.Equal(t, []int{5, 99}, ExistingCores([]int{5, 99}, 0))
	assert.Empty(t, ExistingCores([]int{8, 9}, 8))
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "pid:42", NewHandle(42, "", timeZero, nil).String())
	assert.Equal(t, "game(pid:7)", NewHandle(7, "game", timeZero, nil).String())
}

func TestHandleReaped(t *testing.T) {
	done := make(chan struct{})
	h := NewHandle(1, "x", timeZero, done)
	assert.False(t, h.Reaped())
	close(done)
	assert.True(t, h.Reaped())
	assert.False(t, NewHandle(1, "x", timeZero, nil).Reaped())
}

func TestHostCores(t *testing.T) {
	assert.Greater(t, HostCores(), 0)
}

var timeZero time.Time
