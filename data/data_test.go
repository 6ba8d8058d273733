// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package data

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/driver/soft"
)

func TestArray(t *testing.T) {
	a := NewArray(make([]byte, 8), Dynamic)
	require.Equal(t, Dynamic, a.Variance())
	require.Equal(t, uint64(0), a.ModifiedCount())

	a.WriteAt([]byte{1, 2}, 6)
	require.Equal(t, uint64(1), a.ModifiedCount())
	a.Update(func(b []byte) { b[0] = 9 })
	require.Equal(t, uint64(2), a.ModifiedCount())

	dst := make([]byte, 8)
	n, cnt := a.ReadAt(dst, 0)
	require.Equal(t, 8, n)
	require.Equal(t, uint64(2), cnt)
	require.Equal(t, []byte{9, 0, 0, 0, 0, 0, 1, 2}, dst)

	require.Panics(t, func() { a.WriteAt([]byte{1}, 8) })
}

func TestBufferInfo(t *testing.T) {
	a := NewArray(make([]byte, 16), Dynamic)
	bi := NewBufferInfo(a)
	bi.Ref()
	require.Equal(t, 1, a.RefCount())
	require.Equal(t, int64(16), bi.Range)

	// Not compiled.
	a.Dirty()
	require.False(t, bi.RequiresCopy(0))

	gpu := soft.New()
	defer gpu.Close()
	buf, err := gpu.NewBuffer(16, false, driver.UCopyDst)
	require.NoError(t, err)
	bi.Buffer = buf
	require.True(t, bi.RequiresCopy(0))
	bi.SetCopiedCount(0, a.ModifiedCount())
	require.False(t, bi.RequiresCopy(0))
	require.True(t, bi.RequiresCopy(1))

	bi.Unref()
	require.True(t, a.Released())
}

func TestImageInfo(t *testing.T) {
	require.Panics(t, func() { NewImageInfo(NewArray(make([]byte, 3), Static), driver.RGBA8un, 1, 1) })
	a := NewArray(make([]byte, 16), DynamicLate)
	ii := NewImageInfo(a, driver.RGBA8un, 2, 2)
	ii.Ref()
	require.False(t, ii.RequiresCopy(0))
	ii.Unref()
	require.True(t, a.Released())
}
