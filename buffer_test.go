package clmtl

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/clmtl/device"
)

func TestMemFlagsStorage(t *testing.T) {
	tests := []struct {
		name    string
		flags   MemFlags
		storage device.StorageMode
		cache   device.CPUCacheMode
	}{
		{"default", MemReadWrite, device.StorageShared, device.CPUCacheDefault},
		{"host write only", MemReadOnly | MemHostWriteOnly, device.StorageShared, device.CPUCacheWriteCombined},
		{"host read only", MemWriteOnly | MemHostReadOnly, device.StorageShared, device.CPUCacheDefault},
		{"no host access", MemReadWrite | MemHostNoAccess, device.StoragePrivate, device.CPUCacheDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.flags.resourceOptions()
			assert.Equal(t, tt.storage, opts.Storage)
			assert.Equal(t, tt.cache, opts.Cache)
		})
	}
}

func TestMemFlagsConflicts(t *testing.T) {
	for _, f := range []MemFlags{
		MemReadOnly | MemWriteOnly,
		MemHostNoAccess | MemHostReadOnly,
		MemUseHostPtr | MemAllocHostPtr,
	} {
		assert.ErrorIs(t, f.validate(), ErrInvalidArgument, "flags %#x", uint32(f))
	}
}

func TestBufferRejectsZeroSize(t *testing.T) {
	ctx := testContext(t, nil)
	_, err := NewBuffer(ctx, MemReadWrite, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSubBufferAliasesParentHeap(t *testing.T) {
	ctx := testContext(t, nil)
	parent := newBuffer(t, ctx, MemReadWrite, 4096)

	sub, err := parent.CreateSubBuffer(0, 1024, 512)
	require.NoError(t, err)
	defer sub.Release()

	assert.Same(t, parent.Heap(), sub.Heap())
	assert.Equal(t, uint64(512), sub.Size())
	assert.Equal(t, uint64(1024), sub.Offset())
	assert.Same(t, parent, sub.Parent())

	pm := parent.Map()
	sm := sub.Map()
	require.NotNil(t, pm)
	require.NotNil(t, sm)
	sm[0] = 0xAB
	assert.Equal(t, byte(0xAB), pm[1024])
	parent.Unmap()
	sub.Unmap()

	stats := ctx.MemoryStats()
	assert.Equal(t, int64(1), stats.Buffers, "sub-buffers own no heap")
	assert.Equal(t, uint64(4096), stats.HeapBytes)
}

func TestSubBufferOutOfRange(t *testing.T) {
	ctx := testContext(t, nil)
	parent := newBuffer(t, ctx, MemReadWrite, 1024)

	for _, r := range []struct{ offset, size uint64 }{
		{1024, 1},
		{1000, 100},
		{0, 2048},
		{0, 0},
	} {
		_, err := parent.CreateSubBuffer(0, r.offset, r.size)
		assert.ErrorIs(t, err, ErrAllocationFailure, "offset %d size %d", r.offset, r.size)
	}

	sub, err := parent.CreateSubBuffer(0, 0, 16)
	require.NoError(t, err)
	_, err = sub.CreateSubBuffer(0, 0, 8)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSubBufferInvalidAfterParentRelease(t *testing.T) {
	ctx := testContext(t, nil)
	parent, err := NewBuffer(ctx, MemReadWrite, 256)
	require.NoError(t, err)
	sub, err := parent.CreateSubBuffer(0, 0, 64)
	require.NoError(t, err)

	parent.Release()
	q := testQueue(t, ctx)
	_, err = q.EnqueueWriteBuffer(sub, true, 0, make([]byte, 8))
	assert.ErrorIs(t, err, ErrReleased)
}

func TestMapCountNeverNegative(t *testing.T) {
	ctx := testContext(t, nil)
	b := newBuffer(t, ctx, MemReadWrite, 64)

	b.Unmap()
	assert.Equal(t, 0, b.MapCount())

	require.NotNil(t, b.Map())
	require.NotNil(t, b.Map())
	assert.Equal(t, 2, b.MapCount())
	b.Unmap()
	b.Unmap()
	b.Unmap()
	assert.Equal(t, 0, b.MapCount())
}

func TestMapPrivateBuffer(t *testing.T) {
	ctx := testContext(t, nil)
	b := newBuffer(t, ctx, MemReadWrite|MemHostNoAccess, 64)

	assert.Nil(t, b.Map())
	assert.Equal(t, 0, b.MapCount())
}

func TestWriteFlushWaitIdleMap(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite, 1024)

	data := make([]byte, 1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	ev, err := q.EnqueueWriteBuffer(b, false, 0, data)
	require.NoError(t, err)
	require.NoError(t, q.Flush())
	require.NoError(t, q.WaitIdle())

	assert.Equal(t, EventComplete, ev.Status())
	got := b.Map()
	defer b.Unmap()
	assert.True(t, bytes.Equal(data, got))
}

func TestWaitIdleWhenEmpty(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	require.NoError(t, q.WaitIdle())
	require.NoError(t, q.Flush())
	require.NoError(t, q.Finish())
}

func TestPrivateBufferRoundTrip(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite|MemHostNoAccess, 256)

	data := bytes.Repeat([]byte{1, 2, 3, 4}, 32)
	_, err := q.EnqueueWriteBuffer(b, true, 64, data)
	require.NoError(t, err)

	out := make([]byte, len(data))
	ev, err := q.EnqueueReadBuffer(b, false, 64, out)
	require.NoError(t, err)
	ev.Wait()
	assert.Equal(t, data, out)
}

func TestBlockingReadHostVisible(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite, 16)

	_, err := q.EnqueueWriteBuffer(b, false, 0, []byte("0123456789abcdef"))
	require.NoError(t, err)

	out := make([]byte, 6)
	ev, err := q.EnqueueReadBuffer(b, true, 10, out)
	require.NoError(t, err)
	assert.Equal(t, EventComplete, ev.Status())
	assert.Equal(t, "abcdef", string(out))
}

func TestTransferBounds(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite, 16)

	_, err := q.EnqueueWriteBuffer(b, false, 8, make([]byte, 16))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueReadBuffer(b, false, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCopyBuffer(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	src := newBuffer(t, ctx, MemReadWrite, 64)
	dst := newBuffer(t, ctx, MemReadWrite|MemHostNoAccess, 64)

	_, err := q.EnqueueWriteBuffer(src, false, 0, bytes.Repeat([]byte{9}, 64))
	require.NoError(t, err)
	_, err = q.EnqueueCopyBuffer(src, dst, 0, 32, 32)
	require.NoError(t, err)

	out := make([]byte, 64)
	_, err = q.EnqueueReadBuffer(dst, true, 0, out)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), out[:32])
	assert.Equal(t, bytes.Repeat([]byte{9}, 32), out[32:])
}

func TestCopyBufferOverlap(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite, 64)
	sub, err := b.CreateSubBuffer(0, 16, 32)
	require.NoError(t, err)

	_, err = q.EnqueueCopyBuffer(b, sub, 0, 0, 32)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueCopyBuffer(b, b, 0, 32, 32)
	require.NoError(t, err)
}

func TestReleaseWithPendingCommands(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	src, err := NewBuffer(ctx, MemReadWrite|MemHostNoAccess, 32)
	require.NoError(t, err)
	dst := newBuffer(t, ctx, MemReadWrite, 32)

	_, err = q.EnqueueFillBuffer(src, []byte{1, 2, 3, 4}, 0, 32)
	require.NoError(t, err)
	ev, err := q.EnqueueCopyBuffer(src, dst, 0, 0, 32)
	require.NoError(t, err)

	src.Release()
	assert.Equal(t, int64(1), ctx.MemoryStats().Buffers)
	require.NoError(t, q.Finish())
	assert.Equal(t, EventComplete, ev.Status())

	got := dst.Map()
	defer dst.Unmap()
	assert.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 8), got)

	_, err = q.EnqueueCopyBuffer(src, dst, 0, 0, 4)
	assert.ErrorIs(t, err, ErrReleased)
}

func TestReleaseParentWithPendingSubBufferCommand(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	parent, err := NewBuffer(ctx, MemReadWrite, 64)
	require.NoError(t, err)
	sub, err := parent.CreateSubBuffer(0, 32, 32)
	require.NoError(t, err)

	_, err = q.EnqueueFillBuffer(sub, []byte{5}, 0, 32)
	require.NoError(t, err)
	out := make([]byte, 32)
	ev, err := q.EnqueueReadBuffer(sub, false, 0, out)
	require.NoError(t, err)

	sub.Release()
	parent.Release()
	require.NoError(t, q.Finish())
	ev.Wait()
	assert.Equal(t, bytes.Repeat([]byte{5}, 32), out)
}

func TestFillBuffer(t *testing.T) {
	ctx := testContext(t, nil)
	q := testQueue(t, ctx)
	b := newBuffer(t, ctx, MemReadWrite, 32)

	_, err := q.EnqueueFillBuffer(b, []byte{7}, 0, 16)
	require.NoError(t, err)
	_, err = q.EnqueueFillBuffer(b, []byte{1, 2, 3, 4}, 16, 16)
	require.NoError(t, err)
	require.NoError(t, q.Finish())

	got := b.Map()
	defer b.Unmap()
	assert.Equal(t, bytes.Repeat([]byte{7}, 16), got[:16])
	assert.Equal(t, bytes.Repeat([]byte{1, 2, 3, 4}, 4), got[16:])

	_, err = q.EnqueueFillBuffer(b, []byte{1, 2, 3}, 0, 3)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = q.EnqueueFillBuffer(b, []byte{1, 2}, 1, 4)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryStatsString(t *testing.T) {
	s := MemoryStats{Buffers: 2, HeapBytes: 2048, Images: 1, ImageBytes: 4096}
	assert.Contains(t, s.String(), "2.0 KiB")
	assert.Contains(t, s.String(), "4.0 KiB")
}
