// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver"
	"github.com/gviegas/sgraph/driver/soft"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/metrics"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/record"
	"github.com/gviegas/sgraph/sgio"
	"github.com/gviegas/sgraph/transfer"
)

func writeFile(t *testing.T, name, s string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(s), 0o644))
	return path
}

func TestConfig(t *testing.T) {
	dfl := DefaultConfig()
	require.NoError(t, dfl.Validate())
	require.Equal(t, MaxFrame, dfl.frames())
	require.Equal(t, "soft", dfl.Driver)
	require.Equal(t, 1500, dfl.pagerConfig().TargetMaxNumPagedLODWithHighResSubgraphs)
	require.Equal(t, time.Second, dfl.transferConfig().Timeout)

	cfg, err := LoadConfig(writeFile(t, "sg.yaml", `
double-buffered: true
read-threads: 2
transfer-timeout: 250ms
search-paths: [tiles, /data/tiles]
`))
	require.NoError(t, err)
	require.True(t, cfg.DoubleBuffered)
	require.Equal(t, 2, cfg.frames())
	require.Equal(t, 2, cfg.transferConfig().NumBlocks)
	require.Equal(t, 2, cfg.NumReadThreads)
	require.Equal(t, dfl.NumCompileThreads, cfg.NumCompileThreads)
	require.Equal(t, Duration(250*time.Millisecond), cfg.TransferTimeout)
	require.Equal(t, []string{"tiles", "/data/tiles"}, cfg.SearchPaths)

	// Double-buffering allows retaining fewer frames.
	cfg, err = LoadConfig(writeFile(t, "double.yaml", "double-buffered: true\nframes-to-retain: 2\n"))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.pagerConfig().NumFramesToRetain)

	cfg, err = LoadConfig(writeFile(t, "sg.toml", `
compile-threads = 2
target-max-paged-lods = 64
transfer-timeout = "5ms"
driver = "vulkan"
`))
	require.NoError(t, err)
	require.Equal(t, 2, cfg.pagerConfig().NumCompileThreads)
	require.Equal(t, 64, cfg.pagerConfig().TargetMaxNumPagedLODWithHighResSubgraphs)
	require.Equal(t, 5*time.Millisecond, cfg.transferConfig().Timeout)
	require.Equal(t, "vulkan", cfg.Driver)

	cfg, err = LoadConfig(writeFile(t, "empty.yml", ""))
	require.NoError(t, err)
	require.Equal(t, dfl, cfg)

	for name, s := range map[string]string{
		"unknown.yaml": "frames: 3\n",
		"unknown.toml": "frames = 3\n",
		"invalid.yaml": "read-threads: 0\n",
		"retain.yaml":  "frames-to-retain: 2\n",
		"timeout.toml": "transfer-timeout = \"soon\"\n",
		"config.json":  "{}",
	} {
		_, err = LoadConfig(writeFile(t, name, s))
		require.Error(t, err, name)
	}
	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

// tileReader creates a group holding a single triangle
// for every locator with the .tile extension.
// Reads wait for block to be closed, if set.
type tileReader struct {
	reads    atomic.Int32
	variance data.Variance
	block    chan struct{}
}

func (r *tileReader) Extensions() []string { return []string{".tile"} }

func (r *tileReader) Read(ctx context.Context, req *sgio.Request) (node.Node, error) {
	r.reads.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	vb := data.NewBufferInfo(data.NewArray(make([]byte, 36), r.variance))
	g := node.NewGroup(node.NewGeometry([]*data.BufferInfo{vb}, nil, 3))
	g.Ref()
	return g, nil
}

func newViewer(t *testing.T, cfg Config) (*Viewer, *soft.GPU) {
	t.Helper()
	gpu := soft.New()
	v, err := New(cfg, gpu)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, v.Close())
		gpu.Close()
	})
	return v, gpu
}

func camera(z float32) *record.Camera {
	return record.NewCamera(linear.V3{0, 0, z}, linear.V3{}, linear.V3{0, 1, 0}, math32.Pi/2, 1, 1, 1000)
}

func TestViewerFrame(t *testing.T) {
	v, _ := newViewer(t, DefaultConfig())
	ctx := context.Background()

	static := data.NewBufferInfo(data.NewArray(make([]byte, 36), data.Static))
	early := data.NewBufferInfo(data.NewArray(make([]byte, 36), data.Dynamic))
	late := data.NewBufferInfo(data.NewArray(make([]byte, 64), data.DynamicLate))
	scene := node.NewGroup(
		node.NewGeometry([]*data.BufferInfo{static}, nil, 3),
		node.NewGeometry([]*data.BufferInfo{early, late}, nil, 3),
	)
	view, err := v.AddView(camera(10), scene)
	require.NoError(t, err)
	require.Equal(t, 1, scene.RefCount())
	require.Len(t, v.Views(), 1)
	require.Equal(t, 1, v.tasks.Early.Len())
	require.Equal(t, 1, v.tasks.Late.Len())

	require.NoError(t, v.Frame(ctx))
	st := v.Stats()
	require.Equal(t, uint64(1), st.FrameCount)
	require.Equal(t, 2, st.Draws)
	require.Equal(t, transfer.NothingToDo, st.Early.Status)
	require.Equal(t, transfer.NothingToDo, st.Late.Status)
	require.Equal(t, float64(2), testutil.ToFloat64(metrics.FrameDraws))

	early.Data.WriteAt([]byte{1, 2, 3, 4}, 0)
	late.Data.WriteAt([]byte{5, 6, 7, 8}, 60)
	require.NoError(t, v.Frame(ctx))
	st = v.Stats()
	require.Equal(t, transfer.Submitted, st.Early.Status)
	require.Equal(t, transfer.Submitted, st.Late.Status)
	require.NoError(t, v.Wait(time.Second))
	buf := early.Buffer.(*soft.Buffer).Contents()
	require.Equal(t, []byte{1, 2, 3, 4}, buf[early.Offset:early.Offset+4])
	buf = late.Buffer.(*soft.Buffer).Contents()
	require.Equal(t, []byte{5, 6, 7, 8}, buf[late.Offset+60:late.Offset+64])

	require.NoError(t, v.Frame(ctx))
	st = v.Stats()
	require.Equal(t, uint64(3), st.FrameCount)
	require.Equal(t, transfer.NothingToDo, st.Early.Status)
	require.Equal(t, transfer.NothingToDo, st.Late.Status)
	require.NoError(t, v.Wait(time.Second))

	// The scene outlives its view until the frames
	// that recorded it complete.
	v.RemoveView(view)
	require.Empty(t, v.Views())
	require.False(t, scene.Released())
	for range MaxFrame - 1 {
		require.NoError(t, v.Frame(ctx))
		require.Zero(t, v.Stats().Draws)
		require.False(t, scene.Released())
	}
	require.NoError(t, v.Frame(ctx))
	require.Eventually(t, scene.Released, time.Second, time.Millisecond)

	// Its dynamic data is dropped by the next transfer.
	require.NoError(t, v.Wait(time.Second))
	require.NoError(t, v.Frame(ctx))
	require.Zero(t, v.tasks.Early.Len())
	require.Zero(t, v.tasks.Late.Len())
}

func TestViewerPagedLOD(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumReadThreads = 2
	v, _ := newViewer(t, cfg)
	r := &tileReader{}
	v.Registry().Register(r)
	ctx := context.Background()
	require.NoError(t, v.Start(ctx))

	plod := node.NewPagedLOD(linear.Sphere{Radius: 10}, "tile.tile", 0.1, node.NewGroup(), 0)
	cam := camera(500)
	_, err := v.AddView(cam, node.NewGroup(plod))
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, v.Frame(ctx))
		require.Zero(t, v.Stats().Draws)
	}
	require.Zero(t, r.reads.Load())

	cam.LookAt(linear.V3{0, 0, 50}, linear.V3{}, linear.V3{0, 1, 0})
	for i := 0; v.Stats().Draws != 1; i++ {
		require.Less(t, i, 5000, "high resolution child never drawn")
		require.NoError(t, v.Frame(ctx))
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, int32(1), r.reads.Load())
	require.Equal(t, 1, v.Stats().Resident)
	require.Zero(t, v.Stats().ActiveRequests)
	require.NotNil(t, plod.HighResNode())
}

func TestViewerPagedDynamic(t *testing.T) {
	v, _ := newViewer(t, DefaultConfig())
	r := &tileReader{variance: data.Dynamic}
	v.Registry().Register(r)
	ctx := context.Background()
	require.NoError(t, v.Start(ctx))

	plod := node.NewPagedLOD(linear.Sphere{Radius: 10}, "tile.tile", 0.1, node.NewGroup(), 0)
	_, err := v.AddView(camera(50), node.NewGroup(plod))
	require.NoError(t, err)
	require.Zero(t, v.tasks.Early.Len())

	for i := 0; plod.HighResNode() == nil; i++ {
		require.Less(t, i, 5000, "high resolution child never merged")
		require.NoError(t, v.Frame(ctx))
		time.Sleep(time.Millisecond)
	}
	// Dynamic data of the merged child is transferred
	// like that of the scenes added with AddView.
	require.Equal(t, 1, v.tasks.Early.Len())
	d := node.CollectDynamic(plod.HighResNode())
	require.Len(t, d.Buffers, 1)
	bi := d.Buffers[0]
	require.NotNil(t, bi.Buffer)

	bi.Data.WriteAt([]byte{9, 8, 7, 6}, 0)
	require.NoError(t, v.Frame(ctx))
	require.Equal(t, transfer.Submitted, v.Stats().Early.Status)
	require.NoError(t, v.Wait(time.Second))
	buf := bi.Buffer.(*soft.Buffer).Contents()
	require.Equal(t, []byte{9, 8, 7, 6}, buf[bi.Offset:bi.Offset+4])
}

func TestViewerPagerFailure(t *testing.T) {
	gpu := soft.New()
	defer gpu.Close()
	v, err := New(DefaultConfig(), gpu)
	require.NoError(t, err)
	r := &tileReader{block: make(chan struct{})}
	v.Registry().Register(r)
	ctx := context.Background()
	require.NoError(t, v.Start(ctx))

	plod := node.NewPagedLOD(linear.Sphere{Radius: 10}, "tile.tile", 0.1, node.NewGroup(), 0)
	_, err = v.AddView(camera(50), node.NewGroup(plod))
	require.NoError(t, err)
	require.NoError(t, v.Frame(ctx))
	require.Eventually(t, func() bool { return r.reads.Load() == 1 }, 5*time.Second, time.Millisecond)
	require.NoError(t, v.Wait(time.Second))

	// The next commit is the pager's.
	gpu.FailNextCommit(driver.ErrFatal)
	close(r.block)
	require.Eventually(t, func() bool { return v.Pager().Err() != nil }, 5*time.Second, time.Millisecond)
	err = v.Frame(ctx)
	require.ErrorIs(t, err, driver.ErrFatal)
	require.Contains(t, err.Error(), "engine: pager")
	require.Nil(t, plod.HighResNode())
	require.ErrorIs(t, v.Close(), driver.ErrFatal)
}

func TestViewerDeviceFailure(t *testing.T) {
	v, gpu := newViewer(t, DefaultConfig())
	ctx := context.Background()
	scene := node.NewGroup(node.NewGeometry([]*data.BufferInfo{
		data.NewBufferInfo(data.NewArray(make([]byte, 36), data.Static)),
	}, nil, 3))
	_, err := v.AddView(camera(10), scene)
	require.NoError(t, err)

	gpu.FailNextCommit(errors.New("lost"))
	err = v.Frame(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "engine: Commit")
	require.NoError(t, v.Frame(ctx))

	// Execution failures are reported when the frame's
	// work item is reused.
	require.NoError(t, v.Wait(time.Second))
	gpu.FailNextExecution(errors.New("lost"))
	require.NoError(t, v.Frame(ctx))
	require.NoError(t, v.Wait(time.Second))
	var failed int
	for range MaxFrame {
		if err := v.Frame(ctx); err != nil {
			require.Contains(t, err.Error(), "engine: previous frame")
			failed++
		}
	}
	require.Equal(t, 1, failed)
	require.NoError(t, v.Frame(ctx))
}

func TestViewerInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Width = 0
	_, err := New(cfg, soft.New())
	require.Error(t, err)
}

func TestViewerDriver(t *testing.T) {
	v, err := New(DefaultConfig(), nil)
	require.NoError(t, err)
	require.Equal(t, "soft", v.GPU().Driver().Name())
	require.NoError(t, v.Close())
}
