// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/data"
	"github.com/gviegas/sgraph/driver/soft"
	"github.com/gviegas/sgraph/engine"
	"github.com/gviegas/sgraph/linear"
	"github.com/gviegas/sgraph/node"
	"github.com/gviegas/sgraph/record"
	"github.com/gviegas/sgraph/sgio"
	"github.com/gviegas/sgraph/transfer"
)

const (
	tileExt     = ".tile"
	tileSpacing = 40
	tileRadius  = 20
	// Vertices of a high resolution tile.
	tileVerts = 3 * 512
	vertSize  = 12
)

// options are the parameters of a benchmark run.
type options struct {
	Config    engine.Config
	Grid      int
	Frames    int
	Latency   time.Duration
	ReadDelay time.Duration
	Report    int
}

// summary is the outcome of a benchmark run.
type summary struct {
	Frames      int
	Elapsed     time.Duration
	Draws       int
	Reads       int
	MaxResident int
	Transfers   int
	Deferred    int
}

func (s *summary) write(w io.Writer) {
	avg := time.Duration(0)
	if s.Frames > 0 {
		avg = s.Elapsed / time.Duration(s.Frames)
	}
	fmt.Fprintf(w, "frames        %d\n", s.Frames)
	fmt.Fprintf(w, "elapsed       %v\n", s.Elapsed)
	fmt.Fprintf(w, "frame time    %v\n", avg)
	fmt.Fprintf(w, "draws         %d\n", s.Draws)
	fmt.Fprintf(w, "tile reads    %d\n", s.Reads)
	fmt.Fprintf(w, "max resident  %d\n", s.MaxResident)
	fmt.Fprintf(w, "transfers     %d (%d deferred)\n", s.Transfers, s.Deferred)
}

// tileReader generates the high resolution subgraph of
// a tile. Locators have the form "x_y.tile".
type tileReader struct {
	delay time.Duration
	reads atomic.Int32
}

func (r *tileReader) Extensions() []string { return []string{tileExt} }

func (r *tileReader) Read(ctx context.Context, req *sgio.Request) (node.Node, error) {
	var x, y int
	name := strings.TrimSuffix(req.Locator, tileExt)
	if _, err := fmt.Sscanf(name, "%d_%d", &x, &y); err != nil {
		return nil, errors.Wrapf(err, "sgbench: invalid tile %q", req.Locator)
	}
	if r.delay > 0 {
		tm := time.NewTimer(r.delay)
		defer tm.Stop()
		select {
		case <-tm.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.reads.Add(1)
	b := make([]byte, tileVerts*vertSize)
	for i := range b {
		b[i] = byte(x*31 + y*17 + i)
	}
	vb := data.NewBufferInfo(data.NewArray(b, data.Static))
	g := node.NewGroup(node.NewGeometry([]*data.BufferInfo{vb}, nil, tileVerts))
	g.Ref()
	return g, nil
}

// lowRes creates the resident low resolution child of
// a tile.
func lowRes() node.Node {
	vb := data.NewBufferInfo(data.NewArray(make([]byte, 6*vertSize), data.Static))
	return node.NewGeometry([]*data.BufferInfo{vb}, nil, 6)
}

// animated holds the data that changes every frame.
type animated struct {
	early *data.BufferInfo
	late  *data.BufferInfo
}

func (a *animated) update(frame uint64) {
	a.early.Data.Update(func(b []byte) {
		for i := range b {
			b[i] = byte(frame) + byte(i)
		}
	})
	// Late data changes every other frame.
	if frame%2 == 0 {
		a.late.Data.Update(func(b []byte) { b[0] = byte(frame) })
	}
}

// scene creates a grid of paged tiles and an animated
// geometry.
func scene(grid int) (node.Node, *animated) {
	root := node.NewGroup()
	for x := range grid {
		for y := range grid {
			var m linear.M4
			m.Translate(float32(x*tileSpacing), float32(y*tileSpacing), 0)
			p := node.NewPagedLOD(
				linear.Sphere{Radius: tileRadius},
				fmt.Sprintf("%d_%d%s", x, y, tileExt),
				0.5, lowRes(), 0,
			)
			root.AddChild(node.NewTransform(&m, node.NewCullNode(linear.Sphere{Radius: tileRadius}, p)))
		}
	}
	a := &animated{
		early: data.NewBufferInfo(data.NewArray(make([]byte, 3*vertSize), data.Dynamic)),
		late:  data.NewBufferInfo(data.NewArray(make([]byte, 64), data.DynamicLate)),
	}
	root.AddChild(node.NewGeometry([]*data.BufferInfo{a.early, a.late}, nil, 3))
	return root, a
}

// fly moves cam over the grid. The camera starts low
// and its height oscillates so that tiles switch
// between levels.
func fly(cam *record.Camera, grid int, frame uint64) {
	span := float32(max(grid-1, 1) * tileSpacing)
	t := float32(frame) / 60
	x := span * (0.5 + 0.5*math32.Sin(t*0.7))
	y := span * (0.5 + 0.5*math32.Cos(t*0.3))
	z := 75 - 45*math32.Cos(t*2)
	cam.LookAt(linear.V3{x, y, z}, linear.V3{x, y, 0}, linear.V3{0, 1, 0})
}

// run renders o.Frames frames of a paged grid on the
// soft driver.
func run(ctx context.Context, o options, log logrus.FieldLogger) (s summary, err error) {
	if o.Grid < 1 || o.Frames < 0 {
		return s, errors.New("sgbench: invalid grid or frame count")
	}
	gpu := soft.New()
	defer gpu.Close()
	gpu.SetLatency(o.Latency)

	v, err := engine.New(o.Config, gpu)
	if err != nil {
		return s, err
	}
	defer func() {
		if cerr := v.Close(); err == nil {
			err = cerr
		}
	}()
	v.SetLogger(log)
	r := &tileReader{delay: o.ReadDelay}
	v.Registry().Register(r)
	if err = v.Start(ctx); err != nil {
		return
	}

	root, anim := scene(o.Grid)
	cfg := v.Config()
	aspect := float32(cfg.Width) / float32(cfg.Height)
	cam := record.NewCamera(linear.V3{0, 0, 100}, linear.V3{}, linear.V3{0, 1, 0}, math32.Pi/3, aspect, 1, 1000)
	if _, err = v.AddView(cam, root); err != nil {
		return
	}

	start := time.Now()
	for i := range o.Frames {
		if err = ctx.Err(); err != nil {
			break
		}
		frame := uint64(i + 1)
		fly(cam, o.Grid, frame)
		anim.update(frame)
		if err = v.Frame(ctx); err != nil {
			return
		}
		st := v.Stats()
		s.Frames++
		s.Draws += st.Draws
		s.MaxResident = max(s.MaxResident, st.Resident)
		for _, res := range [...]transfer.Result{st.Early, st.Late} {
			switch res.Status {
			case transfer.Submitted:
				s.Transfers++
			case transfer.NotReady:
				s.Deferred++
			}
		}
		if o.Report > 0 && s.Frames%o.Report == 0 {
			log.WithFields(logrus.Fields{
				"frame":    st.FrameCount,
				"draws":    st.Draws,
				"requests": st.ActiveRequests,
				"resident": st.Resident,
			}).Info("sgbench: progress")
		}
	}
	if werr := v.Wait(time.Minute); err == nil {
		err = werr
	}
	s.Elapsed = time.Since(start)
	s.Reads = int(r.reads.Load())
	return
}
