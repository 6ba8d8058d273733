// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	PagerLoads.WithLabelValues("read", "ok").Inc()
	FrameSeconds.WithLabelValues("record").Observe(0.001)
	mfs, err := Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, mf := range mfs {
		require.True(t, strings.HasPrefix(mf.GetName(), namespace+"_"), mf.GetName())
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"sgraph_pager_active_requests",
		"sgraph_pager_loads_total",
		"sgraph_transfer_bytes_total",
		"sgraph_frame_seconds",
	} {
		require.True(t, names[n], n)
	}
	require.Equal(t, 1.0, testutil.ToFloat64(PagerLoads.WithLabelValues("read", "ok")))
}
