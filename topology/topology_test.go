package topology_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-nf/api"
	"github.com/momentics/hioload-nf/fake"
	"github.com/momentics/hioload-nf/stage"
	"github.com/momentics/hioload-nf/topology"
)

func TestParseSpec(t *testing.T) {
	spec, err := topology.ParseSpec(strings.NewReader("# pipeline\n\necho 2\n  acl   3  \n"))
	require.NoError(t, err)
	assert.Equal(t, topology.Spec{{Type: "echo", Instances: 2}, {Type: "acl", Instances: 3}}, spec)
	assert.Equal(t, 5, spec.Instances())
	assert.Equal(t, "echo 2\nacl 3\n", spec.String())

	for _, bad := range []string{"echo\n", "echo two\n", "echo 1 2\n"} {
		_, err := topology.ParseSpec(strings.NewReader(bad))
		assert.ErrorIs(t, err, api.ErrConfig, bad)
	}
}

func TestParseSpecFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topo.txt")
	require.NoError(t, os.WriteFile(path, []byte("echo 1\n"), 0o644))
	spec, err := topology.ParseSpecFile(path)
	require.NoError(t, err)
	assert.Len(t, spec, 1)

	_, err = topology.ParseSpecFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, api.ErrConfig)
}

func TestValidate(t *testing.T) {
	l := topology.DefaultLimits
	assert.NoError(t, topology.Spec{}.Validate(l))
	assert.NoError(t, topology.Spec{{Type: "echo", Instances: 16}}.Validate(l))
	assert.ErrorIs(t, topology.Spec{{Type: "echo", Instances: 0}}.Validate(l), api.ErrConfig)
	assert.ErrorIs(t, topology.Spec{{Type: "echo", Instances: -1}}.Validate(l), api.ErrConfig)
	assert.ErrorIs(t, topology.Spec{{Type: "echo", Instances: 17}}.Validate(l), api.ErrConfig)
	assert.ErrorIs(t, topology.Spec{{Type: "", Instances: 1}}.Validate(l), api.ErrConfig)

	long := make(topology.Spec, 9)
	for i := range long {
		long[i] = topology.LayerSpec{Type: "echo", Instances: 1}
	}
	assert.ErrorIs(t, long.Validate(l), api.ErrConfig)
}

func registry(set *fake.CountingSet) *stage.Registry {
	r := stage.NewRegistry()
	r.MustRegister("echo", set.Constructor(fake.CountingOptions{}))
	r.MustRegister("bad", set.Constructor(fake.CountingOptions{InitErr: errors.New("out of memory")}))
	return r
}

func TestBuildWiresFullBipartite(t *testing.T) {
	var set fake.CountingSet
	topo, err := topology.Build(topology.Spec{{Type: "echo", Instances: 2}, {Type: "echo", Instances: 3}}, topology.Options{
		Registry: registry(&set),
		Cores:    []int{1, 2, 3, 4, 5},
	})
	require.NoError(t, err)
	defer topo.Free()

	assert.Len(t, topo.Links, 6)
	for _, p := range topo.Layers[0] {
		assert.Len(t, p.In, 1)
		assert.Same(t, topo.Head, p.In[0])
		assert.Len(t, p.Out, 3)
	}
	for _, c := range topo.Layers[1] {
		assert.Len(t, c.In, 2)
		assert.Len(t, c.Out, 1)
		assert.Same(t, topo.Tail, c.Out[0])
	}
	// Producer p's j-th output is consumer j's p-th input.
	for pi, p := range topo.Layers[0] {
		for ci, c := range topo.Layers[1] {
			assert.Same(t, p.Out[ci], c.In[pi])
			assert.Equal(t, api.SPSC, p.Out[ci].Discipline())
		}
	}
	assert.Equal(t, api.MPMC, topo.Head.Discipline())
	assert.Equal(t, api.MPMC, topo.Tail.Discipline())
	assert.Len(t, topo.Queues(), 8)

	cores := []int{}
	for _, d := range topo.Descriptors() {
		cores = append(cores, d.CoreID)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, cores)
	assert.Equal(t, 5, topo.Descriptors()[4].StatsSlot)
	assert.Contains(t, topo.Describe(), "STAGE")
}

func TestBuildSingleInstanceQueuesAreSPSC(t *testing.T) {
	var set fake.CountingSet
	topo, err := topology.Build(topology.Spec{{Type: "echo", Instances: 1}, {Type: "echo", Instances: 1}}, topology.Options{Registry: registry(&set)})
	require.NoError(t, err)
	defer topo.Free()
	assert.Equal(t, api.SPSC, topo.Head.Discipline())
	assert.Equal(t, api.SPSC, topo.Tail.Discipline())
	assert.Len(t, topo.Links, 1)
}

func TestBuildZeroLayersIsPassThrough(t *testing.T) {
	topo, err := topology.Build(nil, topology.Options{Registry: stage.NewRegistry(), QueueSize: 16})
	require.NoError(t, err)
	assert.Same(t, topo.Head, topo.Tail)
	assert.Len(t, topo.Queues(), 1)

	var tr fake.Tracker
	in := []api.Buffer{tr.NewBuffer([]byte("a")), tr.NewBuffer([]byte("b"))}
	require.Equal(t, 2, topo.Head.EnqueueBurst(in))
	out := make([]api.Buffer, 4)
	require.Equal(t, 2, topo.Tail.DequeueBurst(out))
	assert.Equal(t, "a", string(out[0].Bytes()))
	assert.Contains(t, topo.Describe(), "pass-through")
	assert.NoError(t, topo.Free())
}

func TestBuildFailureReportsTypeAndTearsDown(t *testing.T) {
	var set fake.CountingSet
	_, err := topology.Build(topology.Spec{{Type: "echo", Instances: 2}, {Type: "bad", Instances: 1}}, topology.Options{Registry: registry(&set)})
	require.Error(t, err)
	var ae *api.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "bad", ae.Context["stage"])
	assert.Equal(t, 1, ae.Context["layer"])

	inst := set.Instances()
	require.Len(t, inst, 3)
	for _, c := range inst {
		assert.Equal(t, int64(1), c.Frees.Load(), "every built instance freed once")
	}
}

func TestBuildUnknownTypeFailsBeforeInit(t *testing.T) {
	var set fake.CountingSet
	_, err := topology.Build(topology.Spec{{Type: "echo", Instances: 1}, {Type: "ghost", Instances: 1}}, topology.Options{Registry: registry(&set)})
	assert.ErrorIs(t, err, api.ErrUnknownStage)
	assert.Empty(t, set.Instances())
}

func TestBuildRejectsBadCounts(t *testing.T) {
	cases := map[string]topology.Spec{
		"zero":       {{Type: "echo", Instances: 1}, {Type: "echo", Instances: 0}},
		"negative":   {{Type: "echo", Instances: -1}},
		"over limit": {{Type: "echo", Instances: 1}, {Type: "echo", Instances: 100}},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			var set fake.CountingSet
			topo, err := topology.Build(spec, topology.Options{Registry: registry(&set)})
			assert.ErrorIs(t, err, api.ErrConfig)
			assert.Nil(t, topo)
			assert.Empty(t, set.Instances(), "nothing is constructed for an invalid spec")
		})
	}

	var set fake.CountingSet
	_, err := topology.Build(topology.Spec{{Type: "echo", Instances: 3}},
		topology.Options{Registry: registry(&set), Limits: topology.Limits{MaxLayers: 4, MaxInstances: 2}})
	assert.ErrorIs(t, err, api.ErrConfig, "explicit limits apply")
	assert.Empty(t, set.Instances())
}

func TestFreeIsIdempotentAndReverse(t *testing.T) {
	var set fake.CountingSet
	topo, err := topology.Build(topology.Spec{{Type: "echo", Instances: 1}, {Type: "echo", Instances: 2}}, topology.Options{Registry: registry(&set)})
	require.NoError(t, err)
	require.NoError(t, topo.Free())
	require.NoError(t, topo.Free())
	for _, c := range set.Instances() {
		assert.Equal(t, int64(1), c.Frees.Load())
	}
	for _, d := range topo.Descriptors() {
		assert.True(t, d.Freed())
	}
}
