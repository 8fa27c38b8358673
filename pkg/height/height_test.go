package height

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerMonotonic(t *testing.T) {
	cases := [][2]uint64{{10, 20}, {20, 10}, {5, 5}, {0, math.MaxUint64}, {math.MaxUint64, 0}}
	for _, c := range cases {
		tr, err := NewTracker(t.TempDir())
		require.NoError(t, err)

		_, err = tr.Set("chain", c[0])
		require.NoError(t, err)
		_, err = tr.Set("chain", c[1])
		require.NoError(t, err)

		require.Equal(t, max(c[0], c[1]), tr.Get("chain"))
	}
}

func TestTrackerUnknownIsZeroAndPersists(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTracker(dir)
	require.NoError(t, err)
	require.Zero(t, tr.Get("nope"))

	changed, err := tr.Set("0x1.icon", math.MaxUint64)
	require.NoError(t, err)
	require.True(t, changed)

	reopened, err := NewTracker(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), reopened.Get("0x1.icon"))
	require.Equal(t, map[string]uint64{"0x1.icon": math.MaxUint64}, reopened.All())
}

func TestTrackerNeverLowersAnotherProcessHeight(t *testing.T) {
	dir := t.TempDir()
	daemon, err := NewTracker(dir)
	require.NoError(t, err)
	cli, err := NewTracker(dir)
	require.NoError(t, err)

	_, err = daemon.Set("sui", 100)
	require.NoError(t, err)
	changed, err := cli.Set("sui", 150)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = daemon.Set("sui", 120)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, uint64(150), daemon.Get("sui"))

	reopened, err := NewTracker(dir)
	require.NoError(t, err)
	require.Equal(t, uint64(150), reopened.Get("sui"))
}

type fakeHeighter struct {
	h   uint64
	err error
}

func (f fakeHeighter) GetBlockHeight(context.Context) (uint64, error) {
	return f.h, f.err
}

func TestRefresherMapsNetworks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"network": "icon", "block_height": 100},
			{"network": "sui", "block_height": "BIGINT::200"},
			{"network": "unknown", "block_height": 300}
		]`))
	}))
	defer srv.Close()

	tr, err := NewTracker(t.TempDir())
	require.NoError(t, err)

	r := NewRefresher(tr, RefresherConfig{
		Endpoint: srv.URL,
		Networks: map[string]string{"icon": "0x1.icon", "sui": "sui"},
		Direct: map[string]BlockHeighter{
			"sui":         fakeHeighter{h: 1},
			"0xa86a.avax": fakeHeighter{h: 555},
			"broken":      fakeHeighter{err: errors.New("down")},
		},
	})
	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, uint64(100), tr.Get("0x1.icon"))
	require.Equal(t, uint64(200), tr.Get("sui"))
	require.Equal(t, uint64(555), tr.Get("0xa86a.avax"))
	require.Zero(t, tr.Get("broken"))
	require.Len(t, tr.All(), 3)
}

func TestRefresherEndpointFailureKeepsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr, err := NewTracker(t.TempDir())
	require.NoError(t, err)
	_, err = tr.Set("0x1.icon", 50)
	require.NoError(t, err)

	r := NewRefresher(tr, RefresherConfig{Endpoint: srv.URL, Networks: map[string]string{"icon": "0x1.icon"}})
	require.NoError(t, r.Run(context.Background()))
	require.Equal(t, uint64(50), tr.Get("0x1.icon"))

	_, err = r.Fetch(context.Background())
	require.Error(t, err)
}
