package netinfo

import (
	"context"
	"net"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePeerLiteral(t *testing.T) {
	ip, err := ResolvePeer(context.Background(), "192.0.2.7")
	require.NoError(t, err)
	require.Equal(t, "192.0.2.7", ip.String())

	ip, err = ResolvePeer(context.Background(), "localhost")
	require.NoError(t, err)
	require.True(t, ip.IsLoopback())
}

func TestLookupRouteLoopback(t *testing.T) {
	route, err := LookupRoute(net.ParseIP("127.0.0.1"))
	if runtime.GOOS != "linux" {
		require.ErrorIs(t, err, ErrRouteUnsupported)
		return
	}
	require.NoError(t, err)
	require.Equal(t, "lo", route.Interface)
	require.Positive(t, route.MTU)
}

func TestOpenGeoDBMissing(t *testing.T) {
	_, err := OpenGeoDB(filepath.Join(t.TempDir(), "missing.mmdb"))
	require.Error(t, err)
}

func TestPingZeroCount(t *testing.T) {
	res, err := Ping(context.Background(), net.ParseIP("127.0.0.1"), 0, 0)
	require.NoError(t, err)
	require.Zero(t, res.Sent)
}

func TestRunSkipsWhatIsDisabled(t *testing.T) {
	info := Run(context.Background(), "127.0.0.1", Options{GeoIPDB: filepath.Join(t.TempDir(), "none.mmdb")}, nil)
	require.Equal(t, "127.0.0.1", info.PeerIP.String())
	require.Nil(t, info.Route)
	require.Nil(t, info.ICMP)
	require.Nil(t, info.Geo)
}

func TestSamePeer(t *testing.T) {
	ip := net.ParseIP("10.0.0.1")
	require.True(t, samePeer(&net.IPAddr{IP: ip}, ip))
	require.False(t, samePeer(&net.UDPAddr{IP: net.ParseIP("10.0.0.2")}, ip))
	require.True(t, samePeer(&net.UDPAddr{}, ip))
}
