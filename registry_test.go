package rtspcore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateServer(t *testing.T) {
	a := GetOrCreateServer(18554, "127.0.0.1")
	b := GetOrCreateServer(18554, "127.0.0.1")
	require.Same(t, a, b)

	c := GetOrCreateServer(18555, "127.0.0.1")
	require.NotSame(t, a, c)

	require.Equal(t, 18554, a.Config.Port)
	require.Equal(t, "127.0.0.1", a.Config.Host)
}
