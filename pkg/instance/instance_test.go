package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDPrefersDyno(t *testing.T) {
	t.Setenv("DYNO", "web.2")
	t.Setenv("WORKER_ID", "worker-7")
	require.Equal(t, "web.2", ID())
}

func TestIDFallsBack(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("WORKER_ID", "worker-7")
	require.Equal(t, "worker-7", ID())

	t.Setenv("WORKER_ID", "")
	require.Equal(t, "local", ID())
}
