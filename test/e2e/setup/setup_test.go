package setup

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	e2eutil "github.com/canonical/mongodb-k8s-tests/test/e2e"
)

// installFakeJuju puts a juju stand-in on PATH that records every
// invocation and answers status queries with a single active unit.
func installFakeJuju(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	transcript := path.Join(dir, "transcript.log")

	script := fmt.Sprintf(`#!/bin/sh
echo "$@" >> %q
if [ "$1" = "status" ]; then
  echo '{"applications":{"mongodb-k8s":{"units":{"mongodb-k8s/0":{"workload-status":{"current":"active"}}}}}}'
fi
`, transcript)
	require.NoError(t, os.WriteFile(path.Join(dir, "juju"), []byte(script), 0o755))
	t.Setenv("PATH", fmt.Sprintf("%s%c%s", dir, os.PathListSeparator, os.Getenv("PATH")))
	return transcript
}

func TestDeployRestoresUpdateStatusInterval(t *testing.T) {
	transcript := installFakeJuju(t)
	t.Setenv(unitsEnvName, "1")
	t.Setenv(mongodbImageEnvName, "mongo:4.4")

	deployment := Deploy(context.Background(), t, e2eutil.NewContext(t))
	assert.Equal(t, 1, deployment.Units)
	assert.Equal(t, "mongodb-k8s", deployment.App)

	raw, err := os.ReadFile(transcript)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.GreaterOrEqual(t, len(lines), 4)

	assert.Contains(t, lines[0], updateStatusIntervalKey+"="+deployUpdateStatusInterval)
	assert.Contains(t, lines[1], "deploy")
	assert.Contains(t, lines[1], "--resource mongodb-image=mongo:4.4")
	assert.Contains(t, lines[len(lines)-1], updateStatusIntervalKey+"="+steadyUpdateStatusInterval)
}
