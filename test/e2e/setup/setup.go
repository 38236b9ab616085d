package setup

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	e2eutil "github.com/canonical/mongodb-k8s-tests/test/e2e"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/wait"
)

const (
	updateStatusIntervalKey = "update-status-hook-interval"

	// Hooks fire frequently while the deployment settles, then drop
	// back to the model default cadence for the rest of the run.
	deployUpdateStatusInterval = "10s"
	steadyUpdateStatusInterval = "60m"
)

// Deployment describes the application under test for the rest of a scenario.
type Deployment struct {
	CLI   *juju.CLI
	App   string
	Units int
}

// Deploy deploys the charm into the configured model and waits for every
// unit to reach an active workload status. Failures here mean no scenario
// step can run, so they are fatal.
func Deploy(ctx context.Context, t *testing.T, testCtx *e2eutil.Context) *Deployment {
	config, err := loadTestConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}

	cli := juju.NewCLI(config.ModelName, zap.S())

	if err := cli.SetModelConfig(ctx, map[string]string{updateStatusIntervalKey: deployUpdateStatusInterval}); err != nil {
		t.Fatal(err)
	}

	resources := map[string]string{mongodbImageResource: config.MongodbImage}
	if err := cli.Deploy(ctx, config.CharmPath, config.AppName, config.Units, resources); err != nil {
		t.Fatal(err)
	}

	if config.PerformCleanup {
		testCtx.AddCleanupFunc(func() error {
			return cli.RemoveApplication(context.TODO(), config.AppName)
		})
	}

	err = wait.ForApplicationActive(ctx, t, cli, config.AppName, config.Units,
		wait.RetryInterval(time.Second*20), wait.Timeout(time.Minute*60))
	if err != nil {
		t.Fatal(err)
	}

	if err := cli.SetModelConfig(ctx, map[string]string{updateStatusIntervalKey: steadyUpdateStatusInterval}); err != nil {
		t.Fatal(err)
	}

	return &Deployment{CLI: cli, App: config.AppName, Units: config.Units}
}
