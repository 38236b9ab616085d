package wait

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/mongotester"
)

// ForApplicationActive waits until the application converges to exactly
// exactUnits units, all with an active workload status. A blocked unit
// fails the wait immediately.
func ForApplicationActive(ctx context.Context, t *testing.T, cli *juju.CLI, app string, exactUnits int, opts ...Configuration) error {
	options := newOptions(opts...)

	return wait.PollImmediate(options.RetryInterval, options.Timeout, func() (done bool, err error) {
		status, err := cli.Status(ctx)
		if err != nil {
			return false, err
		}

		units := status.Units(app)
		active := 0
		for name, unit := range units {
			switch unit.WorkloadStatus.Current {
			case "active":
				active++
			case "blocked":
				return false, errors.Errorf("unit %s is blocked: %s", name, unit.WorkloadStatus.Message)
			}
		}
		t.Logf("Waiting for %s to have %d active units. Current units: %d, active: %d",
			app, exactUnits, len(units), active)
		return len(units) == exactUnits && active == exactUnits, nil
	})
}

// ForNewPrimary waits until the replica set elects a primary different
// from oldPrimary and returns the new primary's host.
func ForNewPrimary(ctx context.Context, t *testing.T, tester *mongotester.Tester, oldPrimary string, opts ...Configuration) (string, error) {
	options := newOptions(opts...)

	newPrimary := ""
	err := wait.Poll(options.RetryInterval, options.Timeout, func() (done bool, err error) {
		status, err := tester.ReplSetGetStatus(ctx)
		if err != nil {
			t.Logf("replSetGetStatus not answering during election: %s", err)
			return false, nil
		}
		primary := status.PrimaryAddress()
		t.Logf("Current primary: %q, previous primary: %q", primary, oldPrimary)
		if primary == "" || primary == oldPrimary {
			return false, nil
		}
		newPrimary = primary
		return true, nil
	})
	return newPrimary, err
}
