package mongodbtests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/canonical/mongodb-k8s-tests/pkg/util/versions"
	e2eutil "github.com/canonical/mongodb-k8s-tests/test/e2e"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/setup"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/mongotester"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/wait"
)

// ApplicationIsUp ensures that every unit of the application answers a
// direct mongod ping.
func ApplicationIsUp(ctx context.Context, d *setup.Deployment) func(t *testing.T) {
	return func(t *testing.T) {
		for unitID := 0; unitID < d.Units; unitID++ {
			unitID := unitID
			t.Run(fmt.Sprintf("Unit %d is reachable", unitID), func(t *testing.T) {
				tester, err := mongotester.ForUnit(ctx, t, d.CLI, d.App, unitID)
				if err != nil {
					t.Fatal(err)
				}
				defer tester.Disconnect(ctx) //nolint
				tester.ConnectivitySucceeds()(t)
			})
		}
	}
}

// HasExactlyOnePrimary verifies that the replica set reports one and only
// one member in the PRIMARY state.
func HasExactlyOnePrimary(ctx context.Context, tester *mongotester.Tester) func(t *testing.T) {
	return func(t *testing.T) {
		status, err := tester.ReplSetGetStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, status.PrimaryCount(), "expected exactly one primary in replica set %s", status.Set)
		t.Logf("Replica set %s has primary %s", status.Set, status.PrimaryAddress())
	}
}

// PrimaryMatchesLeader verifies that the unit holding Juju leadership is
// the same unit mongod elected as primary. The charm keeps these in sync.
func PrimaryMatchesLeader(ctx context.Context, d *setup.Deployment, tester *mongotester.Tester) func(t *testing.T) {
	return func(t *testing.T) {
		status, err := tester.ReplSetGetStatus(ctx)
		require.NoError(t, err)
		primary := status.PrimaryAddress()
		require.NotEmpty(t, primary, "replica set has no primary")

		leaderID, err := d.CLI.LeaderID(ctx, d.App)
		require.NoError(t, err)

		assert.Equal(t, fmt.Sprintf("%s-%d", d.App, leaderID), juju.PodName(primary))
	}
}

// ScaleApplication changes the application to the given absolute unit count.
func ScaleApplication(ctx context.Context, d *setup.Deployment, units int) func(t *testing.T) {
	return func(t *testing.T) {
		if err := d.CLI.ScaleApplication(ctx, d.App, units); err != nil {
			t.Fatal(err)
		}
		d.Units = units
	}
}

// ApplicationReachesUnits waits until the application has converged to
// exactly the given number of active units.
func ApplicationReachesUnits(ctx context.Context, d *setup.Deployment, units int, opts ...wait.Configuration) func(t *testing.T) {
	return func(t *testing.T) {
		if err := wait.ForApplicationActive(ctx, t, d.CLI, d.App, units, opts...); err != nil {
			t.Fatal(err)
		}
		t.Logf("Application %s has %d active units", d.App, units)
	}
}

// ReplicaSetMembersMatchUnits verifies that the replica set membership is
// exactly the hostnames of the application's current units.
func ReplicaSetMembersMatchUnits(ctx context.Context, d *setup.Deployment, tester *mongotester.Tester) func(t *testing.T) {
	return func(t *testing.T) {
		status, err := tester.ReplSetGetStatus(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, juju.UnitHostnames(d.App, d.Units), status.MemberAddresses())
	}
}

// HasExpectedFeatureCompatibilityVersion verifies that the FCV reported
// by the server matches the one derived from the server version.
func HasExpectedFeatureCompatibilityVersion(ctx context.Context, tester *mongotester.Tester) func(t *testing.T) {
	return func(t *testing.T) {
		version, err := tester.ServerVersion(ctx)
		require.NoError(t, err)
		expected := versions.CalculateFeatureCompatibilityVersion(version)
		require.NotEmpty(t, expected, "server version %s has no feature compatibility version", version)

		fcv, err := tester.FeatureCompatibilityVersion(ctx)
		require.NoError(t, err)
		assert.Equal(t, expected, fcv)
	}
}

// DocumentsAreInserted creates the collection and writes the fixed test
// documents through the primary.
func DocumentsAreInserted(ctx context.Context, tester *mongotester.Tester, collection string) func(t *testing.T) {
	return func(t *testing.T) {
		require.NoError(t, tester.CreateCollection(ctx, collection))

		docs := e2eutil.TestDocuments()
		inserted, err := tester.InsertDocuments(ctx, collection, docs)
		require.NoError(t, err)
		require.Equal(t, len(docs), inserted)

		require.NoError(t, tester.VerifyDocumentsStored(ctx, t, collection, int64(len(docs)), time.Minute))
	}
}

// DocumentsAreRetained verifies that all previously written documents are
// still readable, polling until the replica set serves them.
func DocumentsAreRetained(ctx context.Context, tester *mongotester.Tester, collection string, expected int64) func(t *testing.T) {
	return func(t *testing.T) {
		require.NoError(t, tester.VerifyDocumentsStored(ctx, t, collection, expected, time.Minute*5))
	}
}

// DocumentsAreReadableWithPreference reads the documents back through a
// fresh replica-set aware connection using the given read preference.
func DocumentsAreReadableWithPreference(ctx context.Context, d *setup.Deployment, collection string, expected int64, pref *readpref.ReadPref) func(t *testing.T) {
	return func(t *testing.T) {
		reader, err := mongotester.FromDeployment(ctx, t, d.CLI, d.App, d.Units, mongotester.WithReadPreference(pref))
		require.NoError(t, err)
		defer reader.Disconnect(ctx) //nolint

		require.NoError(t, reader.VerifyDocumentsStored(ctx, t, collection, expected, time.Minute*5))
	}
}

// DocumentsAreServedByHost verifies that one named replica-set member
// serves the expected documents, polling while it catches up.
func DocumentsAreServedByHost(ctx context.Context, d *setup.Deployment, host, collection string, expected int64) func(t *testing.T) {
	return func(t *testing.T) {
		member, err := mongotester.ForHost(ctx, d.CLI, d.App, host)
		require.NoError(t, err)
		defer member.Disconnect(ctx) //nolint

		require.NoError(t, member.VerifyDocumentsStored(ctx, t, collection, expected, time.Minute*5))
	}
}

// DocumentsAreReplicated checks every secondary individually for the
// expected documents, waiting longer for members that report more lag.
// A secondary that errors or never converges is treated as not yet
// synced rather than failing the step; at least one secondary must
// confirm the data for the step to pass.
func DocumentsAreReplicated(ctx context.Context, d *setup.Deployment, tester *mongotester.Tester, collection string, expected int64) func(t *testing.T) {
	return func(t *testing.T) {
		status, err := tester.ReplSetGetStatus(ctx)
		require.NoError(t, err)

		delays := status.SecondarySyncDelays()
		require.NotEmpty(t, delays, "replica set has no secondaries")

		synced := syncedSecondaryCount(t, delays, func(host string, lag time.Duration) error {
			return documentsOnHost(ctx, t, d, host, collection, expected, lag)
		})
		assert.GreaterOrEqual(t, synced, 1, "no secondary confirmed the documents")
	}
}

// syncedSecondaryCount counts the secondaries whose check confirmed the
// data. Individual failures are aggregated and logged only; a lagging
// or unreachable member must not fail the whole step.
func syncedSecondaryCount(t *testing.T, delays []mongotester.SecondaryDelay, check func(host string, lag time.Duration) error) int {
	synced := 0
	var skipped error
	for _, secondary := range delays {
		t.Logf("Secondary %s is %s behind the primary", secondary.Host, secondary.Delay)
		if err := check(secondary.Host, secondary.Delay); err != nil {
			skipped = multierror.Append(skipped, errors.Wrapf(err, "secondary %s not yet synced", secondary.Host))
			continue
		}
		synced++
	}
	if skipped != nil {
		t.Logf("Secondaries treated as not yet synced: %s", skipped)
	}
	return synced
}

func documentsOnHost(ctx context.Context, t *testing.T, d *setup.Deployment, host, collection string, expected int64, lag time.Duration) error {
	member, err := mongotester.ForHost(ctx, d.CLI, d.App, host)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", host)
	}
	defer member.Disconnect(ctx) //nolint

	// Members reporting more lag get proportionally more settling time.
	return member.VerifyDocumentsStored(ctx, t, collection, expected, time.Minute+2*lag)
}

// NewPrimaryIsElectedAfterPodDeletion kills the primary's pod out from
// under Juju and waits for the replica set to elect a different primary.
func NewPrimaryIsElectedAfterPodDeletion(ctx context.Context, d *setup.Deployment, tester *mongotester.Tester) func(t *testing.T) {
	return func(t *testing.T) {
		status, err := tester.ReplSetGetStatus(ctx)
		require.NoError(t, err)
		oldPrimary := status.PrimaryAddress()
		require.NotEmpty(t, oldPrimary, "replica set has no primary to fail over from")

		pod := juju.PodName(oldPrimary)
		t.Logf("Deleting pod %s backing primary %s", pod, oldPrimary)
		require.NoError(t, e2eutil.TestClient.DeletePod(ctx, d.CLI.Model, pod))

		newPrimary, err := wait.ForNewPrimary(ctx, t, tester, oldPrimary,
			wait.RetryInterval(time.Second*5), wait.Timeout(time.Minute*10))
		require.NoError(t, err)
		t.Logf("New primary elected: %s", newPrimary)
	}
}
