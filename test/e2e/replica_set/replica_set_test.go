package replica_set

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	e2eutil "github.com/canonical/mongodb-k8s-tests/test/e2e"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/mongodbtests"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/setup"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/mongotester"
	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/storageanalyzer"
)

func TestMain(m *testing.M) {
	code, err := e2eutil.RunTest(m)
	if err != nil {
		fmt.Println(err)
	}
	os.Exit(code)
}

func TestReplicaSet(t *testing.T) {
	ctx := context.Background()

	testCtx := e2eutil.NewContext(t)
	defer testCtx.Cleanup()

	var deployment *setup.Deployment
	if !t.Run("Deploy application", func(t *testing.T) {
		deployment = setup.Deploy(ctx, t, testCtx)
	}) {
		t.Fatal("deployment failed, no further step can run")
	}

	analyzer := storageanalyzer.New(deployment.CLI, deployment.App)
	takeStorageSnapshot(ctx, t, analyzer)

	if !t.Run("Application is up", mongodbtests.ApplicationIsUp(ctx, deployment)) {
		t.Fatal("application is not reachable, no further step can run")
	}

	tester, err := mongotester.FromDeployment(ctx, t, deployment.CLI, deployment.App, deployment.Units)
	if err != nil {
		t.Fatal(err)
	}
	defer tester.Disconnect(ctx) //nolint

	t.Run("Replica set has exactly one primary", mongodbtests.HasExactlyOnePrimary(ctx, tester))
	t.Run("Primary matches application leader", mongodbtests.PrimaryMatchesLeader(ctx, deployment, tester))
	t.Run("Feature compatibility version matches server version", mongodbtests.HasExpectedFeatureCompatibilityVersion(ctx, tester))

	t.Run("Scale up to 5 units", func(t *testing.T) {
		t.Run("Scale application", mongodbtests.ScaleApplication(ctx, deployment, 5))
		t.Run("Application reaches 5 active units", mongodbtests.ApplicationReachesUnits(ctx, deployment, 5))
		t.Run("Replica set members match units", mongodbtests.ReplicaSetMembersMatchUnits(ctx, deployment, tester))
	})
	takeStorageSnapshot(ctx, t, analyzer)

	t.Run("Scale down to 3 units", func(t *testing.T) {
		t.Run("Scale application", mongodbtests.ScaleApplication(ctx, deployment, 3))
		t.Run("Application reaches 3 active units", mongodbtests.ApplicationReachesUnits(ctx, deployment, 3))
		t.Run("Replica set members match units", mongodbtests.ReplicaSetMembersMatchUnits(ctx, deployment, tester))
		t.Run("Replica set still has exactly one primary", mongodbtests.HasExactlyOnePrimary(ctx, tester))
	})
	takeStorageSnapshot(ctx, t, analyzer)

	t.Run("New primary is elected when its pod dies", mongodbtests.NewPrimaryIsElectedAfterPodDeletion(ctx, deployment, tester))
	t.Run("Application recovers all units", mongodbtests.ApplicationReachesUnits(ctx, deployment, deployment.Units))

	collection, err := e2eutil.GenerateCollectionID()
	if err != nil {
		t.Fatal(err)
	}
	docCount := int64(len(e2eutil.TestDocuments()))

	t.Run("Data is consistent across the replica set", func(t *testing.T) {
		t.Run("Documents are written through the primary", mongodbtests.DocumentsAreInserted(ctx, tester, collection))
		t.Run("Documents are readable with primary preference",
			mongodbtests.DocumentsAreReadableWithPreference(ctx, deployment, collection, docCount, readpref.Primary()))
		t.Run("Documents are readable with secondary preference",
			mongodbtests.DocumentsAreReadableWithPreference(ctx, deployment, collection, docCount, readpref.Secondary()))
		t.Run("Documents are replicated to every secondary", mongodbtests.DocumentsAreReplicated(ctx, deployment, tester, collection, docCount))
	})

	t.Run("Storage is reused across a rescale", func(t *testing.T) {
		persistCollection, err := e2eutil.GenerateCollectionID()
		if err != nil {
			t.Fatal(err)
		}

		t.Run("Scale up to 4 units", mongodbtests.ScaleApplication(ctx, deployment, 4))
		t.Run("Application reaches 4 active units", mongodbtests.ApplicationReachesUnits(ctx, deployment, 4))
		takeStorageSnapshot(ctx, t, analyzer)

		t.Run("Documents are written through the primary", mongodbtests.DocumentsAreInserted(ctx, tester, persistCollection))
		t.Run("Newest unit serves the documents",
			mongodbtests.DocumentsAreServedByHost(ctx, deployment, juju.UnitHostname(deployment.App, 3), persistCollection, docCount))

		before := volumeProviderIDs(ctx, t, deployment)
		require.NotEmpty(t, before)

		t.Run("Scale down to 3 units", mongodbtests.ScaleApplication(ctx, deployment, 3))
		t.Run("Application reaches 3 active units", mongodbtests.ApplicationReachesUnits(ctx, deployment, 3))
		takeStorageSnapshot(ctx, t, analyzer)

		t.Run("Scale back up to 4 units", mongodbtests.ScaleApplication(ctx, deployment, 4))
		t.Run("Application reaches 4 active units again", mongodbtests.ApplicationReachesUnits(ctx, deployment, 4))

		after := volumeProviderIDs(ctx, t, deployment)
		for volume, providerID := range before {
			assert.Equal(t, providerID, after[volume], "volume %s changed provider id across rescale", volume)
		}

		t.Run("Documents survive the rescale", mongodbtests.DocumentsAreRetained(ctx, tester, persistCollection, docCount))
	})
	takeStorageSnapshot(ctx, t, analyzer)

	t.Run("Storage history is consistent", func(t *testing.T) {
		// Units 0 through 4 existed at some point during the scenario.
		assert.Len(t, analyzer.UnitsCreated(), 5)
		assert.GreaterOrEqual(t, len(analyzer.VolumesCreated()), 3)

		unitToPVCs := analyzer.UnitToPVCs()
		pvcToUnits := analyzer.PVCToUnits()
		for unit, pvcs := range unitToPVCs {
			assert.NotEmptyf(t, pvcs, "unit %s was never attached to any volume", unit)
			for _, pvc := range pvcs {
				assert.Containsf(t, pvcToUnits[pvc], unit, "volume %s does not record unit %s", pvc, unit)
			}
		}
	})
}

func takeStorageSnapshot(ctx context.Context, t *testing.T, analyzer *storageanalyzer.Analyzer) {
	if _, err := analyzer.Run(ctx); err != nil {
		t.Fatal(err)
	}
}

func volumeProviderIDs(ctx context.Context, t *testing.T, d *setup.Deployment) map[string]string {
	volumes, err := d.CLI.ListStorage(ctx)
	require.NoError(t, err)

	ids := make(map[string]string)
	for name, volume := range volumes {
		if volume.ProviderID != "" {
			ids[name] = volume.ProviderID
		}
	}
	return ids
}
