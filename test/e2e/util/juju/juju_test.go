package juju

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/objx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statusFixture = `{
  "applications": {
    "mongodb-k8s": {
      "units": {
        "mongodb-k8s/0": {
          "provider-id": "mongodb-k8s-0",
          "address": "10.1.42.10",
          "leader": true,
          "workload-status": {"current": "active"}
        },
        "mongodb-k8s/1": {
          "provider-id": "mongodb-k8s-1",
          "address": "10.1.42.11",
          "workload-status": {"current": "active"}
        },
        "mongodb-k8s/2": {
          "provider-id": "mongodb-k8s-2",
          "address": "10.1.42.12",
          "workload-status": {"current": "waiting", "message": "Initializing MongoDB"}
        }
      }
    }
  },
  "storage": {
    "volumes": {
      "0": {
        "provider-id": "pvc-aaa",
        "status": {"current": "attached"},
        "attachments": {"units": {"mongodb-k8s/0": {"life": "alive"}}}
      },
      "3": {
        "provider-id": "pvc-zzz",
        "status": {"current": "detached"}
      }
    }
  }
}`

func TestStatusDecoding(t *testing.T) {
	status := &Status{}
	require.NoError(t, json.Unmarshal([]byte(statusFixture), status))

	units := status.Units("mongodb-k8s")
	require.Len(t, units, 3)
	assert.True(t, units["mongodb-k8s/0"].Leader)
	assert.False(t, units["mongodb-k8s/1"].Leader)
	assert.Equal(t, "mongodb-k8s-1", units["mongodb-k8s/1"].ProviderID)
	assert.Equal(t, "active", units["mongodb-k8s/1"].WorkloadStatus.Current)
	assert.Equal(t, "waiting", units["mongodb-k8s/2"].WorkloadStatus.Current)

	volumes := status.Storage.Volumes
	require.Len(t, volumes, 2)
	assert.True(t, volumes["0"].Attachments.Units["mongodb-k8s/0"].Alive())
	assert.Nil(t, volumes["3"].Attachments)
	assert.Equal(t, "detached", volumes["3"].Status.Current)
}

func TestUnitNamesAreSortedByUnitID(t *testing.T) {
	status := &Status{Applications: map[string]Application{
		"mongodb-k8s": {Units: map[string]Unit{
			"mongodb-k8s/10": {},
			"mongodb-k8s/2":  {},
			"mongodb-k8s/0":  {},
		}},
	}}

	assert.Equal(t, []string{"mongodb-k8s/0", "mongodb-k8s/2", "mongodb-k8s/10"},
		status.UnitNames("mongodb-k8s"))
	assert.Nil(t, status.UnitNames("not-deployed"))
}

func TestUnitID(t *testing.T) {
	assert.Equal(t, 0, UnitID("mongodb-k8s/0"))
	assert.Equal(t, 12, UnitID("mongodb-k8s/12"))
	assert.Equal(t, -1, UnitID("not-a-unit"))
}

func TestUnitHostnames(t *testing.T) {
	assert.Equal(t, "mongodb-k8s-3.mongodb-k8s-endpoints:27017", UnitHostname("mongodb-k8s", 3))
	assert.Equal(t, []string{
		"mongodb-k8s-0.mongodb-k8s-endpoints:27017",
		"mongodb-k8s-1.mongodb-k8s-endpoints:27017",
	}, UnitHostnames("mongodb-k8s", 2))
}

func TestPodName(t *testing.T) {
	assert.Equal(t, "mongodb-k8s-1", PodName("mongodb-k8s-1.mongodb-k8s-endpoints:27017"))
	assert.Equal(t, "localhost", PodName("localhost"))
}

func TestAdminPasswordLookup(t *testing.T) {
	doc := objx.MustFromJSON(`{
      "mongodb-k8s/0": {
        "relation-info": [
          {"endpoint": "metrics", "application-data": {}},
          {"endpoint": "mongodb", "application-data": {"admin_password": "s3cret", "keyfile": "abc"}}
        ]
      }
    }`)

	password, err := adminPasswordFromUnitDoc(doc, "mongodb-k8s/0")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", password)

	_, err = adminPasswordFromUnitDoc(objx.MustFromJSON(`{"mongodb-k8s/0": {"relation-info": []}}`), "mongodb-k8s/0")
	assert.Error(t, err)
}
