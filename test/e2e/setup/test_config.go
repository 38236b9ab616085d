package setup

import (
	"os"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/canonical/mongodb-k8s-tests/pkg/util/envvar"
)

const (
	modelNameEnvName      = "E2E_JUJU_MODEL"
	appNameEnvName        = "E2E_APP_NAME"
	charmPathEnvName      = "E2E_CHARM_PATH"
	charmMetadataEnvName  = "E2E_CHARM_METADATA"
	unitsEnvName          = "E2E_UNITS"
	mongodbImageEnvName   = "E2E_MONGODB_IMAGE"
	performCleanupEnvName = "PERFORM_CLEANUP"

	mongodbImageResource = "mongodb-image"
)

type testConfig struct {
	ModelName      string
	AppName        string
	CharmPath      string
	CharmMetadata  string
	Units          int
	MongodbImage   string
	PerformCleanup bool
}

func defaultConfig() testConfig {
	return testConfig{
		ModelName:     "mongodb-e2e",
		AppName:       "mongodb-k8s",
		CharmPath:     "./mongodb-k8s_ubuntu-20.04-amd64.charm",
		CharmMetadata: "./metadata.yaml",
		Units:         3,
	}
}

// loadTestConfigFromEnv reads the scenario configuration from the
// environment and fills unset fields with defaults. The workload image
// comes from the charm's metadata unless overridden explicitly.
func loadTestConfigFromEnv() (testConfig, error) {
	config := testConfig{
		ModelName:      os.Getenv(modelNameEnvName),
		AppName:        os.Getenv(appNameEnvName),
		CharmPath:      os.Getenv(charmPathEnvName),
		CharmMetadata:  os.Getenv(charmMetadataEnvName),
		Units:          envvar.ReadIntOrDefault(unitsEnvName, 0),
		MongodbImage:   os.Getenv(mongodbImageEnvName),
		PerformCleanup: envvar.ReadBool(performCleanupEnvName),
	}

	if err := mergo.Merge(&config, defaultConfig()); err != nil {
		return testConfig{}, errors.Wrap(err, "merging test config defaults")
	}

	if config.MongodbImage == "" {
		image, err := imageFromCharmMetadata(config.CharmMetadata)
		if err != nil {
			return testConfig{}, err
		}
		config.MongodbImage = image
	}

	return config, nil
}

type charmMetadata struct {
	Resources map[string]charmResource `json:"resources"`
}

type charmResource struct {
	Type           string `json:"type"`
	UpstreamSource string `json:"upstream-source"`
}

// imageFromCharmMetadata returns the upstream-source of the charm's
// mongodb-image oci resource, the image the charm itself would run.
func imageFromCharmMetadata(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "reading charm metadata %s", path)
	}

	metadata := charmMetadata{}
	if err := yaml.Unmarshal(data, &metadata); err != nil {
		return "", errors.Wrapf(err, "decoding charm metadata %s", path)
	}

	resource, ok := metadata.Resources[mongodbImageResource]
	if !ok || resource.UpstreamSource == "" {
		return "", errors.Errorf("charm metadata %s does not declare an %s resource", path, mongodbImageResource)
	}
	return resource.UpstreamSource, nil
}
