package juju

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/stretchr/objx"
	"go.uber.org/zap"
)

// AdminUser is the administrative database user created by the charm.
const AdminUser = "operator"

// peerRelationEndpoint is the name of the charm's peer relation. The
// charm publishes the admin password in the application data of this
// relation.
const peerRelationEndpoint = "mongodb"

// CLI wraps the juju binary scoped to a single model. All queries ask
// for JSON output and decode it into the types in status.go.
type CLI struct {
	Model string

	log *zap.SugaredLogger
}

// NewCLI returns a CLI bound to the given model name. A nil logger
// falls back to the global sugared logger.
func NewCLI(model string, log *zap.SugaredLogger) *CLI {
	if log == nil {
		log = zap.S()
	}
	return &CLI{Model: model, log: log}
}

// Run executes a juju subcommand against the model and returns its stdout.
// A non-zero exit surfaces as an error carrying stderr.
func (c *CLI) Run(ctx context.Context, args ...string) ([]byte, error) {
	args = append(args, fmt.Sprintf("--model=%s", c.Model))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "juju", args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debugw("running juju command", "args", args)
	if err := cmd.Run(); err != nil {
		return nil, errors.Errorf("juju %s: %s: %s", args[0], err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Status fetches and decodes the model status.
func (c *CLI) Status(ctx context.Context) (*Status, error) {
	out, err := c.Run(ctx, "status", "--format=json")
	if err != nil {
		return nil, err
	}
	status := &Status{}
	if err := json.Unmarshal(out, status); err != nil {
		return nil, errors.Wrap(err, "decoding juju status")
	}
	return status, nil
}

// ListStorage returns the volumes section of `juju list-storage`,
// keyed by volume index.
func (c *CLI) ListStorage(ctx context.Context) (map[string]Volume, error) {
	out, err := c.Run(ctx, "list-storage", "--format=json")
	if err != nil {
		return nil, err
	}
	listing := struct {
		Volumes map[string]Volume `json:"volumes"`
	}{}
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, errors.Wrap(err, "decoding juju list-storage")
	}
	return listing.Volumes, nil
}

// VolumeProviderID returns the external provider id (the k8s PVC name)
// of the volume with the given index.
func (c *CLI) VolumeProviderID(ctx context.Context, volumeIndex string) (string, error) {
	volumes, err := c.ListStorage(ctx)
	if err != nil {
		return "", err
	}
	volume, ok := volumes[volumeIndex]
	if !ok {
		return "", errors.Errorf("no volume with index %q in model %s", volumeIndex, c.Model)
	}
	return volume.ProviderID, nil
}

// Deploy deploys the charm at the given path with the requested number
// of units and OCI resources.
func (c *CLI) Deploy(ctx context.Context, charmPath, app string, numUnits int, resources map[string]string) error {
	args := []string{"deploy", charmPath, app, "--num-units", fmt.Sprintf("%d", numUnits)}
	for name, value := range resources {
		args = append(args, "--resource", fmt.Sprintf("%s=%s", name, value))
	}
	_, err := c.Run(ctx, args...)
	return err
}

// ScaleApplication scales the application to an absolute unit count.
func (c *CLI) ScaleApplication(ctx context.Context, app string, units int) error {
	_, err := c.Run(ctx, "scale-application", app, fmt.Sprintf("%d", units))
	return err
}

// RemoveApplication removes the application and destroys its storage.
func (c *CLI) RemoveApplication(ctx context.Context, app string) error {
	_, err := c.Run(ctx, "remove-application", app, "--destroy-storage")
	return err
}

// SetModelConfig applies the given model configuration values.
func (c *CLI) SetModelConfig(ctx context.Context, values map[string]string) error {
	args := []string{"model-config"}
	for key, value := range values {
		args = append(args, fmt.Sprintf("%s=%s", key, value))
	}
	_, err := c.Run(ctx, args...)
	return err
}

// ShowUnit returns the raw `juju show-unit` document for the given unit.
// The document shape varies with relations present, so it is exposed as
// an objx.Map rather than a struct.
func (c *CLI) ShowUnit(ctx context.Context, unitName string) (objx.Map, error) {
	out, err := c.Run(ctx, "show-unit", unitName, "--format=json")
	if err != nil {
		return nil, err
	}
	doc, err := objx.FromJSON(string(out))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding juju show-unit %s", unitName)
	}
	return doc, nil
}

// AdminPassword digs the charm-generated admin password out of the peer
// relation application data of the application's first unit.
func (c *CLI) AdminPassword(ctx context.Context, app string) (string, error) {
	unitName := fmt.Sprintf("%s/0", app)
	doc, err := c.ShowUnit(ctx, unitName)
	if err != nil {
		return "", err
	}
	return adminPasswordFromUnitDoc(doc, unitName)
}

func adminPasswordFromUnitDoc(doc objx.Map, unitName string) (string, error) {
	relations := doc.Get(unitName + ".relation-info").InterSlice()
	for _, entry := range relations {
		relation := objx.New(entry)
		if relation.Get("endpoint").Str() != peerRelationEndpoint {
			continue
		}
		password := relation.Get("application-data.admin_password").Str()
		if password == "" {
			return "", errors.Errorf("peer relation of %s has no admin_password yet", unitName)
		}
		return password, nil
	}
	return "", errors.Errorf("unit %s has no %q peer relation", unitName, peerRelationEndpoint)
}

// LeaderID returns the numeric unit id of the application's leader unit.
func (c *CLI) LeaderID(ctx context.Context, app string) (int, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return -1, err
	}
	for name, unit := range status.Units(app) {
		if unit.Leader {
			return UnitID(name), nil
		}
	}
	return -1, errors.Errorf("application %s has no elected leader", app)
}

// UnitAddress returns the pod IP address of the given unit.
func (c *CLI) UnitAddress(ctx context.Context, app string, unitID int) (string, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return "", err
	}
	unitName := fmt.Sprintf("%s/%d", app, unitID)
	unit, ok := status.Units(app)[unitName]
	if !ok {
		return "", errors.Errorf("unit %s not present in model %s", unitName, c.Model)
	}
	if unit.Address == "" {
		return "", errors.Errorf("unit %s has no address yet", unitName)
	}
	return unit.Address, nil
}

// UnitHostname returns the stable DNS name of a unit's mongod,
// including the mongod port. Unit ids map onto pod ordinals, so the
// name follows the headless-service convention of the charm.
func UnitHostname(app string, unitID int) string {
	return fmt.Sprintf("%s-%d.%s-endpoints:27017", app, unitID, app)
}

// UnitHostnames returns the hostnames for unit ids 0..numUnits-1.
func UnitHostnames(app string, numUnits int) []string {
	hosts := make([]string, 0, numUnits)
	for unitID := 0; unitID < numUnits; unitID++ {
		hosts = append(hosts, UnitHostname(app, unitID))
	}
	return hosts
}

// PodName returns the name of the pod backing a replica-set host, which
// is the host part of the member address up to the first dot.
func PodName(memberHost string) string {
	return strings.SplitN(memberHost, ".", 2)[0]
}
