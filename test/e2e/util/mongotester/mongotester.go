package mongotester

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/canonical/mongodb-k8s-tests/test/e2e/util/juju"
)

const testDatabase = "testing"

// replica-set member states as reported by replSetGetStatus.
const (
	StatePrimary   = "PRIMARY"
	StateSecondary = "SECONDARY"
)

// Tester wraps a mongo client configured for a deployment or for a single unit.
type Tester struct {
	mongoClient *mongo.Client
	clientOpts  []*options.ClientOptions
}

// OptionApplier is an interface which is able to accept a list
// of options.ClientOptions, and return the final desired list
// making any modifications required.
type OptionApplier interface {
	ApplyOption(opts ...*options.ClientOptions) []*options.ClientOptions
}

func newTester(opts ...*options.ClientOptions) *Tester {
	t := &Tester{}
	t.clientOpts = append(t.clientOpts, opts...)
	return t
}

// FromDeployment returns a replica-set aware Tester for the whole
// application. Credentials come from the charm's peer relation data.
func FromDeployment(ctx context.Context, t *testing.T, cli *juju.CLI, app string, numUnits int, opts ...OptionApplier) (*Tester, error) {
	password, err := cli.AdminPassword(ctx, app)
	if err != nil {
		return nil, err
	}

	hosts := juju.UnitHostnames(app, numUnits)
	t.Logf("Configuring hosts: %s for application: %s", hosts, app)

	clientOpts := WithHosts(hosts).ApplyOption()
	clientOpts = WithReplicaSet(app).ApplyOption(clientOpts...)
	clientOpts = WithScram(juju.AdminUser, password).ApplyOption(clientOpts...)

	for _, opt := range opts {
		clientOpts = opt.ApplyOption(clientOpts...)
	}
	return newTester(clientOpts...), nil
}

// ForUnit returns a Tester holding a direct (non replica-set aware)
// connection to a single unit, addressed by pod IP.
func ForUnit(ctx context.Context, t *testing.T, cli *juju.CLI, app string, unitID int, opts ...OptionApplier) (*Tester, error) {
	address, err := cli.UnitAddress(ctx, app, unitID)
	if err != nil {
		return nil, err
	}
	t.Logf("Configuring direct connection to %s/%d at %s", app, unitID, address)

	clientOpts := WithHosts([]string{fmt.Sprintf("%s:27017", address)}).ApplyOption()
	clientOpts = WithDirectConnection().ApplyOption(clientOpts...)

	for _, opt := range opts {
		clientOpts = opt.ApplyOption(clientOpts...)
	}
	return newTester(clientOpts...), nil
}

// ForHost returns a Tester holding a direct authenticated connection to
// one replica-set member host, reading from that member.
func ForHost(ctx context.Context, cli *juju.CLI, app, host string) (*Tester, error) {
	password, err := cli.AdminPassword(ctx, app)
	if err != nil {
		return nil, err
	}

	clientOpts := WithHosts([]string{host}).ApplyOption()
	clientOpts = WithDirectConnection().ApplyOption(clientOpts...)
	clientOpts = WithScram(juju.AdminUser, password).ApplyOption(clientOpts...)
	clientOpts = WithReadPreference(readpref.SecondaryPreferred()).ApplyOption(clientOpts...)
	return newTester(clientOpts...), nil
}

// CommandResult carries the outcome of an ad-hoc admin command. Callers
// must check Succeeded before trusting Data.
type CommandResult struct {
	Succeeded bool
	Data      bson.M
	Error     error
}

// RunAdminCommand runs the given command against the admin database.
func (m *Tester) RunAdminCommand(ctx context.Context, cmd bson.D) CommandResult {
	if err := m.ensureClient(ctx); err != nil {
		return CommandResult{Error: err}
	}

	var data bson.M
	err := m.mongoClient.Database("admin").RunCommand(ctx, cmd).Decode(&data)
	if err != nil {
		return CommandResult{Error: errors.Wrap(err, "running admin command")}
	}
	return CommandResult{Succeeded: true, Data: data}
}

// ReplSetStatus is the subset of replSetGetStatus the suite asserts on.
type ReplSetStatus struct {
	Set     string          `bson:"set"`
	Members []ReplSetMember `bson:"members"`
}

// ReplSetMember is one member entry of replSetGetStatus.
type ReplSetMember struct {
	Name       string    `bson:"name"`
	StateStr   string    `bson:"stateStr"`
	State      int       `bson:"state"`
	Health     float64   `bson:"health"`
	OptimeDate time.Time `bson:"optimeDate"`
}

// ReplSetGetStatus fetches and decodes replSetGetStatus.
func (m *Tester) ReplSetGetStatus(ctx context.Context) (ReplSetStatus, error) {
	if err := m.ensureClient(ctx); err != nil {
		return ReplSetStatus{}, err
	}

	var status ReplSetStatus
	err := m.mongoClient.Database("admin").
		RunCommand(ctx, bson.D{{Key: "replSetGetStatus", Value: 1}}).
		Decode(&status)
	if err != nil {
		return ReplSetStatus{}, errors.Wrap(err, "running replSetGetStatus")
	}
	return status, nil
}

// PrimaryAddress returns the host of the single primary member, or ""
// when no member reports the primary state.
func (s ReplSetStatus) PrimaryAddress() string {
	for _, member := range s.Members {
		if member.StateStr == StatePrimary {
			return member.Name
		}
	}
	return ""
}

// PrimaryCount returns how many members report the primary state.
func (s ReplSetStatus) PrimaryCount() int {
	count := 0
	for _, member := range s.Members {
		if member.StateStr == StatePrimary {
			count++
		}
	}
	return count
}

// MemberAddresses returns the hosts of all members.
func (s ReplSetStatus) MemberAddresses() []string {
	addresses := make([]string, 0, len(s.Members))
	for _, member := range s.Members {
		addresses = append(addresses, member.Name)
	}
	return addresses
}

// SecondaryDelay is the replication lag of one secondary, derived from
// the optime difference against the primary.
type SecondaryDelay struct {
	Host  string
	Delay time.Duration
}

// SecondarySyncDelays computes the replication lag of every secondary
// relative to the primary's last applied optime. Lag never goes below zero.
func (s ReplSetStatus) SecondarySyncDelays() []SecondaryDelay {
	var primaryOptime time.Time
	for _, member := range s.Members {
		if member.StateStr == StatePrimary {
			primaryOptime = member.OptimeDate
		}
	}

	var delays []SecondaryDelay
	for _, member := range s.Members {
		if member.StateStr != StateSecondary {
			continue
		}
		delay := primaryOptime.Sub(member.OptimeDate)
		if delay < 0 {
			delay = 0
		}
		delays = append(delays, SecondaryDelay{Host: member.Name, Delay: delay})
	}
	return delays
}

// ConnectivitySucceeds performs a basic check that ensures that it is
// possible to reach the deployment with a ping.
func (m *Tester) ConnectivitySucceeds(opts ...OptionApplier) func(t *testing.T) {
	clientOpts := make([]*options.ClientOptions, 0)
	for _, optApplier := range opts {
		clientOpts = optApplier.ApplyOption(clientOpts...)
	}

	return func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := m.ensureClient(ctx, clientOpts...); err != nil {
			t.Fatal(err)
		}

		attempts := 0
		err := wait.Poll(time.Second*3, time.Minute*2, func() (done bool, err error) {
			attempts++
			if err := m.mongoClient.Ping(ctx, nil); err != nil {
				t.Logf("Ping attempt %d failed: %s", attempts, err)
				return false, nil
			}
			return true, nil
		})
		if err != nil {
			t.Fatalf("error during connectivity check: %s", err)
		}
		t.Logf("Connectivity check was successful after %d attempt(s)", attempts)
	}
}

// CreateCollection creates a named collection in the testing database.
func (m *Tester) CreateCollection(ctx context.Context, collection string) error {
	if err := m.ensureClient(ctx); err != nil {
		return err
	}
	return m.mongoClient.Database(testDatabase).CreateCollection(ctx, collection)
}

// InsertDocuments stores the given documents in the named collection
// and returns the number of inserted ids.
func (m *Tester) InsertDocuments(ctx context.Context, collection string, docs []interface{}) (int, error) {
	if err := m.ensureClient(ctx); err != nil {
		return 0, err
	}
	result, err := m.mongoClient.Database(testDatabase).Collection(collection).InsertMany(ctx, docs)
	if err != nil {
		return 0, errors.Wrapf(err, "inserting documents into %s", collection)
	}
	return len(result.InsertedIDs), nil
}

// CountDocuments counts the documents of the named collection, honoring
// the read preference the Tester was built with.
func (m *Tester) CountDocuments(ctx context.Context, collection string) (int64, error) {
	if err := m.ensureClient(ctx); err != nil {
		return 0, err
	}
	count, err := m.mongoClient.Database(testDatabase).Collection(collection).CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, errors.Wrapf(err, "counting documents in %s", collection)
	}
	return count, nil
}

// VerifyDocumentsStored polls until the named collection holds exactly
// the expected number of documents.
func (m *Tester) VerifyDocumentsStored(ctx context.Context, t *testing.T, collection string, expected int64, timeout time.Duration) error {
	return wait.Poll(time.Second*3, timeout, func() (done bool, err error) {
		count, err := m.CountDocuments(ctx, collection)
		if err != nil {
			t.Logf("documents in %s not countable yet: %s", collection, err)
			return false, nil
		}
		t.Logf("collection %s currently holds %d/%d documents", collection, count, expected)
		return count == expected, nil
	})
}

// ServerVersion returns the mongod version reported by buildInfo.
func (m *Tester) ServerVersion(ctx context.Context) (string, error) {
	result := m.RunAdminCommand(ctx, bson.D{{Key: "buildInfo", Value: 1}})
	if !result.Succeeded {
		return "", result.Error
	}
	version, ok := result.Data["version"].(string)
	if !ok {
		return "", errors.New("buildInfo did not report a version string")
	}
	return version, nil
}

// FeatureCompatibilityVersion returns the server's FCV via getParameter.
func (m *Tester) FeatureCompatibilityVersion(ctx context.Context) (string, error) {
	result := m.RunAdminCommand(ctx, bson.D{
		{Key: "getParameter", Value: 1},
		{Key: "featureCompatibilityVersion", Value: 1},
	})
	if !result.Succeeded {
		return "", result.Error
	}
	fcv, ok := result.Data["featureCompatibilityVersion"].(bson.M)
	if !ok {
		return "", errors.New("getParameter did not report featureCompatibilityVersion")
	}
	version, _ := fcv["version"].(string)
	return version, nil
}

// Disconnect closes the underlying client, if one was established.
func (m *Tester) Disconnect(ctx context.Context) error {
	if m.mongoClient == nil {
		return nil
	}
	return m.mongoClient.Disconnect(ctx)
}

// ensureClient establishes a mongo client connection applying any
// additional client options on top of what were provided at construction.
func (m *Tester) ensureClient(ctx context.Context, opts ...*options.ClientOptions) error {
	if m.mongoClient != nil && len(opts) == 0 {
		return nil
	}
	allOpts := m.clientOpts
	allOpts = append(allOpts, opts...)
	mongoClient, err := mongo.Connect(ctx, allOpts...)
	if err != nil {
		return err
	}
	m.mongoClient = mongoClient
	return nil
}

// clientOptionAdder is the standard implementation that simply adds a
// new options.ClientOptions to the mongo client.
type clientOptionAdder struct {
	option *options.ClientOptions
}

func (c clientOptionAdder) ApplyOption(opts ...*options.ClientOptions) []*options.ClientOptions {
	return append(opts, c.option)
}

// WithHosts configures the hosts of the deployment.
func WithHosts(hosts []string) OptionApplier {
	return clientOptionAdder{
		option: &options.ClientOptions{
			Hosts: hosts,
		},
	}
}

// WithScram configures SCRAM-SHA-256 credentials against the admin database.
func WithScram(username, password string) OptionApplier {
	return clientOptionAdder{
		option: &options.ClientOptions{
			Auth: &options.Credential{
				AuthMechanism: "SCRAM-SHA-256",
				AuthSource:    "admin",
				Username:      username,
				Password:      password,
			},
		},
	}
}

// WithReplicaSet makes the client replica-set aware.
func WithReplicaSet(name string) OptionApplier {
	return clientOptionAdder{
		option: options.Client().SetReplicaSet(name),
	}
}

// WithDirectConnection bypasses replica-set discovery and pins the
// client to the configured host.
func WithDirectConnection() OptionApplier {
	return clientOptionAdder{
		option: options.Client().SetDirect(true),
	}
}

// WithReadPreference selects which members the client reads from.
func WithReadPreference(pref *readpref.ReadPref) OptionApplier {
	return clientOptionAdder{
		option: options.Client().SetReadPreference(pref),
	}
}
