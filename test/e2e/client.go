package e2eutil

import (
	"context"
	"fmt"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/config"
	"sigs.k8s.io/controller-runtime/pkg/log"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// TestClient is the global client used by e2e tests.
var TestClient *E2ETestClient

// Context tracks cleanup functions to be called at the end of a test.
type Context struct {
	cleanupFuncs [](func() error)
	t            *testing.T
}

// NewContext creates a context.
func NewContext(t *testing.T) *Context {
	return &Context{t: t}
}

// Cleanup is called at the end of a test.
func (ctx *Context) Cleanup() {
	for _, fn := range ctx.cleanupFuncs {
		err := fn()
		if err != nil {
			fmt.Println(err)
		}
	}
}

// AddCleanupFunc adds a cleanup function to the context to be called at the end of a test.
func (ctx *Context) AddCleanupFunc(fn func() error) {
	ctx.cleanupFuncs = append(ctx.cleanupFuncs, fn)
}

// E2ETestClient is a wrapper on client.Client for the direct Kubernetes
// operations the suite performs out-of-band of Juju.
type E2ETestClient struct {
	Client client.Client
}

func newE2ETestClient() (*E2ETestClient, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	cli, err := client.New(cfg, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		return nil, err
	}
	return &E2ETestClient{Client: cli}, nil
}

// Delete wraps client.Delete.
func (c *E2ETestClient) Delete(ctx context.Context, obj client.Object) error {
	return c.Client.Delete(ctx, obj)
}

// Get wraps client.Get.
func (c *E2ETestClient) Get(ctx context.Context, key types.NamespacedName, obj client.Object) error {
	return c.Client.Get(ctx, key, obj)
}

// DeletePod deletes a named pod, simulating an abrupt unit failure. The
// StatefulSet behind the application recreates it.
func (c *E2ETestClient) DeletePod(ctx context.Context, namespace, name string) error {
	pod := corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
	}
	return c.Delete(ctx, &pod)
}

// RunTest is the main entry point function for an e2e test. It configures
// logging and the Kubernetes client shared by all scenarios.
func RunTest(m *testing.M) (int, error) {
	logger, err := ConfigureLogger()
	if err != nil {
		return 1, err
	}
	defer logger.Sync() //nolint

	log.SetLogger(crzap.New(crzap.UseDevMode(true)))

	fmt.Println("Connecting to cluster")
	TestClient, err = newE2ETestClient()
	if err != nil {
		return 1, err
	}

	fmt.Println("Starting test")
	return m.Run(), nil
}
