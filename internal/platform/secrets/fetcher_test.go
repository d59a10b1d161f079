package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type recordingClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newRecordingClient() *recordingClient {
	return &recordingClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *recordingClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := req.GetName()
	c.calls[name]++
	if err := c.errs[name]; err != nil {
		return nil, err
	}
	if value, ok := c.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (c *recordingClient) Close() error { return nil }

func (c *recordingClient) set(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] = value
}

func (c *recordingClient) accessed(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func writeLocalSecrets(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(lines), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	resource := "projects/warungkita-prod/secrets/xendit_api_key/versions/latest"
	client.set(resource, "xnd_production_abc")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 3; i++ {
		value, err := fetcher.Resolve(ctx, "secret://xendit_api_key")
		if err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
		if value != "xnd_production_abc" {
			t.Fatalf("resolve %d = %q", i, value)
		}
	}
	if n := client.accessed(resource); n != 1 {
		t.Fatalf("remote accessed %d times, want 1", n)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	resource := "projects/warungkita-prod/secrets/xendit_api_key/versions/latest"
	client.errs[resource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
		WithFallbackFile(writeLocalSecrets(t, "secret://xendit_api_key=xnd_development_local\n")),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://xendit_api_key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "xnd_development_local" {
		t.Fatalf("resolve = %q, want local value", value)
	}
}

func TestResolveNotFoundDoesNotFallBack(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	resource := "projects/warungkita-prod/secrets/xendit_api_key/versions/latest"
	client.errs[resource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
		WithFallbackFile(writeLocalSecrets(t, "secret://xendit_api_key=should-not-be-used\n")),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://xendit_api_key"); err == nil {
		t.Fatal("resolve of missing secret succeeded")
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	resource := "projects/warungkita-prod/secrets/webhook_callback_token/versions/latest"
	client.set(resource, "token-before-rotation")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://webhook_callback_token"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	client.set(resource, "token-after-rotation")
	fetcher.Invalidate("secret://webhook_callback_token")

	value, err := fetcher.Resolve(ctx, "secret://webhook_callback_token")
	if err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if value != "token-after-rotation" {
		t.Fatalf("resolve = %q, want rotated value", value)
	}
	if n := client.accessed(resource); n != 2 {
		t.Fatalf("remote accessed %d times, want 2", n)
	}
}

func TestResolveHonoursVersionPins(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	pinned := "projects/warungkita-prod/secrets/xendit_api_key/versions/5"
	client.set(pinned, "value-at-version-5")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
		WithVersionPins(map[string]string{"secret://xendit_api_key": "5"}),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://xendit_api_key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "value-at-version-5" {
		t.Fatalf("resolve = %q, want pinned version value", value)
	}
	if n := client.accessed(pinned); n != 1 {
		t.Fatalf("pinned version accessed %d times, want 1", n)
	}
}

func TestResolveExplicitVersionAndProjectOverride(t *testing.T) {
	ctx := context.Background()
	client := newRecordingClient()
	resource := "projects/warungkita-staging/secrets/xendit_api_key/versions/2"
	client.set(resource, "staging-v2")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("warungkita-prod"),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://xendit_api_key?version=2&project=warungkita-staging")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "staging-v2" {
		t.Fatalf("resolve = %q, want staging-v2", value)
	}
}

func TestFetcherWithoutCredentialsServesLocalFile(t *testing.T) {
	ctx := context.Background()

	original := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { secretManagerClientFactory = original })

	fetcher, err := NewFetcher(ctx,
		WithFallbackFile(writeLocalSecrets(t, "# development credentials\nsm://xendit_api_key=xnd_development_local\n")),
	)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://xendit_api_key")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "xnd_development_local" {
		t.Fatalf("resolve = %q, want local value", value)
	}
}
