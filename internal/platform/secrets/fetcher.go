// Package secrets resolves secret:// references against Google Secret
// Manager, with an in-process cache and a local dotfile fallback so the API
// can run without cloud credentials during development.
package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	localEnvironment  = "local"
	localSecretsFile  = ".secrets.local"
	latestVersion     = "latest"
	environmentEnvVar = "API_ENVIRONMENT"
)

// Swapped out in tests to simulate missing credentials.
var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret references, caching values per canonical
// reference and version until invalidated.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool
	clientOpts []option.ClientOption

	logger *zap.Logger

	env            string
	defaultProject string
	projectByEnv   map[string]string
	versionPins    map[string]string

	localPath string
	localOnce sync.Once
	localVals map[string]string
	localErr  error

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	value     string
	canonical string
	fetchedAt time.Time
}

// Option customises Fetcher construction.
type Option func(*Fetcher)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment selects the environment key used for per-environment
// project lookups and version pins.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) { f.env = strings.ToLower(strings.TrimSpace(env)) }
}

// WithDefaultProject sets the project used when a reference carries no
// project override and no environment mapping matches.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) { f.defaultProject = strings.TrimSpace(projectID) }
}

// WithProjectMap supplies per-environment Secret Manager project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(f *Fetcher) { f.projectByEnv = cloneMap(m) }
}

// WithFallbackFile points the fetcher at a different local secrets file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) { f.localPath = strings.TrimSpace(path) }
}

// WithSecretManagerClient injects a preconfigured client, primarily for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(f *Fetcher) { f.client = client }
}

// WithClientOptions forwards Cloud client options to the default client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.clientOpts = append(f.clientOpts, opts...) }
}

// WithVersionPins overrides resolved versions, keyed by canonical reference
// or by "env:canonical" for an environment-scoped pin.
func WithVersionPins(pins map[string]string) Option {
	return func(f *Fetcher) { f.versionPins = cloneMap(pins) }
}

// NewFetcher builds a Fetcher. When no client is injected and Secret Manager
// cannot be dialled, the fetcher still works in fallback-only mode.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          strings.ToLower(strings.TrimSpace(os.Getenv(environmentEnvVar))),
		projectByEnv: map[string]string{},
		versionPins:  map[string]string{},
		localPath:    localSecretsFile,
		cache:        make(map[string]cached),
	}
	if f.env == "" {
		f.env = localEnvironment
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		client, err := secretManagerClientFactory(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secrets: secret manager client unavailable, using local fallback only", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the Secret Manager client if the fetcher created it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference. Remote hits are
// cached; access and availability failures fall through to the local file,
// while not-found and other hard errors surface to the caller.
func (f *Fetcher) Resolve(ctx context.Context, rawRef string) (string, error) {
	ref, err := parseSecretRef(rawRef)
	if err != nil {
		return "", err
	}

	version := f.resolveVersion(ref)
	key := ref.canonical + "#" + version
	if value, ok := f.cachedValue(key); ok {
		return value, nil
	}

	projectID := f.resolveProject(ref)
	if projectID != "" && f.client != nil {
		value, fetchErr := f.access(ctx, projectID, ref.name, version)
		if fetchErr == nil {
			f.remember(key, ref.canonical, value)
			return value, nil
		}
		if !localEligible(fetchErr) {
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", ref.canonical, fetchErr)
		}
		f.logger.Debug("secrets: using local fallback", zap.String("ref", ref.canonical), zap.Error(fetchErr))
	}

	value, ok := f.localValue(ref, version)
	if !ok {
		return "", fmt.Errorf("secrets: fallback value not found for %s", ref.canonical)
	}
	f.remember(key, ref.canonical, value)
	return value, nil
}

// Invalidate drops every cached version of a reference, forcing the next
// Resolve to re-fetch after a rotation.
func (f *Fetcher) Invalidate(rawRef string) {
	ref, err := parseSecretRef(rawRef)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, entry := range f.cache {
		if entry.canonical == ref.canonical {
			delete(f.cache, key)
		}
	}
}

func (f *Fetcher) cachedValue(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	return entry.value, ok
}

func (f *Fetcher) remember(key, canonical, value string) {
	f.mu.Lock()
	f.cache[key] = cached{value: value, canonical: canonical, fetchedAt: time.Now()}
	f.mu.Unlock()
}

func (f *Fetcher) access(ctx context.Context, projectID, name, version string) (string, error) {
	resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, name, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) resolveProject(ref secretRef) string {
	if ref.project != "" {
		return ref.project
	}
	if id := strings.TrimSpace(f.projectByEnv[f.env]); id != "" {
		return id
	}
	return f.defaultProject
}

func (f *Fetcher) resolveVersion(ref secretRef) string {
	if ref.version != "" {
		return ref.version
	}
	if pin := strings.TrimSpace(f.versionPins[f.env+":"+ref.canonical]); pin != "" {
		return pin
	}
	if pin := strings.TrimSpace(f.versionPins[ref.canonical]); pin != "" {
		return pin
	}
	return latestVersion
}

func (f *Fetcher) localValue(ref secretRef, version string) (string, bool) {
	f.localOnce.Do(f.loadLocalFile)
	if f.localErr != nil {
		f.logger.Debug("secrets: fallback file error", zap.Error(f.localErr))
		return "", false
	}
	if value, ok := f.localVals[ref.canonical+"#"+version]; ok {
		return value, true
	}
	value, ok := f.localVals[ref.canonical]
	return value, ok
}

// loadLocalFile parses the dotenv-style fallback file once. Lines are
// "secret://name=value"; sm:// keys are accepted as an alias.
func (f *Fetcher) loadLocalFile() {
	f.localVals = map[string]string{}
	path := strings.TrimSpace(f.localPath)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.localErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rawKey, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key := strings.TrimSpace(rawKey)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(key, "sm://"); ok {
			key = "secret://" + rest
		}
		ref, err := parseSecretRef(key)
		if err != nil {
			f.localVals[key] = value
			continue
		}
		version := ref.version
		if version == "" {
			version = latestVersion
		}
		f.localVals[ref.canonical] = value
		f.localVals[ref.canonical+"#"+version] = value
	}
	if err := scanner.Err(); err != nil {
		f.localErr = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
}

func parseSecretRef(raw string) (secretRef, error) {
	if strings.TrimSpace(raw) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""
	query := u.Query()

	return secretRef{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(query.Get("version")),
		project:   strings.TrimSpace(query.Get("project")),
	}, nil
}

// localEligible reports whether a Secret Manager failure should be served
// from the fallback file instead of surfacing. Not-found stays an error so
// typos are caught.
func localEligible(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}

func cloneMap(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
