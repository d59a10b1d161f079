//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	pconfig "github.com/warungkita/api/internal/platform/config"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/repositories"
)

func TestCounterRepositoryAgainstEmulator(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}

	endpoint := startRepositoryEmulator(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "warungkita-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// Concurrent order-number allocation for a single day bucket must hand
	// out a dense sequence with no duplicates.
	const workers = 16
	counterID := "orders-20260901"
	values := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(slot int) {
			defer wg.Done()
			v, err := repo.Next(ctx, counterID, 1)
			if err != nil {
				t.Errorf("worker %d: %v", slot, err)
				return
			}
			values[slot] = v
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		if want := int64(i + 1); v != want {
			t.Fatalf("allocation %d = %d, want %d (full sequence %v)", i, v, want, values)
		}
	}

	// A bounded counter refuses allocations past its ceiling.
	ceiling := int64(3)
	zero := int64(0)
	if err := repo.Configure(ctx, "test-codes", repositories.CounterConfig{
		Step:         1,
		MaxValue:     &ceiling,
		InitialValue: &zero,
	}); err != nil {
		t.Fatalf("configure bounded counter: %v", err)
	}
	for i := int64(1); i <= ceiling; i++ {
		v, err := repo.Next(ctx, "test-codes", 0)
		if err != nil {
			t.Fatalf("bounded allocation %d: %v", i, err)
		}
		if v != i {
			t.Fatalf("bounded allocation = %d, want %d", v, i)
		}
	}
	_, err = repo.Next(ctx, "test-codes", 0)
	if err == nil {
		t.Fatal("allocation past ceiling succeeded")
	}
	if !repositories.IsCounterExhausted(err) {
		t.Fatalf("error past ceiling not classified as exhausted: %v", err)
	}
}

// startRepositoryEmulator launches the Firestore emulator in docker and blocks
// until it accepts connections. The test is skipped when docker is unavailable.
func startRepositoryEmulator(t *testing.T) string {
	t.Helper()

	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	infoCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(infoCtx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker",
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		"gcr.io/google.com/cloudsdktool/cloud-sdk:emulators",
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("start firestore emulator: %v - %s", err, out)
	}
	containerID := strings.TrimSpace(string(out))
	if len(containerID) > 12 {
		containerID = containerID[:12]
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return endpoint
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator at %s did not become ready", endpoint)
	return ""
}
