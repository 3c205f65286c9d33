package hooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverPort extracts the loopback port an httptest server listens on.
func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return port
}

// TestGetWorkerPort tests environment override and fallback.
func TestGetWorkerPort(t *testing.T) {
	t.Setenv("CLAUDE_MEMORY_WORKER_PORT", "")
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())

	t.Setenv("CLAUDE_MEMORY_WORKER_PORT", "12345")
	assert.Equal(t, 12345, GetWorkerPort())

	t.Setenv("CLAUDE_MEMORY_WORKER_PORT", "invalid")
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())

	t.Setenv("CLAUDE_MEMORY_WORKER_PORT", "-1")
	assert.Equal(t, DefaultWorkerPort, GetWorkerPort())
}

// TestIsPortInUse tests listener detection.
func TestIsPortInUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.True(t, IsPortInUse(serverPort(t, server)))
	assert.False(t, IsPortInUse(59999))
}

// TestIsWorkerRunning tests the health probe against a fake worker.
func TestIsWorkerRunning(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()

	assert.True(t, IsWorkerRunning(serverPort(t, healthy)))
	assert.False(t, IsWorkerRunning(59999))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	assert.False(t, IsWorkerRunning(serverPort(t, broken)))
}

// TestGetWorkerVersion tests version probing and its failure modes.
func TestGetWorkerVersion(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "returns version from worker",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/api/version" {
					_ = json.NewEncoder(w).Encode(map[string]string{"version": "1.2.3"})
				}
			},
			want: "1.2.3",
		},
		{
			name: "empty on 404",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			},
			want: "",
		},
		{
			name: "empty on invalid JSON",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("not json"))
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			assert.Equal(t, tt.want, GetWorkerVersion(serverPort(t, server)))
		})
	}
}

// TestProjectIDWithName tests the dirname_hash identity format.
func TestProjectIDWithName(t *testing.T) {
	id := ProjectIDWithName("/Users/test/projects/my-project")
	assert.Regexp(t, regexp.MustCompile(`^my-project_[0-9a-f]{6}$`), id)

	// Deterministic for the same path.
	assert.Equal(t, id, ProjectIDWithName("/Users/test/projects/my-project"))

	// Same directory name elsewhere yields a different identity.
	other := ProjectIDWithName("/srv/my-project")
	assert.NotEqual(t, id, other)
	assert.Regexp(t, regexp.MustCompile(`^my-project_[0-9a-f]{6}$`), other)
}

// TestGET tests the worker GET helper including error decoding.
func TestGET(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/stats":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"version": "test"})
		case "/api/missing":
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	defer server.Close()
	port := serverPort(t, server)

	result, err := GET(port, "/api/stats")
	require.NoError(t, err)
	assert.Equal(t, "test", result["version"])

	_, err = GET(port, "/api/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

// TestPOST tests the worker POST helper round trip.
func TestPOST(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sess-1", body["claudeSessionId"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"dbId": 7})
	}))
	defer server.Close()

	result, err := POST(serverPort(t, server), "/api/sessions/init", map[string]interface{}{
		"claudeSessionId": "sess-1",
	})
	require.NoError(t, err)
	assert.Equal(t, float64(7), result["dbId"])
}

// TestKillProcessOnPort_NoProcess tests that a listener-free port is not
// an error.
func TestKillProcessOnPort_NoProcess(t *testing.T) {
	require.NoError(t, KillProcessOnPort(59998))
}

// TestFindWorkerBinary tests that binary discovery never panics; the
// result depends on the host install.
func TestFindWorkerBinary(t *testing.T) {
	t.Logf("findWorkerBinary returned: %q", findWorkerBinary())
}
