package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/scheduler"
	"github.com/sat18-labs/sat18/internal/tuner"
)

func execute(t *testing.T, opts *options, stdin string, args ...string) (string, error) {
	t.Helper()
	if opts == nil {
		opts = &options{newDeployer: newExecDeployer}
	}
	cmd := newRootCmd("test", opts)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEvaluateLocal(t *testing.T) {
	path := writeFile(t, "ctx.json", `{"project":"shop","outcome":"FAIL","metrics":{"healthChecksFailed":3}}`)

	out, err := execute(t, nil, "", "evaluate", "--context", path)
	require.NoError(t, err)

	var resp model.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, model.PolicyManualApproval, resp.Config.Policy)
	require.NotEmpty(t, resp.Decision.Actions)
	assert.Equal(t, policy.ActionRollback, resp.Decision.Actions[0].ID)
}

func TestEvaluateStdinWithPolicy(t *testing.T) {
	tree := policy.DefaultTree(policy.Thresholds{CPUPercent: 50, Accuracy7d: 0.8, HealthChecksFailed: 1})
	doc, err := policy.Marshal(tree)
	require.NoError(t, err)
	policyPath := writeFile(t, "policy.yaml", string(doc))

	out, err := execute(t, nil, `{"project":"shop","metrics":{"cpu":60}}`,
		"evaluate", "--context", "-", "--policy", policyPath)
	require.NoError(t, err)

	var resp model.EvaluateResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, model.PolicyDelayed, resp.Config.Policy)
}

func TestEvaluateRejectsInvalidContext(t *testing.T) {
	_, err := execute(t, nil, `{"project":""}`, "evaluate", "--context", "-")
	require.Error(t, err)

	_, err = execute(t, nil, `not json`, "evaluate", "--context", "-")
	require.Error(t, err)
}

func TestParseConfig(t *testing.T) {
	out, err := execute(t, nil, `{"policy":"IMMEDIATE","deployDelayInSeconds":0,"confidence":0.4,"reason":"x"}`,
		"parse-config", "-")
	require.NoError(t, err)
	var cfg model.AdaptiveConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, model.PolicyImmediate, cfg.Policy)

	out, err = execute(t, nil, `{"policy":"IMMEDIATE","deployDelayInSeconds":0,"confidence":0.4,"reason":"x"}`,
		"parse-config", "--gate", "-")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, model.PolicyManualApproval, cfg.Policy)
	assert.InDelta(t, 0.4, cfg.Confidence, 1e-9)

	out, err = execute(t, nil, "garbage", "parse-config", "-")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, tuner.FallbackReason, cfg.Reason)
}

func TestPolicyShowAndValidate(t *testing.T) {
	out, err := execute(t, nil, "", "policy", "show")
	require.NoError(t, err)
	assert.Contains(t, out, policy.HighCPUID)

	path := writeFile(t, "policy.yaml", out)
	out, err = execute(t, nil, "", "policy", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (4 nodes")

	bad := writeFile(t, "bad.yaml", "version: 1\nroot:\n  id: root\n  children:\n    - id: root\n")
	_, err = execute(t, nil, "", "policy", "validate", bad)
	require.Error(t, err)
}

// fakeServer mimics the SAT18 endpoints the CLI talks to.
type fakeServer struct {
	*httptest.Server
	mu      sync.Mutex
	logged  []model.Decision
	summary model.FeedbackSummary
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{}
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, data any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}
	mux.HandleFunc("POST /auth/handshake", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, http.StatusOK, model.HandshakeResponse{SessionToken: "tok", ExpiresIn: 900, ExpiresAt: time.Now().Add(15 * time.Minute)})
	})
	mux.HandleFunc("GET /api/feedback/summary", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		reply(w, http.StatusOK, f.summary)
	})
	mux.HandleFunc("POST /api/feedback/decision", func(w http.ResponseWriter, r *http.Request) {
		var d model.Decision
		_ = json.NewDecoder(r.Body).Decode(&d)
		f.mu.Lock()
		f.logged = append(f.logged, d)
		f.mu.Unlock()
		reply(w, http.StatusCreated, model.DecisionLogResponse{DecisionID: uuid.NewString()})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) loggedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.logged)
}

func TestSummary(t *testing.T) {
	srv := newFakeServer(t)
	srv.summary = model.FeedbackSummary{AccuracyRate: 50, Total: 4, SuccessCount: 2}

	out, err := execute(t, nil, "", "summary", "--server", srv.URL, "--api-key", "k", "--project", "shop")
	require.NoError(t, err)
	var s model.FeedbackSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, 4, s.Total)

	_, err = execute(t, nil, "", "summary", "--server", "", "--project", "shop")
	require.Error(t, err)
}

func testOptions(deploys *atomic.Int32) *options {
	return &options{
		newDeployer: func(string, *slog.Logger) scheduler.Deployer {
			return scheduler.DeployFunc(func(context.Context) error {
				deploys.Add(1)
				return nil
			})
		},
	}
}

func TestAutodeployRunsImmediateDeploy(t *testing.T) {
	srv := newFakeServer(t)
	var deploys atomic.Int32
	insight := `{"project":"shop","insight":{"level":"Nominal","message":"ok","metrics":{"successRate":100,"avgDeployTime":30}},"system":{"loadAvg":[0.5]}}`

	out, err := execute(t, testOptions(&deploys), insight,
		"autodeploy", "--server", srv.URL, "--api-key", "k", "--insight", "-", "--command", "deploy.sh")
	require.NoError(t, err)

	var res autodeployResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, scheduler.StateScheduled, res.Plan.State)
	assert.Equal(t, 1, res.Status.Deployments)
	assert.Equal(t, int32(1), deploys.Load())
	assert.Equal(t, 1, srv.loggedCount(), "decision audited on the server")
}

func TestAutodeployHoldsLowAccuracy(t *testing.T) {
	srv := newFakeServer(t)
	srv.summary = model.FeedbackSummary{AccuracyRate: 40, Total: 10, SuccessCount: 4}
	var deploys atomic.Int32
	insight := `{"project":"shop","insight":{"level":"Nominal","metrics":{"successRate":100}}}`

	out, err := execute(t, testOptions(&deploys), insight,
		"autodeploy", "--server", srv.URL, "--api-key", "k", "--insight", "-", "--command", "deploy.sh")
	require.NoError(t, err)

	var res autodeployResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, scheduler.StateAwaitingApproval, res.Plan.State)
	assert.Zero(t, deploys.Load())
}
