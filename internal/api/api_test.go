package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskmesh-network/taskmesh/internal/app/channel"
	"github.com/taskmesh-network/taskmesh/internal/app/dispute"
	"github.com/taskmesh-network/taskmesh/internal/app/lifecycle"
	"github.com/taskmesh-network/taskmesh/internal/domain"
	"github.com/taskmesh-network/taskmesh/internal/infra/proof"
	"github.com/taskmesh-network/taskmesh/internal/infra/registry"
	"github.com/taskmesh-network/taskmesh/internal/infra/reputation"
	"github.com/taskmesh-network/taskmesh/internal/infra/settlement"
)

type testServer struct {
	server *Server
	tasks  *lifecycle.Manager
	ledger *settlement.Ledger
	reg    *registry.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	workers := reputation.NewLedger(reputation.DefaultConfig())
	ledger := settlement.NewLedger(nil)
	tasks := lifecycle.NewManager(lifecycle.DefaultConfig(), workers, ledger,
		proof.HashBackend{}, lifecycle.EscrowPayer{Ledger: ledger})
	channels := channel.NewManager(channel.DefaultConfig(), ledger)
	disputes := dispute.NewResolver(dispute.DefaultConfig(), tasks, workers, ledger, dispute.HashSelector{})
	reg := registry.New(registry.DefaultConfig())

	return &testServer{
		server: NewServer(tasks, channels, disputes, workers, reg, ledger),
		tasks:  tasks,
		ledger: ledger,
		reg:    reg,
	}
}

func (ts *testServer) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)

	var body map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rr, body
}

func (ts *testServer) post(t *testing.T, path, payload string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	rr := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rr, req)

	var body map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode %s response: %v", path, err)
		}
	}
	return rr, body
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rr, body := ts.get(t, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["status"] != "ok" {
		t.Errorf(`status field = %v, want "ok"`, body["status"])
	}
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t)
	rr, body := ts.get(t, "/api/version")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["version"] != Version {
		t.Errorf("version = %v, want %s", body["version"], Version)
	}
}

func TestGetTask(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Deposit("requester", 50_000)
	id, err := ts.tasks.PostTask(domain.TaskSpec{
		Requester: "requester",
		Type:      domain.TaskRender,
		Bounty:    10_000,
		Deadline:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	rr, body := ts.get(t, "/api/tasks/"+id)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["id"] != id || body["status"] != "POSTED" {
		t.Errorf("task = %v, want id %s POSTED", body, id)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	ts := newTestServer(t)
	rr, _ := ts.get(t, "/api/tasks/nope")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestGetWorker(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Deposit("worker", 50_000)
	ts.ledger.Lock("worker", 10_000)
	if err := ts.server.workers.Register("worker", 10_000, nil); err != nil {
		t.Fatal(err)
	}

	rr, body := ts.get(t, "/api/workers/worker")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["balance"].(float64) != 40_000 {
		t.Errorf("balance = %v, want 40000", body["balance"])
	}
	if body["locked"].(float64) != 10_000 {
		t.Errorf("locked = %v, want 10000", body["locked"])
	}
	if body["verification_mode"] != "FULL" {
		t.Errorf("verification_mode = %v, want FULL", body["verification_mode"])
	}
}

func TestFindWorkers(t *testing.T) {
	ts := newTestServer(t)
	ts.reg.Announce("fast-worker", domain.Capability{
		Type: domain.TaskInference, SpeedMultiplier: 2.0, CostPerUnit: 100,
	})
	ts.reg.Announce("slow-worker", domain.Capability{
		Type: domain.TaskInference, SpeedMultiplier: 0.5, CostPerUnit: 50,
	})

	rr, body := ts.get(t, "/api/workers?type=INFERENCE&min_speed=1.0")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["count"].(float64) != 1 {
		t.Errorf("count = %v, want 1", body["count"])
	}

	rr, _ = ts.get(t, "/api/workers?type=INFERENCE&min_speed=abc")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad min_speed status = %d, want 400", rr.Code)
	}
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Deposit("requester", 50_000)
	if _, err := ts.tasks.PostTask(domain.TaskSpec{
		Requester: "requester",
		Type:      domain.TaskBatch,
		Bounty:    5_000,
		Deadline:  time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	rr, body := ts.get(t, "/api/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	tasks, ok := body["tasks"].(map[string]any)
	if !ok {
		t.Fatalf("missing tasks section: %v", body)
	}
	if tasks["posted"].(float64) != 1 {
		t.Errorf("posted = %v, want 1", tasks["posted"])
	}
}

func TestPostTask(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Deposit("requester", 50_000)

	deadline := time.Now().Add(time.Hour).Format(time.RFC3339)
	rr, body := ts.post(t, "/api/tasks", fmt.Sprintf(
		`{"requester":"requester","type":"INFERENCE","input_ref":"ref://in","bounty":10000,"deadline":%q}`, deadline))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", rr.Code, body)
	}

	id, _ := body["id"].(string)
	task, err := ts.tasks.Get(id)
	if err != nil {
		t.Fatalf("posted task not live: %v", err)
	}
	if task.Status != domain.TaskPosted || task.Bounty != 10_000 {
		t.Errorf("task = %+v, want POSTED with bounty 10000", task)
	}
	if locked := ts.ledger.Locked("requester"); locked != 10_000 {
		t.Errorf("escrow = %d, want 10000", locked)
	}
}

func TestPostTask_Validation(t *testing.T) {
	ts := newTestServer(t)
	deadline := time.Now().Add(time.Hour).Format(time.RFC3339)

	rr, _ := ts.post(t, "/api/tasks", `{"requester":"requester","bounty":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("zero bounty status = %d, want 400", rr.Code)
	}

	rr, _ = ts.post(t, "/api/tasks", fmt.Sprintf(
		`{"requester":"pauper","type":"INFERENCE","bounty":10000,"deadline":%q}`, deadline))
	if rr.Code != http.StatusPaymentRequired {
		t.Errorf("unfunded requester status = %d, want 402", rr.Code)
	}
}

func TestRegisterWorker(t *testing.T) {
	ts := newTestServer(t)
	ts.ledger.Deposit("worker", 50_000)

	rr, body := ts.post(t, "/api/workers/worker/register",
		`{"stake":10000,"capabilities":[{"type":"INFERENCE","speed_multiplier":1.5,"cost_per_unit":100}]}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %v", rr.Code, body)
	}

	w, err := ts.server.workers.Get("worker")
	if err != nil {
		t.Fatalf("worker not registered: %v", err)
	}
	if w.Stake != 10_000 || len(w.Capabilities) != 1 {
		t.Errorf("worker = %+v, want stake 10000 and 1 capability", w)
	}
	if locked := ts.ledger.Locked("worker"); locked != 10_000 {
		t.Errorf("locked = %d, want 10000", locked)
	}

	// Double registration rolls the second stake lock back.
	rr, _ = ts.post(t, "/api/workers/worker/register", `{"stake":10000}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("re-register status = %d, want 409", rr.Code)
	}
	if locked := ts.ledger.Locked("worker"); locked != 10_000 {
		t.Errorf("locked after rollback = %d, want 10000", locked)
	}
}

func TestRegisterWorker_Unfunded(t *testing.T) {
	ts := newTestServer(t)
	rr, _ := ts.post(t, "/api/workers/pauper/register", `{"stake":10000}`)
	if rr.Code != http.StatusPaymentRequired {
		t.Errorf("status = %d, want 402", rr.Code)
	}
}

func TestDeposit(t *testing.T) {
	ts := newTestServer(t)

	rr, body := ts.post(t, "/api/accounts/alice/deposit", `{"amount":25000}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if body["balance"].(float64) != 25_000 {
		t.Errorf("balance = %v, want 25000", body["balance"])
	}

	rr, _ = ts.post(t, "/api/accounts/alice/deposit", `{"amount":-5}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative deposit status = %d, want 400", rr.Code)
	}
}

func TestJournalDisabledWithoutArchive(t *testing.T) {
	ts := newTestServer(t)
	rr, _ := ts.get(t, "/api/accounts/alice/journal")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestMetricsDisabledByDefault(t *testing.T) {
	ts := newTestServer(t)
	rr, _ := ts.get(t, "/metrics")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}

	ts.server.EnableMetrics()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("enabled metrics status = %d, want 200", rec.Code)
	}
}
