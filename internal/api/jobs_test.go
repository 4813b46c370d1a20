package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/qexec/internal/model"
)

// postJob posts body to path and decodes a run on success. The error message
// is returned for non-2xx responses.
func postJob(t *testing.T, url, path, body string) (int, model.Run, string) {
	t.Helper()
	resp, err := http.Post(url+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	var run model.Run
	if resp.StatusCode >= 300 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		return resp.StatusCode, run, errResp["error"]
	}
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, run, ""
}

func getJob(t *testing.T, url, id string) (int, model.Run) {
	t.Helper()
	resp, err := http.Get(url + "/v1/jobs/" + id)
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()

	var run model.Run
	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
			t.Fatalf("decode job: %v", err)
		}
	}
	return resp.StatusCode, run
}

// waitForJob polls until the job is terminal.
func waitForJob(t *testing.T, url, id string) model.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, run := getJob(t, url, id)
		if model.IsTerminal(run.Status) {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return model.Run{}
}

func TestCreateJobSync(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, run, _ := postJob(t, ts.URL, "/v1/jobs", `{"kernel":"bell","shots":200,"qpu":1}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if len(run.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(run.ID))
	}
	if run.Status != model.StatusCompleted || run.Path != model.PathNative || run.QPU != 1 {
		t.Errorf("run = %+v", run)
	}
	res := run.Result()
	if res.Total() != 200 || res.Count("00")+res.Count("11") != 200 {
		t.Errorf("counts = %v", run.Counts)
	}
}

func TestCreateJobEmulatedFeedback(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, run, _ := postJob(t, ts.URL, "/v1/jobs", `{"kernel":"teleport","shots":30}`)
	if status != http.StatusCreated {
		t.Fatalf("status = %d, want 201", status)
	}
	if run.Path != model.PathEmulated || run.Result().Total() != 30 {
		t.Errorf("run = %+v", run)
	}
}

func TestCreateJobRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "not json"},
		{"missing kernel", `{"shots":10}`},
		{"zero shots", `{"kernel":"bell"}`},
		{"unknown kernel", `{"kernel":"grover","shots":10}`},
		{"too small", `{"kernel":"ghz","qubits":1,"shots":10}`},
		{"qpu out of range", `{"kernel":"bell","shots":10,"qpu":5}`},
		{"undeclared qudit", `{"kernel":"p","shots":1,"program":{"qudits":[],"instructions":[{"name":"h","targets":[{"levels":2,"id":0}]}]}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, path := range []string{"/v1/jobs", "/v1/jobs/async"} {
				status, _, msg := postJob(t, ts.URL, path, tc.body)
				if status != http.StatusBadRequest {
					t.Errorf("POST %s: status = %d, want 400", path, status)
				}
				if msg == "" {
					t.Errorf("POST %s: expected error message", path)
				}
			}
		})
	}

	_, total := listJobs(t, ts.URL, "")
	if total != 0 {
		t.Errorf("rejected requests created %d jobs", total)
	}
}

func TestCreateJobFromProgram(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	body := `{
		"kernel": "flip",
		"shots": 25,
		"program": {
			"qudits": [{"levels":2,"id":0},{"levels":2,"id":1}],
			"instructions": [{"name":"x","targets":[{"levels":2,"id":1}]}],
			"measured": [{"levels":2,"id":0},{"levels":2,"id":1}]
		}
	}`
	status, run, msg := postJob(t, ts.URL, "/v1/jobs", body)
	if status != http.StatusCreated {
		t.Fatalf("status = %d (%s), want 201", status, msg)
	}
	if run.Kernel != "flip" || run.Counts["01"] != 25 {
		t.Errorf("run = %+v", run)
	}
}

func TestAsyncJobCompletes(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	status, run, _ := postJob(t, ts.URL, "/v1/jobs/async", `{"kernel":"ghz","qubits":3,"shots":100}`)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", status)
	}
	if run.Status != model.StatusPending || !run.Async {
		t.Errorf("submitted run = %+v, want pending async", run)
	}

	done := waitForJob(t, ts.URL, run.ID)
	if done.Status != model.StatusCompleted {
		t.Fatalf("status = %q (%s), want completed", done.Status, done.Error)
	}
	res := done.Result()
	if res.Total() != 100 || res.Count("000")+res.Count("111") != 100 {
		t.Errorf("counts = %v", done.Counts)
	}
	if done.DurationMS == nil || done.FinishedAt == nil {
		t.Error("completed job missing duration or finish time")
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	if status, _ := getJob(t, ts.URL, "nonexistent"); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}

func listJobs(t *testing.T, url, query string) ([]*model.Run, int) {
	t.Helper()
	resp, err := http.Get(url + "/v1/jobs" + query)
	if err != nil {
		t.Fatalf("GET /v1/jobs: %v", err)
	}
	defer resp.Body.Close()

	var list listJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	return list.Jobs, list.Total
}

func TestListJobsPagination(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for i := range 5 {
		body := fmt.Sprintf(`{"kernel":"bell","shots":%d}`, i+1)
		if status, _, msg := postJob(t, ts.URL, "/v1/jobs", body); status != http.StatusCreated {
			t.Fatalf("create job %d: status %d (%s)", i, status, msg)
		}
	}

	jobs, total := listJobs(t, ts.URL, "?limit=2&offset=1")
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Errorf("got %d jobs, want 2", len(jobs))
	}

	jobs, _ = listJobs(t, ts.URL, "?limit=1000")
	if len(jobs) != 5 {
		t.Errorf("out-of-range limit: got %d jobs, want 5", len(jobs))
	}
}
