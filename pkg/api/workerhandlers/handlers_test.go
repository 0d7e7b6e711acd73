package workerhandlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/luckygeck/dedalus/internal/dlq"
	"github.com/luckygeck/dedalus/internal/state"
	"github.com/luckygeck/dedalus/internal/storage"
	"github.com/luckygeck/dedalus/internal/workerengine"
	"github.com/luckygeck/dedalus/pkg/api/workerhandlers"
	"github.com/luckygeck/dedalus/pkg/models"
)

func newRouter(t *testing.T) (*gin.Engine, *workerengine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dlqMgr := dlq.NewManager(dlq.NewMemoryQueue(), 3)
	engine := workerengine.NewEngine(storage.NewMemoryStore(), t.TempDir(), dlqMgr)
	r := gin.New()
	workerhandlers.New(engine).Register(r)
	return r, engine
}

func doJSON(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func shellTaskStruct(cmd string) models.TaskStruct {
	return models.TaskStruct{
		Executor: models.ExecutorDescriptor{
			Name:   "shell",
			Config: models.ExecutorConfig{Command: []string{"/bin/sh", "-c", cmd}},
		},
	}
}

func TestCreateStartAndFinishTask(t *testing.T) {
	r, _ := newRouter(t)

	w := doJSON(r, http.MethodPost, "/v1.0/task/", gin.H{"structure": shellTaskStruct("echo hi")})
	if w.Code != http.StatusOK {
		t.Fatalf("create task: %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Payload struct {
			TaskID string `json:"task_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	taskID := created.Payload.TaskID
	if taskID == "" {
		t.Fatalf("expected non-empty task id")
	}

	w = doJSON(r, http.MethodPost, "/v1.0/task/"+taskID+"/start", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start task: %d: %s", w.Code, w.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		w = doJSON(r, http.MethodGet, "/v1.0/task/"+taskID+"/state", nil)
		var got struct {
			Payload struct {
				State string `json:"state"`
			} `json:"payload"`
		}
		json.Unmarshal(w.Body.Bytes(), &got)
		if got.Payload.State == state.TaskFinished {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = doJSON(r, http.MethodGet, "/v1.0/task/"+taskID+"/log/out", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get log: %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "hi\n" {
		t.Fatalf("unexpected log contents: %q", w.Body.String())
	}
}

func TestGetTaskLog_RejectsUnknownStream(t *testing.T) {
	r, _ := newRouter(t)
	w := doJSON(r, http.MethodGet, "/v1.0/task/nonexistent/log/weird", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListTasks(t *testing.T) {
	r, _ := newRouter(t)
	doJSON(r, http.MethodPost, "/v1.0/task/", gin.H{"structure": shellTaskStruct("echo hi")})
	w := doJSON(r, http.MethodGet, "/v1.0/tasks", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list tasks: %d: %s", w.Code, w.Body.String())
	}
}
