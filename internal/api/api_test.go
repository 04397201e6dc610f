package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/helmsman/internal/activity"
	"github.com/roach88/helmsman/internal/api"
	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/process"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

func newAPIRig(t *testing.T) (*gin.Engine, *runtime.Runtime) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.Open(t.TempDir() + "/api.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := runtime.New(st)
	for name, fn := range activity.All(activity.NewMemBackends()) {
		rt.RegisterActivity(name, runtime.ActivityFunc(fn))
	}
	process.Register(rt)
	go rt.Run(context.Background())
	t.Cleanup(rt.Stop)

	return api.NewServer(rt).Router(), rt
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestAPI_StartAndQueryState(t *testing.T) {
	router, _ := newAPIRig(t)

	w := do(t, router, http.MethodPost, "/v1/executions/order",
		`{"key":"ord-1","input":{"amount_cents":1000000,"sku":"widget"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, http.MethodGet, "/v1/executions/ord-1/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "awaiting_approval", decode(t, w)["status"])
}

func TestAPI_SignalDrivesExecution(t *testing.T) {
	router, rt := newAPIRig(t)

	w := do(t, router, http.MethodPost, "/v1/executions/order",
		`{"key":"ord-2","input":{"amount_cents":1000000,"sku":"widget"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, http.MethodPost, "/v1/executions/ord-2/signals/approval",
		`{"approved":true}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, http.MethodPost, "/v1/clock/advance", `{"duration":"1h"}`)
	require.Equal(t, http.StatusOK, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := rt.AwaitResult(ctx, "ord-2")
	require.NoError(t, err)
	assert.Equal(t, "completed", out.StringOr("status", ""))
}

func TestAPI_CancelDefaultsReason(t *testing.T) {
	router, _ := newAPIRig(t)

	do(t, router, http.MethodPost, "/v1/executions/order",
		`{"key":"ord-3","input":{"amount_cents":1000000,"sku":"widget"}}`)

	w := do(t, router, http.MethodPost, "/v1/executions/ord-3/cancel", "")
	require.Equal(t, http.StatusAccepted, w.Code)

	w = do(t, router, http.MethodGet, "/v1/executions/ord-3/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode(t, w)["status"])
}

func TestAPI_HistoryReturnsRecordedEvents(t *testing.T) {
	router, _ := newAPIRig(t)

	do(t, router, http.MethodPost, "/v1/executions/order",
		`{"key":"ord-4","input":{"amount_cents":10000,"sku":"widget"}}`)

	w := do(t, router, http.MethodGet, "/v1/executions/ord-4/history", "")
	require.Equal(t, http.StatusOK, w.Code)

	events, ok := decode(t, w)["events"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, events)
	first := events[0].(map[string]any)
	assert.Equal(t, "activity", first["kind"])
	assert.Equal(t, "reserve-inventory", first["name"])
}

func TestAPI_MissingKeyIsGenerated(t *testing.T) {
	router, _ := newAPIRig(t)

	w := do(t, router, http.MethodPost, "/v1/executions/order",
		`{"input":{"amount_cents":10000,"sku":"widget"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	key, ok := decode(t, w)["key"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, key)

	w = do(t, router, http.MethodGet, "/v1/executions/"+key+"/state", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_FixedKeyGeneratorPinsKeys(t *testing.T) {
	_, rt := newAPIRig(t)

	srv := api.NewServer(rt).WithKeyGenerator(exec.NewFixedGenerator("ord-a", "ord-b"))
	pinned := srv.Router()

	w := do(t, pinned, http.MethodPost, "/v1/executions/order",
		`{"input":{"amount_cents":10000,"sku":"widget"}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "ord-a", decode(t, w)["key"])
}

func TestAPI_ErrorMapping(t *testing.T) {
	router, _ := newAPIRig(t)

	// Unknown execution.
	w := do(t, router, http.MethodGet, "/v1/executions/ghost/state", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode(t, w)["error"], "not found")

	w = do(t, router, http.MethodPost, "/v1/executions/ghost/signals/approval", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Unregistered workflow.
	w = do(t, router, http.MethodPost, "/v1/executions/nope", `{"key":"k-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Floats are rejected before they can corrupt a payload.
	w = do(t, router, http.MethodPost, "/v1/executions/order",
		`{"key":"k-2","input":{"amount_cents":99.5}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "non-integer")

	// Bad advance duration.
	w = do(t, router, http.MethodPost, "/v1/clock/advance", `{"duration":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
