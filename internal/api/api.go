// Package api exposes the runtime over HTTP. The surface is thin: start
// an execution, deliver a signal, cancel, query state, read the recorded
// history. All orchestration semantics live below; handlers only decode,
// submit, and translate errors to status codes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/helmsman/internal/exec"
	"github.com/roach88/helmsman/internal/runtime"
	"github.com/roach88/helmsman/internal/store"
)

// Server wires HTTP routes to a runtime.
type Server struct {
	rt   *runtime.Runtime
	keys exec.KeyGenerator
}

// NewServer creates an HTTP server facade over a runtime.
func NewServer(rt *runtime.Runtime) *Server {
	return &Server{rt: rt, keys: exec.UUIDv7Generator{}}
}

// WithKeyGenerator overrides execution key generation. Tests pass an
// exec.FixedGenerator to pin keys, and with them every seeded draw.
func (s *Server) WithKeyGenerator(g exec.KeyGenerator) *Server {
	s.keys = g
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/v1/executions/:workflow", s.startExecution)
	r.GET("/v1/executions/:key/state", s.executionState)
	r.GET("/v1/executions/:key/history", s.executionHistory)
	r.POST("/v1/executions/:key/signals/:slot", s.signal)
	r.POST("/v1/executions/:key/cancel", s.cancel)
	r.POST("/v1/clock/advance", s.advanceClock)

	return r
}

func (s *Server) startExecution(c *gin.Context) {
	var body struct {
		Key   string         `json:"key"`
		Input map[string]any `json:"input"`
	}
	if err := decodeJSON(c, &body); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if body.Key == "" {
		body.Key = s.keys.Generate()
	}
	input, err := toPayload(body.Input)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.StartExecution(c.Param("workflow"), body.Key, input); err != nil {
		abortError(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"key": body.Key})
}

func (s *Server) executionState(c *gin.Context) {
	key := c.Param("key")
	state, err := s.rt.Query(key, "state")
	if errors.Is(err, runtime.ErrNotFound) {
		// Every execution answers the built-in status query even when
		// its workflow registered no state handler.
		state, err = s.rt.Query(key, "status")
	}
	if err != nil {
		abortError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) executionHistory(c *gin.Context) {
	history, err := s.rt.Store().ReadHistory(c.Request.Context(), c.Param("key"))
	if err != nil {
		abortError(c, statusFor(err), err)
		return
	}
	events := make([]gin.H, len(history))
	for i, ev := range history {
		e := gin.H{
			"seq":     ev.Seq,
			"kind":    ev.Kind,
			"name":    ev.Name,
			"outcome": ev.Outcome,
		}
		if ev.ErrClass != "" {
			e["err_class"] = ev.ErrClass
			e["err_msg"] = ev.ErrMsg
		}
		if ev.Attempts > 0 {
			e["attempts"] = ev.Attempts
		}
		if ev.Payload != nil {
			e["payload"] = ev.Payload
		}
		events[i] = e
	}
	c.JSON(http.StatusOK, gin.H{"key": c.Param("key"), "events": events})
}

func (s *Server) signal(c *gin.Context) {
	var body map[string]any
	if err := decodeJSON(c, &body); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	payload, err := toPayload(body)
	if err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Signal(c.Param("key"), c.Param("slot"), payload); err != nil {
		abortError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"delivered": true})
}

func (s *Server) cancel(c *gin.Context) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(c, &body); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	if body.Reason == "" {
		body.Reason = exec.ReasonUserRequest
	}
	if err := s.rt.Cancel(c.Param("key"), body.Reason); err != nil {
		abortError(c, statusFor(err), err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"cancelled": true})
}

// advanceClock moves virtual time forward. Rejected by the runtime when
// it runs on the wall clock.
func (s *Server) advanceClock(c *gin.Context) {
	var body struct {
		Duration string `json:"duration"`
	}
	if err := decodeJSON(c, &body); err != nil {
		abortError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(body.Duration)
	if err != nil || d <= 0 {
		abortError(c, http.StatusBadRequest, fmt.Errorf("duration must be a positive Go duration, got %q", body.Duration))
		return
	}
	if err := s.rt.AdvanceTime(d); err != nil {
		abortError(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advanced": body.Duration})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, runtime.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runtime.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func abortError(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// decodeJSON decodes a request body preserving integer precision.
// Payload values are int64; default float decoding would corrupt money
// and milliunit fields.
func decodeJSON(c *gin.Context, v any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			// Missing body means no arguments.
			return nil
		}
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// toPayload converts a decoded JSON object into the payload model.
// json.Number values must be integers; floats are rejected.
func toPayload(m map[string]any) (exec.Payload, error) {
	if m == nil {
		return nil, nil
	}
	p := make(exec.Payload, len(m))
	for k, v := range m {
		cv, err := toPayloadValue(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		p[k] = cv
	}
	return p, nil
}

func toPayloadValue(v any) (any, error) {
	switch val := v.(type) {
	case string, bool:
		return val, nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("non-integer number %s; use milliunits or cents", val)
		}
		return n, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			ce, err := toPayloadValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ce
		}
		return out, nil
	case map[string]any:
		return toPayload(val)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
