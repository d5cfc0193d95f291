package broadcast

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-scalper/internal/schema"
)

type fakeSource struct {
	mu    sync.Mutex
	state schema.SystemState
}

func (f *fakeSource) Snapshot() schema.SystemState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) set(state schema.SystemState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

type fakeController struct {
	mu      sync.Mutex
	started int
	stopped []string
	risk    []schema.RiskConfig
	riskErr error
	resets  int
}

func (f *fakeController) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeController) Stop(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, reason)
}

func (f *fakeController) UpdateRiskConfig(cfg schema.RiskConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.riskErr != nil {
		return f.riskErr
	}
	f.risk = append(f.risk, cfg)
	return nil
}

func (f *fakeController) ResetDaily() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func newTestServer(t *testing.T) (*Server, *fakeSource, *fakeController, *httptest.Server) {
	t.Helper()
	source := &fakeSource{state: schema.SystemState{Running: true, PnLDay: 12.5}}
	controller := &fakeController{}
	s := NewServer(Config{Interval: 10 * time.Millisecond}, source, controller)
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, source, controller, ts
}

func TestStateEndpointReturnsSnapshot(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state schema.SystemState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Running)
	assert.InDelta(t, 12.5, state.PnLDay, 1e-9)
}

func TestStateStreamSendsFirstFrameAndBroadcasts(t *testing.T) {
	s, source, _, ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/state"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first schema.SystemState
	require.NoError(t, conn.ReadJSON(&first))
	assert.True(t, first.Running)

	source.set(schema.SystemState{Running: false, HaltReason: "daily-loss"})
	s.hub.Broadcast(source.Snapshot())

	var next schema.SystemState
	require.NoError(t, conn.ReadJSON(&next))
	assert.False(t, next.Running)
	assert.Equal(t, "daily-loss", next.HaltReason)
}

func TestControlStartStop(t *testing.T) {
	_, _, controller, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/control/start", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/control/stop", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, controller.started)
	assert.Equal(t, []string{"operator stop"}, controller.stopped)
}

func TestControlRiskUpdate(t *testing.T) {
	_, _, controller, ts := newTestServer(t)

	body, _ := json.Marshal(schema.RiskConfig{
		DailyLossLimit: 150, MaxRiskPerTrade: 40, MaxPositions: 2, MaxSlippageBps: 80,
	})
	resp, err := http.Post(ts.URL+"/control/risk", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, controller.risk, 1)
	assert.InDelta(t, 150, controller.risk[0].DailyLossLimit, 1e-9)
}

func TestControlRiskRejectsInvalidBody(t *testing.T) {
	_, _, controller, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/control/risk", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, controller.risk)
}

func TestControlResetDaily(t *testing.T) {
	_, _, controller, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/control/reset-daily", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, controller.resets)
}

func TestMethodGuards(t *testing.T) {
	_, _, _, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/control/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
