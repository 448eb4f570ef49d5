package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/itskum47/pulsewire/realtime/protocol"
	"github.com/itskum47/pulsewire/realtime/timeline"
	"github.com/itskum47/pulsewire/realtime/topic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagsRequiresTopic(t *testing.T) {
	_, err := parseFlags([]string{"--url", "ws://x/ws"})
	assert.Error(t, err)
}

func TestResolveFlagsOverConfig(t *testing.T) {
	t.Setenv("PULSEWIRE_URL", "ws://env/ws")
	o, err := parseFlags([]string{
		"--url", "wss://flag/api/ws",
		"--token", "tok",
		"--topic", "attendance:session:42",
		"--topic", "tickets:5",
		"--event", "attendance.marked",
		"--log-level", "debug",
	})
	require.NoError(t, err)

	cfg, topics, events, err := resolve(o)
	require.NoError(t, err)
	assert.Equal(t, "wss://flag/api/ws", cfg.URL)
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []topic.Topic{topic.AttendanceSession{SessionID: 42}, topic.TicketChat{TicketID: 5}}, topics)
	assert.Equal(t, []protocol.EventKind{protocol.EventAttendanceMarked}, events)
}

func TestResolveDefaultsToAllKnownEvents(t *testing.T) {
	o, err := parseFlags([]string{"--url", "ws://x/ws", "--topic", "system"})
	require.NoError(t, err)
	_, _, events, err := resolve(o)
	require.NoError(t, err)
	assert.Equal(t, protocol.KnownEvents, events)
}

func TestResolveRejectsBadTopic(t *testing.T) {
	o, err := parseFlags([]string{"--url", "ws://x/ws", "--topic", "tickets:abc"})
	require.NoError(t, err)
	_, _, _, err = resolve(o)
	assert.ErrorIs(t, err, topic.ErrInvalidPath)
}

func TestDebugMuxServesTimeline(t *testing.T) {
	tl := timeline.NewStore(0)
	tl.Record(timeline.ConnEvent{ConnID: "c1", Stage: timeline.StageOpen})

	rec := httptest.NewRecorder()
	debugMux(tl).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/timeline", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []timeline.ConnEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, timeline.StageOpen, got[0].Stage)

	tl.Record(timeline.ConnEvent{ConnID: "c2", Stage: timeline.StageConnecting})
	rec = httptest.NewRecorder()
	debugMux(tl).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/timeline?conn_id=c2", nil))
	got = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c2", got[0].ConnID)

	rec = httptest.NewRecorder()
	debugMux(tl).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pulsewire_")
}
