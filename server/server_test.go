package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nendo/config"
	"nendo/core/audio"
	"nendo/core/events"
	"nendo/core/nendo"
	"nendo/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	n     *nendo.Nendo
	token string
	freq  float64
}

func newTestServer(t *testing.T, secret string) *testServer {
	cfg := config.Default()
	cfg.LibraryPath = t.TempDir()
	cfg.DefaultSR = 8000
	cfg.JWTSecret = secret

	n, err := nendo.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })

	s, err := New(n)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv, n: n, freq: 200}
}

func (ts *testServer) do(method, path string, body interface{}) *http.Response {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(ts.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, r)
	require.NoError(ts.t, err)
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	ts.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) register(name string) {
	resp := ts.do(http.MethodPost, "/api/auth/register", RegisterRequest{Username: name, Password: "secret-pw"})
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	ts.token = decode[tokenResponse](ts.t, resp).Token
}

func (ts *testServer) upload(title string) *model.Track {
	ts.freq += 50
	sig := audio.NewSignal(1, 800, 8000)
	for i := range sig.Channels[0] {
		sig.Channels[0][i] = float32(0.4 * math.Sin(2*math.Pi*ts.freq*float64(i)/8000))
	}
	path := filepath.Join(ts.t.TempDir(), title+".wav")
	require.NoError(ts.t, audio.WriteWAVFile(path, sig))
	data, err := os.ReadFile(path)
	require.NoError(ts.t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", title+".wav")
	require.NoError(ts.t, err)
	_, err = fw.Write(data)
	require.NoError(ts.t, err)
	require.NoError(ts.t, mw.WriteField("title", title))
	require.NoError(ts.t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/tracks", &body)
	require.NoError(ts.t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	require.Equal(ts.t, http.StatusCreated, resp.StatusCode)
	track := decode[model.Track](ts.t, resp)
	return &track
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, "test-secret")

	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/tracks", nil).StatusCode)

	ts.register("alice")
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/tracks", nil).StatusCode)

	assert.Equal(t, http.StatusConflict,
		ts.do(http.MethodPost, "/api/auth/register", RegisterRequest{Username: "alice", Password: "x"}).StatusCode)

	resp := ts.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "secret-pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, decode[tokenResponse](t, resp).Token)

	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "alice", Password: "wrong"}).StatusCode)
	assert.Equal(t, http.StatusUnauthorized,
		ts.do(http.MethodPost, "/api/auth/login", LoginRequest{Username: "nobody", Password: "wrong"}).StatusCode)

	ts.token = "garbage"
	assert.Equal(t, http.StatusUnauthorized, ts.do(http.MethodGet, "/api/tracks", nil).StatusCode)
}

func TestAuthDisabled(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusServiceUnavailable,
		ts.do(http.MethodPost, "/api/auth/register", RegisterRequest{Username: "a", Password: "b"}).StatusCode)

	track := ts.upload("local")
	assert.Equal(t, ts.n.Library.Options().UserID, track.UserID)
}

func TestTrackEndpoints(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")
	track := ts.upload("song")
	assert.Equal(t, "song", track.MetaString("title"))

	resp := ts.do(http.MethodGet, "/api/tracks/"+track.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, track.ID, decode[model.Track](t, resp).ID)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/tracks/not-a-uuid", nil).StatusCode)

	resp = ts.do(http.MethodPost, "/api/plugins/loudness/run", RunPluginRequest{TrackID: track.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(http.MethodGet, "/api/tracks?filter.rms=0:1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Track](t, resp), 1)
	resp = ts.do(http.MethodGet, "/api/tracks?filter.rms=2:3", nil)
	assert.Len(t, decode[[]model.Track](t, resp), 0)
	resp = ts.do(http.MethodGet, "/api/tracks?search=song", nil)
	assert.Len(t, decode[[]model.Track](t, resp), 1)
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/tracks?order_by=nope", nil).StatusCode)

	resp = ts.do(http.MethodPost, "/api/tracks/"+track.ID.String()+"/plugin-data",
		PluginDataRequest{PluginName: "manual", Key: "mood", Value: "calm"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = ts.do(http.MethodGet, "/api/tracks?filter.mood=CALM", nil)
	assert.Len(t, decode[[]model.Track](t, resp), 1)

	resp = ts.do(http.MethodPost, "/api/plugins/gain/run", RunPluginRequest{TrackID: track.ID, RelationshipType: "quieter"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(http.MethodGet, "/api/tracks/"+track.ID.String()+"/related?direction=to", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Track](t, resp), 1)

	path := "/api/tracks/" + track.ID.String()
	assert.Equal(t, http.StatusConflict, ts.do(http.MethodDelete, path, nil).StatusCode)
	assert.Equal(t, http.StatusNoContent,
		ts.do(http.MethodDelete, path+"?remove_plugin_data=true&remove_relationships=true", nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, path, nil).StatusCode)
}

func TestTracksArePrivate(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")
	track := ts.upload("mine")

	ts.register("bob")
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/tracks/"+track.ID.String(), nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, "/api/tracks/"+track.ID.String(), nil).StatusCode)
	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPost, "/api/plugins/loudness/run", RunPluginRequest{TrackID: track.ID}).StatusCode)
	resp := ts.do(http.MethodGet, "/api/tracks", nil)
	assert.Len(t, decode[[]model.Track](t, resp), 0)
}

func TestCollectionEndpoints(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")
	a, b, c := ts.upload("a"), ts.upload("b"), ts.upload("c")

	resp := ts.do(http.MethodPost, "/api/collections", CreateCollectionRequest{Name: "set", TrackIDs: []uuid.UUID{a.ID, b.ID}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	col := decode[model.Collection](t, resp)

	base := "/api/collections/" + col.ID.String()
	resp = ts.do(http.MethodPost, base+"/tracks/"+c.ID.String()+"?position=0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[struct {
		Name   string        `json:"name"`
		Tracks []model.Track `json:"tracks"`
	}](t, resp)
	assert.Equal(t, "set", got.Name)
	require.Len(t, got.Tracks, 3)
	assert.Equal(t, []string{c.ID.String(), a.ID.String(), b.ID.String()},
		[]string{got.Tracks[0].ID.String(), got.Tracks[1].ID.String(), got.Tracks[2].ID.String()})

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, base+"/tracks/"+a.ID.String(), nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodDelete, base+"/tracks/"+a.ID.String(), nil).StatusCode)

	resp = ts.do(http.MethodGet, "/api/collections?search=se", nil)
	assert.Len(t, decode[[]model.Collection](t, resp), 1)

	resp = ts.do(http.MethodGet, "/api/tracks?collection_id="+col.ID.String()+"&order_by=collection", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Track](t, resp), 2)

	assert.Equal(t, http.StatusNoContent, ts.do(http.MethodDelete, base, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, base, nil).StatusCode)
}

func TestPluginEndpoints(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")

	resp := ts.do(http.MethodGet, "/api/plugins", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plugins := decode[[]pluginInfo](t, resp)
	require.Len(t, plugins, 4)
	assert.Equal(t, "loudness", plugins[0].ShortName)

	resp = ts.do(http.MethodPost, "/api/plugins/tone/run", RunPluginRequest{Args: map[string]interface{}{"sr": 8000, "seconds": 0.1}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "track", res["kind"])

	resp = ts.do(http.MethodPost, "/api/plugins/textvec/run", RunPluginRequest{Text: "calm piano"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res = decode[map[string]interface{}](t, resp)
	assert.Equal(t, "vector", res["kind"])

	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPost, "/api/plugins/reverb/run", RunPluginRequest{}).StatusCode)
	assert.Equal(t, http.StatusNotFound,
		ts.do(http.MethodPost, "/api/plugins/gain/run", RunPluginRequest{Function: "missing"}).StatusCode)

	song := ts.upload("calm piano")
	resp = ts.do(http.MethodPost, "/api/plugins/textvec/run", RunPluginRequest{TrackID: song.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = ts.do(http.MethodGet, "/api/tracks/nearest?text=calm+piano&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	scored := decode[[]scoredTrack](t, resp)
	require.Len(t, scored, 1)
	assert.Equal(t, song.ID, scored[0].Track.ID)
}

func TestStreamTracks(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")
	for i := 0; i < 3; i++ {
		ts.upload(fmt.Sprintf("t%d", i))
	}

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/tracks?chunk_size=2&token=" + ts.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var sizes []int
	for {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		require.Empty(t, msg.Error)
		if msg.Done {
			assert.Equal(t, 3, msg.Count)
			break
		}
		sizes = append(sizes, len(msg.Tracks))
	}
	assert.Equal(t, []int{2, 1}, sizes)
}

func TestEventsStream(t *testing.T) {
	ts := newTestServer(t, "test-secret")
	ts.register("alice")

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws/events?token=" + ts.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// a pong means the client is registered
	require.NoError(t, conn.WriteJSON(events.Event{Type: events.TypePing}))
	var evt events.Event
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, events.TypePong, evt.Type)

	track := ts.upload("live")
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, events.TypeTrackAdded, evt.Type)
	assert.Equal(t, track.ID.String(), evt.TrackID)

	resp := ts.do(http.MethodPost, "/api/plugins/loudness/run", RunPluginRequest{TrackID: track.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, events.TypePluginRun, evt.Type)
	assert.Equal(t, "nendo_plugin_loudness", evt.Plugin)
	assert.Equal(t, "track", evt.Result)
	assert.Equal(t, track.ID.String(), evt.TrackID)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")
	ts.do(http.MethodGet, "/api/tracks", nil)

	resp := ts.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `nendo_http_requests_total{code="200",method="GET",route="/api/tracks"}`)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, "")
	req, err := http.NewRequest(http.MethodOptions, ts.srv.URL+"/api/tracks", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
