package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/StergiosCha/perpatame/internal/client"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/hub"
	"github.com/StergiosCha/perpatame/internal/idgen"
	"github.com/StergiosCha/perpatame/internal/repository"
	"github.com/StergiosCha/perpatame/internal/service"
)

type echoTransformer struct{}

func (echoTransformer) Transform(ctx context.Context, text, style string) (*domain.Transformation, error) {
	return &domain.Transformation{TransformedText: "✨ " + text, Style: style}, nil
}

type fixedTranscriber struct{}

func (fixedTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (*domain.Transcription, error) {
	if bytes.Contains(audio, []byte("silence")) {
		return nil, client.ErrNoSpeech
	}
	return &domain.Transcription{Text: "Σήμερα περπάτησα", Language: "el"}, nil
}

type testServer struct {
	srv     *httptest.Server
	hub     *hub.Hub
	stories service.StoryService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.NewHub(hub.DefaultConfig())
	t.Cleanup(h.Stop)

	stories := service.NewStoryService(
		repository.NewMemoryStoryRepository(),
		echoTransformer{},
		client.NewContentFilter(3),
		idgen.NewULIDGenerator(),
		h, nil, service.DefaultConfig(),
	)
	if err := stories.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	transcription := service.NewTranscriptionService(fixedTranscriber{}, nil, service.TranscriptionConfig{MinAudioBytes: 4})

	r := gin.New()
	NewHandler(stories, transcription, 1<<20).RegisterRoutes(r)
	NewWSHandler(h, stories, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, hub: h, stories: stories}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, ts.srv.URL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func (ts *testServer) submit(t *testing.T, text string) domain.Story {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/submit", map[string]string{"text": text, "author_name": "Mia"})
	if status != http.StatusCreated {
		t.Fatalf("Expected 201, got %d (%+v)", status, env.Error)
	}
	var s domain.Story
	json.Unmarshal(env.Data, &s)
	return s
}

func TestSubmitAndModerate(t *testing.T) {
	ts := newTestServer(t)
	story := ts.submit(t, "Today I learned to ride a bike")
	if story.Status != domain.StatusPending || story.AuthorName != "Mia" {
		t.Fatalf("Unexpected story %+v", story)
	}

	status, env := ts.do(t, http.MethodGet, "/api/stories/pending", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), story.ID) {
		t.Errorf("Expected pending list to contain story, got %d %s", status, env.Data)
	}

	status, env = ts.do(t, http.MethodPost, "/api/moderate", map[string]string{
		"story_id": story.ID, "action": "approve", "moderator_name": "Nikos",
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}

	// Same decision again is a harmless retry.
	status, _ = ts.do(t, http.MethodPost, "/api/moderate", map[string]string{
		"story_id": story.ID, "action": "approve", "moderator_name": "Nikos",
	})
	if status != http.StatusOK {
		t.Errorf("Expected idempotent retry to return 200, got %d", status)
	}

	status, env = ts.do(t, http.MethodPost, "/api/moderate", map[string]string{
		"story_id": story.ID, "action": "reject", "moderator_name": "Eva",
	})
	if status != http.StatusConflict || env.Error == nil || env.Error.Code != "ALREADY_DECIDED" {
		t.Fatalf("Expected 409 ALREADY_DECIDED, got %d %+v", status, env.Error)
	}
	var current domain.Story
	json.Unmarshal(env.Data, &current)
	if current.Status != domain.StatusApproved || current.DecidedBy != "Nikos" {
		t.Errorf("Expected conflict to carry the approved story, got %+v", current)
	}

	status, env = ts.do(t, http.MethodGet, "/api/stories?limit=500", nil)
	if status != http.StatusOK || !strings.Contains(string(env.Data), story.ID) {
		t.Errorf("Expected approved list to contain story, got %d %s", status, env.Data)
	}

	_, env = ts.do(t, http.MethodGet, "/api/stats", nil)
	var stats domain.Stats
	json.Unmarshal(env.Data, &stats)
	if stats.TotalSubmissions != 1 || stats.Approved != 1 || stats.Pending != 0 {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	story := ts.submit(t, "Σήμερα περπάτησα ως τη θάλασσα")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"short text", http.MethodPost, "/api/submit", map[string]string{"text": "hi"}, 400, "BAD_REQUEST"},
		{"missing text", http.MethodPost, "/api/submit", map[string]string{}, 400, "BAD_REQUEST"},
		{"off topic", http.MethodPost, "/api/submit", map[string]string{"text": "Η βουλή, η κυβέρνηση και ο υπουργός"}, 422, "TRANSFORMATION_FAILED"},
		{"unknown story", http.MethodPost, "/api/moderate", map[string]string{"story_id": "nope", "action": "approve", "moderator_name": "Nikos"}, 404, "NOT_FOUND"},
		{"no moderator", http.MethodPost, "/api/moderate", map[string]string{"story_id": story.ID, "action": "approve"}, 400, "BAD_REQUEST"},
		{"bad action", http.MethodPost, "/api/moderate", map[string]string{"story_id": story.ID, "action": "delete", "moderator_name": "Nikos"}, 400, "BAD_REQUEST"},
		{"bad limit", http.MethodGet, "/api/stories?limit=abc", nil, 400, "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := ts.do(t, tt.method, tt.path, tt.body)
			if status != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, status)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("Expected code %s, got %+v", tt.code, env.Error)
			}
		})
	}
}

func TestPreviewDoesNotCreate(t *testing.T) {
	ts := newTestServer(t)
	status, env := ts.do(t, http.MethodPost, "/api/preview-transformation", map[string]string{
		"text": "Σήμερα κατάφερα να περπατήσω", "transformation_style": "community",
	})
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	var tr domain.Transformation
	json.Unmarshal(env.Data, &tr)
	if tr.Style != "community" || tr.Theme == nil || tr.Theme.Name != "success" {
		t.Errorf("Unexpected preview %+v", tr)
	}
	if ts.stories.SnapshotStats().TotalSubmissions != 0 {
		t.Error("Expected preview not to create a story")
	}
}

func TestListStyles(t *testing.T) {
	ts := newTestServer(t)
	_, env := ts.do(t, http.MethodGet, "/api/transformation-styles", nil)
	var body struct {
		Styles  []domain.Style `json:"styles"`
		Default string         `json:"default"`
	}
	json.Unmarshal(env.Data, &body)
	if len(body.Styles) != 4 || body.Default != domain.StyleInspirational {
		t.Errorf("Unexpected styles %+v", body)
	}
}

func upload(t *testing.T, ts *testServer, field string, audio []byte) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile(field, "voice.webm")
	part.Write(audio)
	w.Close()

	resp, err := http.Post(ts.srv.URL+"/api/transcribe", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var env envelope
	json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func TestTranscribe(t *testing.T) {
	ts := newTestServer(t)

	status, env := upload(t, ts, "audio", []byte("voice-bytes"))
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%+v)", status, env.Error)
	}
	var res domain.Transcription
	json.Unmarshal(env.Data, &res)
	if res.Text != "Σήμερα περπάτησα" {
		t.Errorf("Unexpected transcription %+v", res)
	}

	if status, _ := upload(t, ts, "file", []byte("voice-bytes")); status != http.StatusOK {
		t.Errorf("Expected the file field to be accepted, got %d", status)
	}
	if status, env := upload(t, ts, "audio", []byte("silence")); status != http.StatusBadRequest || env.Error.Code != "NO_SPEECH" {
		t.Errorf("Expected 400 NO_SPEECH, got %d %+v", status, env.Error)
	}
	if status, _ := upload(t, ts, "audio", []byte("ab")); status != http.StatusBadRequest {
		t.Errorf("Expected short recording to be rejected, got %d", status)
	}
	if status, _ := upload(t, ts, "other", []byte("voice-bytes")); status != http.StatusBadRequest {
		t.Errorf("Expected missing file to be rejected, got %d", status)
	}
}

func dial(t *testing.T, ts *testServer, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return m
}

func readType(t *testing.T, conn *websocket.Conn, want string) map[string]json.RawMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		m := readJSON(t, conn)
		var typ string
		json.Unmarshal(m["type"], &typ)
		if typ == want {
			return m
		}
	}
	t.Fatalf("did not receive %s", want)
	return nil
}

func TestWebsocketModerationFlow(t *testing.T) {
	ts := newTestServer(t)
	existing := ts.submit(t, "Σήμερα περπάτησα ως τη θάλασσα")

	mod := dial(t, ts, "/ws/moderate?moderator=Nikos")
	disp := dial(t, ts, "/ws/display")

	hydrate := readType(t, mod, domain.MsgTypeHydrate)
	var pending []domain.Story
	json.Unmarshal(hydrate["pending"], &pending)
	if len(pending) != 1 || pending[0].ID != existing.ID {
		t.Fatalf("Expected hydration with the existing story, got %s", hydrate["pending"])
	}
	readType(t, disp, domain.MsgTypeHydrate)

	mod.WriteMessage(websocket.TextMessage, []byte("ping"))
	readType(t, mod, domain.MsgTypePong)
	mod.WriteJSON(map[string]string{"type": "ping"})
	readType(t, mod, domain.MsgTypePong)

	mod.WriteJSON(domain.DecideMessage{Type: domain.MsgTypeDecide, RequestID: "r1", StoryID: existing.ID, Action: "approve"})

	approved := readType(t, disp, string(domain.EventStoryApproved))
	var story domain.Story
	json.Unmarshal(approved["data"], &story)
	if story.ID != existing.ID || story.DecidedBy != "Nikos" {
		t.Errorf("Expected approval by the connection's moderator, got %+v", story)
	}

	result := readType(t, mod, domain.MsgTypeDecisionResult)
	var ok bool
	json.Unmarshal(result["success"], &ok)
	if !ok || string(result["request_id"]) != `"r1"` {
		t.Errorf("Expected successful decision_result for r1, got %v", result)
	}

	mod.WriteJSON(domain.DecideMessage{Type: domain.MsgTypeDecide, RequestID: "r2", StoryID: existing.ID, Action: "reject", ModeratorName: "Eva"})
	result = readType(t, mod, domain.MsgTypeDecisionResult)
	json.Unmarshal(result["success"], &ok)
	if ok || string(result["code"]) != `"ALREADY_DECIDED"` {
		t.Errorf("Expected ALREADY_DECIDED, got %v", result)
	}
}

func TestWebsocketDisplayCannotDecide(t *testing.T) {
	ts := newTestServer(t)
	disp := dial(t, ts, "/ws/display")
	readType(t, disp, domain.MsgTypeHydrate)

	disp.WriteJSON(domain.DecideMessage{Type: domain.MsgTypeDecide, StoryID: "x", Action: "approve", ModeratorName: "Nikos"})
	readType(t, disp, domain.MsgTypeError)

	disp.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`))
	readType(t, disp, domain.MsgTypeError)
}

func TestWebsocketRejectedAfterStop(t *testing.T) {
	ts := newTestServer(t)
	ts.hub.Stop()

	conn := dial(t, ts, "/ws/display")
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("Expected going-away close, got %v", err)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://wall.example.org/"})
	req := httptest.NewRequest(http.MethodGet, "/ws/display", nil)

	if !check(req) {
		t.Error("Expected request without origin to pass")
	}
	req.Header.Set("Origin", "https://wall.example.org")
	if !check(req) {
		t.Error("Expected allowed origin to pass")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if check(req) {
		t.Error("Expected foreign origin to be refused")
	}
}
