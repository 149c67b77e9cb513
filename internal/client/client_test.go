package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestThemeForKeywords(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Είμαι δυνατή και δεν τα παρατάω", "strength"},
		{"Η οικογένεια μου είναι η αγάπη μου", "love"},
		{"Όλοι μαζί σαν κοινότητα", "community"},
		{"Ο γιατρός μου άλλαξε τη θεραπεία", "medical"},
		{"Σήμερα κατάφερα να περπατήσω", "success"},
		{"Μια συνηθισμένη μέρα", "hope"},
	}
	for _, tt := range tests {
		got := ThemeFor(tt.text)
		if got.Name != tt.want {
			t.Errorf("ThemeFor(%q) = %s, expected %s", tt.text, got.Name, tt.want)
		}
		if len(got.Emojis) == 0 || got.Color == "" || got.Animation == "" {
			t.Errorf("Expected complete theme for %q, got %+v", tt.text, got)
		}
	}
}

func TestThemeForReturnsCopy(t *testing.T) {
	a := ThemeFor("τίποτα")
	a.Emojis[0] = "x"
	b := ThemeFor("τίποτα")
	if b.Emojis[0] == "x" {
		t.Error("Expected ThemeFor to return an independent copy")
	}
}

func TestContentFilter(t *testing.T) {
	f := NewContentFilter(3)
	if !f.Relevant("Σήμερα περπάτησα στο πάρκο με την κόρη μου") {
		t.Error("Expected personal story to be relevant")
	}
	if !f.Relevant("Άκουσα για τη βουλή στις ειδήσεις") {
		t.Error("Expected a single off-topic keyword to pass")
	}
	if f.Relevant("Η βουλή, η κυβέρνηση και ο υπουργός για το σκάνδαλο") {
		t.Error("Expected political text to be rejected")
	}
	if !NewContentFilter(0).Relevant("βουλή κυβέρνηση υπουργός") {
		t.Error("Expected disabled filter to accept everything")
	}
}

func newGateway(t *testing.T, h http.HandlerFunc) (*HTTPTransformer, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tr := NewHTTPTransformer(HTTPTransformerConfig{
		URL:             srv.URL,
		APIKey:          "secret",
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    5 * time.Millisecond,
		MaxRetryBackoff: 10 * time.Millisecond,
		BreakerFailures: 5,
		BreakerWindow:   5,
		BreakerDelay:    time.Minute,
	})
	return tr, srv
}

func TestTransformSuccess(t *testing.T) {
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transform" {
			t.Errorf("Expected /v1/transform, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		var req transformRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Style != "emotional" {
			t.Errorf("Expected style emotional, got %s", req.Style)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"transformed_text": "  Κάθε βήμα μετράει  ",
			"comment":          "όμορφο",
		})
	})

	out, err := tr.Transform(context.Background(), "Σήμερα κατάφερα να περπατήσω", "emotional")
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	if out.TransformedText != "Κάθε βήμα μετράει" {
		t.Errorf("Expected trimmed text, got %q", out.TransformedText)
	}
	if out.Theme == nil || out.Theme.Name != "success" {
		t.Errorf("Expected keyword theme fallback, got %+v", out.Theme)
	}
	if out.Style != "emotional" {
		t.Errorf("Expected style emotional, got %s", out.Style)
	}
}

func TestTransformRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"transformed_text": "ok text"})
	})

	if _, err := tr.Transform(context.Background(), "κείμενο", "inspirational"); err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestTransformDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"bad text"}`))
	})

	_, err := tr.Transform(context.Background(), "κείμενο", "inspirational")
	if !errors.Is(err, ErrGatewayRejected) {
		t.Errorf("Expected ErrGatewayRejected, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 call, got %d", calls.Load())
	}
}

func TestTransformDetectsRefusalAndEmpty(t *testing.T) {
	reply := "Αυτό δεν είναι κατάλληλο για μετασχηματισμό"
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"transformed_text": reply})
	})

	if _, err := tr.Transform(context.Background(), "κείμενο", ""); !errors.Is(err, ErrGatewayRejected) {
		t.Errorf("Expected refusal to be rejected, got %v", err)
	}

	reply = "   "
	if _, err := tr.Transform(context.Background(), "κείμενο", ""); !errors.Is(err, ErrEmptyTransformation) {
		t.Errorf("Expected ErrEmptyTransformation, got %v", err)
	}
}

func TestTransformUnavailable(t *testing.T) {
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := tr.Transform(context.Background(), "κείμενο", "")
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("Expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestTransformCircuitOpens(t *testing.T) {
	var calls atomic.Int32
	tr, _ := newGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 3; i++ {
		tr.Transform(context.Background(), "κείμενο", "")
	}
	if tr.Healthy() {
		t.Error("Expected breaker to be open after repeated failures")
	}
	before := calls.Load()
	if _, err := tr.Transform(context.Background(), "κείμενο", ""); !errors.Is(err, ErrGatewayUnavailable) {
		t.Errorf("Expected ErrGatewayUnavailable while open, got %v", err)
	}
	if calls.Load() != before {
		t.Errorf("Expected no gateway call while open, got %d more", calls.Load()-before)
	}
}

func TestTranscribeFallsBackThroughLanguages(t *testing.T) {
	var tried []string
	tr := &DeepgramTranscriber{
		cfg: withSTTDefaults(DeepgramConfig{}),
		recognize: func(ctx context.Context, audio []byte, mimeType, lang string) (string, error) {
			tried = append(tried, lang)
			if lang == "en" {
				return " hello there ", nil
			}
			return "", nil
		},
	}

	got, err := tr.Transcribe(context.Background(), []byte("audio"), "audio/webm")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if got.Text != "hello there" || got.Language != "en" {
		t.Errorf("Expected english transcript, got %+v", got)
	}
	if strings.Join(tried, ",") != "el,en" {
		t.Errorf("Expected el then en, got %v", tried)
	}
}

func TestTranscribeNoSpeech(t *testing.T) {
	tr := &DeepgramTranscriber{
		cfg: withSTTDefaults(DeepgramConfig{}),
		recognize: func(ctx context.Context, audio []byte, mimeType, lang string) (string, error) {
			return "", nil
		},
	}
	if _, err := tr.Transcribe(context.Background(), []byte("audio"), ""); !errors.Is(err, ErrNoSpeech) {
		t.Errorf("Expected ErrNoSpeech, got %v", err)
	}
}

func TestTranscribeUpstreamFailure(t *testing.T) {
	tr := &DeepgramTranscriber{
		cfg: withSTTDefaults(DeepgramConfig{}),
		recognize: func(ctx context.Context, audio []byte, mimeType, lang string) (string, error) {
			return "", errors.New("boom")
		},
	}
	if _, err := tr.Transcribe(context.Background(), []byte("audio"), ""); !errors.Is(err, ErrSTTUnavailable) {
		t.Errorf("Expected ErrSTTUnavailable, got %v", err)
	}
}

func TestBestTranscript(t *testing.T) {
	raw := []byte(`{"results":{"channels":[{"alternatives":[{"transcript":"γεια σου"}]}]}}`)
	got, err := bestTranscript(raw)
	if err != nil || got != "γεια σου" {
		t.Errorf("Expected transcript, got %q (%v)", got, err)
	}
}

func TestReadAudioLimit(t *testing.T) {
	if _, err := ReadAudio(strings.NewReader("12345"), 4); err == nil {
		t.Error("Expected oversize audio to fail")
	}
	data, err := ReadAudio(strings.NewReader("1234"), 4)
	if err != nil || len(data) != 4 {
		t.Errorf("Expected 4 bytes, got %d (%v)", len(data), err)
	}
}

func TestQualityScore(t *testing.T) {
	original := strings.Repeat("α", 40)
	tests := []struct {
		name        string
		original    string
		transformed string
		want        float64
	}{
		{"all criteria", original, "ελπίδα" + strings.Repeat("β", 54), 1.0},
		{"no emotional keyword", original, strings.Repeat("β", 60), 0.6},
		{"too short", original, "ok", 0},
		{"keyword only", strings.Repeat("α", 10), "Αγάπη" + strings.Repeat("β", 395), 0.4},
		{"empty original", "", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QualityScore(tt.original, tt.transformed)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("QualityScore() = %v, want %v", got, tt.want)
			}
		})
	}
}
