package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/slipstream/acquire/internal/httpclient"
	"github.com/slipstream/acquire/internal/notification"
)

func TestSend(t *testing.T) {
	var (
		gotMethod string
		gotHeader string
		gotUser   string
		gotBody   Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		gotUser, _, _ = r.BasicAuth()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	n := New(Settings{
		URL:      srv.URL,
		Method:   "put",
		Username: "user",
		Password: "pass",
		Headers:  map[string]string{"X-Token": "abc"},
	}, hc, zerolog.Nop())

	if n.Name() != srv.URL {
		t.Errorf("Name() = %q, want the url", n.Name())
	}

	err := n.Send(context.Background(), notification.Event{
		Type:   notification.EventSnatched,
		Artist: "Boards of Canada",
		Album:  "Geogaddi",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("method = %q, want PUT", gotMethod)
	}
	if gotHeader != "abc" {
		t.Errorf("X-Token = %q, want abc", gotHeader)
	}
	if gotUser != "user" {
		t.Errorf("basic auth user = %q, want user", gotUser)
	}
	if gotBody.Type != notification.EventSnatched || gotBody.Album != "Geogaddi" {
		t.Errorf("payload = %+v", gotBody)
	}
	if gotBody.InstanceName != "acquire" {
		t.Errorf("instanceName = %q, want acquire", gotBody.InstanceName)
	}
}

func TestSend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	hc := httpclient.New(httpclient.Config{Backoff: time.Millisecond}, zerolog.Nop())
	n := New(Settings{Name: "hook", URL: srv.URL}, hc, zerolog.Nop())

	if err := n.Send(context.Background(), notification.Event{Type: notification.EventTest}); err == nil {
		t.Error("expected an error for a 500 response")
	}
}
