package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramReceivesUpdates(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bottest-token/getUpdates":
			n := atomic.AddInt64(&calls, 1)
			if n == 1 {
				fmt.Fprint(w, `{"ok":true,"result":[
					{"update_id":7,"message":{"date":1700000000,"text":"/login","chat":{"id":4242}}},
					{"update_id":8,"message":{"date":1700000001,"text":"hunter2","chat":{"id":4242}}}
				]}`)
				return
			}
			// After the first batch the poller must advance its offset.
			assert.Equal(t, "9", r.URL.Query().Get("offset"))
			fmt.Fprint(w, `{"ok":true,"result":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	svc, err := NewTelegramService("test-token", WithTelegramAPIBase(srv.URL))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	recv := func() string {
		select {
		case resp := <-svc.Responses():
			assert.Equal(t, "4242", resp.From)
			return resp.Body
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for an update")
			return ""
		}
	}
	assert.Equal(t, "/login", recv())
	assert.Equal(t, "hunter2", recv())
}

func TestTelegramSendMessage(t *testing.T) {
	var gotChatID, gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/sendMessage" {
			http.NotFound(w, r)
			return
		}
		require.NoError(t, r.ParseForm())
		gotChatID = r.Form.Get("chat_id")
		gotText = r.Form.Get("text")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	svc, err := NewTelegramService("test-token", WithTelegramAPIBase(srv.URL))
	require.NoError(t, err)

	require.NoError(t, svc.SendMessage(context.Background(), "4242", "Please enter your Instagram username:"))
	assert.Equal(t, "4242", gotChatID)
	assert.Equal(t, "Please enter your Instagram username:", gotText)
}

func TestTelegramSendMessageRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	svc, err := NewTelegramService("test-token", WithTelegramAPIBase(srv.URL))
	require.NoError(t, err)

	err = svc.SendMessage(context.Background(), "999", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramEmptyTokenRejected(t *testing.T) {
	_, err := NewTelegramService("")
	require.Error(t, err)
}

func TestTelegramStopClosesResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	}))
	defer srv.Close()

	svc, err := NewTelegramService("test-token", WithTelegramAPIBase(srv.URL))
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(ctx))

	select {
	case _, ok := <-svc.Responses():
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("responses channel not closed after Stop")
	}
}
