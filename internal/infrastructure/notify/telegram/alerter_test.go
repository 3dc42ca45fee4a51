package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertSendsToChat(t *testing.T) {
	var mu sync.Mutex
	var sent []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"mt5bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			_ = r.ParseForm()
			mu.Lock()
			sent = append(sent, r.PostForm)
			mu.Unlock()
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a, err := NewWithEndpoint("TOKEN", 42, srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	require.NoError(t, a.Alert(context.Background(), "retry ceiling reached", "ticket 5"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "42", sent[0].Get("chat_id"))
	assert.Equal(t, "retry ceiling reached\n\nticket 5", sent[0].Get("text"))
}

func TestSplitMessage(t *testing.T) {
	parts := splitMessage(strings.Repeat("я", 10), 4)
	assert.Equal(t, []string{"яяяя", "яяяя", "яя"}, parts)
	assert.Equal(t, []string{"short"}, splitMessage("short", 4096))
}
