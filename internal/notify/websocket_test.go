package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"backoffice-service/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketChannelEndToEnd(t *testing.T) {
	r := NewRegistry(time.Second)
	attached := make(chan struct{})
	done := make(chan struct{})

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if !assert.NoError(t, err) {
			return
		}
		ch := NewWebSocketChannel(conn, time.Second)
		r.Attach("qr-1", ch)
		close(attached)
		_ = ch.Wait()
		r.Detach("qr-1", ch)
		_ = ch.Close()
		close(done)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	<-attached
	assert.Equal(t, 1, r.Deliver(context.Background(), "qr-1", success))

	var got models.PaymentNotification
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, success, got)

	_, _, err = client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server handler did not return after close")
	}
	assert.Equal(t, 0, r.Count("qr-1"))
}
