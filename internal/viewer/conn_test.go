package viewer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// dialTestConn upgrades a loopback websocket and returns both ends.
func dialTestConn(t *testing.T, opts Options) (*Conn, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	connCh := make(chan *Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connCh <- NewConn(ws, opts)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	conn := <-connCh
	t.Cleanup(func() { conn.Close(CodeGoingAway, "test done") })
	return conn, client
}

func TestConn_DeliversFramesInOrder(t *testing.T) {
	conn, client := dialTestConn(t, DefaultOptions())

	frames := []types.Frame{
		{Key: "session/info/ses_1", Content: json.RawMessage(`{"title":"X"}`)},
		{Key: "session/message/ses_1/msg_1", Content: json.RawMessage(`{"role":"user"}`)},
		{Key: "session/message/ses_1/msg_2", Content: json.RawMessage(`{"role":"assistant"}`)},
	}
	for _, f := range frames {
		require.NoError(t, conn.Send(f))
	}

	for _, want := range frames {
		var got types.Frame
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		require.NoError(t, client.ReadJSON(&got))
		assert.Equal(t, want.Key, got.Key)
		assert.JSONEq(t, string(want.Content), string(got.Content))
	}
}

func TestConn_CloseSendsCodeAndReason(t *testing.T) {
	conn, client := dialTestConn(t, DefaultOptions())

	conn.Close(CodeNormal, ReasonShareDeleted)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CodeNormal, closeErr.Code)
	assert.Equal(t, ReasonShareDeleted, closeErr.Text)
}

func TestConn_FlushesPendingFramesBeforeClose(t *testing.T) {
	conn, client := dialTestConn(t, DefaultOptions())

	require.NoError(t, conn.Send(types.Frame{Key: "session/info/ses_1", Content: json.RawMessage(`{}`)}))
	conn.Close(CodeNormal, ReasonShareDeleted)

	var got types.Frame
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, "session/info/ses_1", got.Key)

	_, _, err := client.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, CodeNormal, closeErr.Code)
}

func TestConn_SendAfterCloseReturnsErrClosed(t *testing.T) {
	conn, _ := dialTestConn(t, DefaultOptions())

	conn.Close(CodeNormal, ReasonShareDeleted)

	err := conn.Send(types.Frame{Key: "session/info/ses_1"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_StalledClientReturnsErrSlowViewer(t *testing.T) {
	opts := DefaultOptions()
	opts.SendTimeout = 250 * time.Millisecond
	opts.BufferSize = 1
	conn, _ := dialTestConn(t, opts)

	// The client never reads. Large frames fill the socket buffers and
	// then the outbound buffer; the first send that fits nowhere must
	// report a slow viewer instead of blocking the coordinator.
	payload := json.RawMessage(`"` + strings.Repeat("x", 1<<20) + `"`)
	var err error
	for i := 0; i < 64; i++ {
		err = conn.Send(types.Frame{Key: "session/info/ses_slow", Content: payload})
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrSlowViewer)
}

func TestConn_DoneOnClientDisconnect(t *testing.T) {
	conn, client := dialTestConn(t, DefaultOptions())

	client.Close()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after client disconnect")
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	conn, _ := dialTestConn(t, DefaultOptions())

	conn.Close(CodeNormal, ReasonShareDeleted)
	conn.Close(CodeGoingAway, ReasonServerShutdown)
	conn.Close(CodeNormal, "third time")

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestConn_IDsAreUnique(t *testing.T) {
	a, _ := dialTestConn(t, DefaultOptions())
	b, _ := dialTestConn(t, DefaultOptions())

	assert.NotEmpty(t, a.ID())
	assert.NotEmpty(t, b.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}
