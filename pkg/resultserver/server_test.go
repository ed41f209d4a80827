package resultserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandtrap-io/sandtrap/pkg/storage"
)

const testClientIP = "127.0.0.1"

func newTestServer(t *testing.T, uploadMax int64) (*Server, string) {
	t.Helper()
	base := t.TempDir()

	srv := NewServer(Config{
		IP:            "127.0.0.1",
		Port:          0,
		UploadMaxSize: uploadMax,
	}, func(taskID int64) string {
		return storage.AnalysisPath(base, taskID)
	}, nil)

	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	t.Cleanup(srv.Stop)
	return srv, base
}

func registerTask(t *testing.T, srv *Server, base string, taskID int64, rt Dispatcher) string {
	t.Helper()
	path := storage.AnalysisPath(base, taskID)
	require.NoError(t, storage.EnsureAnalysisDirs(path))
	srv.AddTask(taskID, testClientIP, rt)
	return path
}

func dial(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.ActualPort()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// waitClosed blocks until the server closes the connection.
func waitClosed(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err)
	nerr, ok := err.(net.Error)
	require.False(t, ok && nerr.Timeout(), "server did not close the connection")
}

func TestFileUpload(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "files/dropped.exe", "path": "C:\\Users\\victim\\dropped.exe", "pids": [2600]}` + "\n"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("MZ payload bytes"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "files", "dropped.exe"))
		return err == nil && string(data) == "MZ payload bytes"
	}, 5*time.Second, 10*time.Millisecond)

	// The upload is journaled with its VM-side origin.
	var entry struct {
		Path     string  `json:"path"`
		Filepath *string `json:"filepath"`
		Pids     []int64 `json:"pids"`
	}
	data, err := os.ReadFile(filepath.Join(path, "files.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &entry))
	assert.Equal(t, "files/dropped.exe", entry.Path)
	require.NotNil(t, entry.Filepath)
	assert.Equal(t, `C:\Users\victim\dropped.exe`, *entry.Filepath)
	assert.Equal(t, []int64{2600}, entry.Pids)
}

func TestFileUploadLegacyHeaders(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	t.Run("version 1", func(t *testing.T) {
		conn := dial(t, srv)
		_, err := conn.Write([]byte("FILE\nshots/0001.jpg\njpegbytes"))
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			data, err := os.ReadFile(filepath.Join(path, "shots", "0001.jpg"))
			return err == nil && string(data) == "jpegbytes"
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("version 2", func(t *testing.T) {
		conn := dial(t, srv)
		_, err := conn.Write([]byte("FILE 2\nbuffer/deadbeef\nC:\\tmp\\x\n2600,2604\nbufbytes"))
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		require.Eventually(t, func() bool {
			data, err := os.ReadFile(filepath.Join(path, "buffer", "deadbeef"))
			return err == nil && string(data) == "bufbytes"
		}, 5*time.Second, 10*time.Millisecond)

		data, err := os.ReadFile(filepath.Join(path, "files.json"))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"pids":[2600,2604]`)
	})
}

func TestFileUploadBannedPath(t *testing.T) {
	srv, base := newTestServer(t, 0)
	registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "../../etc/cron.d/backdoor"}` + "\nevil"))
	require.NoError(t, err)

	waitClosed(t, conn)
	_, err = os.Stat(filepath.Join(base, "..", "etc"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileUploadNoOverwrite(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	upload := func(body string) {
		conn := dial(t, srv)
		_, err := conn.Write([]byte(`FILE {"store_as": "files/same.bin"}` + "\n" + body))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	upload("first")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "files", "same.bin"))
		return err == nil && string(data) == "first"
	}, 5*time.Second, 10*time.Millisecond)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "files/same.bin"}` + "\nsecond"))
	require.NoError(t, err)
	waitClosed(t, conn)

	data, err := os.ReadFile(filepath.Join(path, "files", "same.bin"))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestFileUploadTruncated(t *testing.T) {
	srv, base := newTestServer(t, 16)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "memory/2600.dmp"}` + "\n" + strings.Repeat("A", 100)))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	want := strings.Repeat("A", 16) + truncationMarker
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "memory", "2600.dmp"))
		return err == nil && string(data) == want
	}, 5*time.Second, 10*time.Millisecond)
}

// A zero cap disables the limit entirely: the whole body must land on disk
// with no truncation marker.
func TestFileUploadUncapped(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	body := strings.Repeat("A", 64<<10)
	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "memory/2600.dmp"}` + "\n" + body))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "memory", "2600.dmp"))
		return err == nil && string(data) == body
	}, 5*time.Second, 10*time.Millisecond)
}

func TestLogStreamAtMostOnce(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	first := dial(t, srv)
	_, err := first.Write([]byte("LOG\nfirst stream\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "analysis.log"))
		return err == nil && string(data) == "first stream\n"
	}, 5*time.Second, 10*time.Millisecond)

	// A duplicate LOG connection is accepted but its bytes are discarded.
	second := dial(t, srv)
	_, err = second.Write([]byte("LOG\nsecond stream\n"))
	require.NoError(t, err)
	require.NoError(t, second.Close())

	_, err = first.Write([]byte("more from first\n"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "analysis.log"))
		return err == nil && string(data) == "first stream\nmore from first\n"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBsonStream(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`BSON {"pid": 2600}` + "\n\x10\x00\x00\x00bsonbytes"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "logs", "2600.bson"))
		return err == nil && string(data) == "\x10\x00\x00\x00bsonbytes"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBsonStreamBareIntegerHeader(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte("BSON 2600\nolddata"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "logs", "2600.bson"))
		return err == nil && string(data) == "olddata"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBsonStreamReconnectAppends(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	send := func(body string) {
		conn := dial(t, srv)
		_, err := conn.Write([]byte(`BSON {"pid": 2600}` + "\n" + body))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
	}

	send("part1|")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "logs", "2600.bson"))
		return err == nil && string(data) == "part1|"
	}, 5*time.Second, 10*time.Millisecond)

	send("part2")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "logs", "2600.bson"))
		return err == nil && string(data) == "part1|part2"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestUnknownCommandDropsConnection(t *testing.T) {
	srv, base := newTestServer(t, 0)
	registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte("SMTP HELO\n"))
	require.NoError(t, err)
	waitClosed(t, conn)
}

func TestUnboundAddressDropsConnection(t *testing.T) {
	srv, _ := newTestServer(t, 0)

	conn := dial(t, srv)
	waitClosed(t, conn)
}

func TestDelTaskCancelsLiveUpload(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "files/slow.bin"}` + "\npartial"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "files", "slow.bin"))
		return err == nil && string(data) == "partial"
	}, 5*time.Second, 10*time.Millisecond)

	srv.DelTask(1, testClientIP)

	// The handler observes end-of-stream, keeps the partial artifact and
	// the server closes the socket.
	waitClosed(t, conn)
	data, err := os.ReadFile(filepath.Join(path, "files", "slow.bin"))
	require.NoError(t, err)
	assert.Equal(t, "partial", string(data))
}

func TestRealtimeChannel(t *testing.T) {
	srv, base := newTestServer(t, 0)
	rt := &recordingDispatcher{}
	registerTask(t, srv, base, 1, rt)

	conn := dial(t, srv)
	_, err := conn.Write([]byte("REALTIME\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(rt.sessions()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte(`{"type": "event", "subject": "behavior"}` + "\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		msgs := rt.messages()
		return len(msgs) == 1 && msgs[0]["type"] == "event"
	}, 5*time.Second, 10*time.Millisecond)

	// Outbound commands travel over the same session.
	sess := rt.sessions()[0]
	require.NoError(t, sess.Write([]byte(`{"command": "dumpmem"}`+"\n")))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, `{"command": "dumpmem"}`+"\n", string(buf[:n]))
}

func TestFileUploadResponseEnvelope(t *testing.T) {
	srv, base := newTestServer(t, 0)
	rt := &recordingDispatcher{}
	registerTask(t, srv, base, 1, rt)

	conn := dial(t, srv)
	_, err := conn.Write([]byte(`FILE {"store_as": "memory/2600.dmp", "rid": 42}` + "\ndump"))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		msgs := rt.messages()
		return len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	msg := rt.messages()[0]
	assert.Equal(t, float64(42), msg["rid"])
	assert.Equal(t, true, msg["success"])
}

func TestServerStopCancelsSessions(t *testing.T) {
	srv, base := newTestServer(t, 0)
	path := registerTask(t, srv, base, 1, nil)

	conn := dial(t, srv)
	_, err := conn.Write([]byte("LOG\nhello\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(path, "analysis.log"))
		return err == nil && string(data) == "hello\n"
	}, 5*time.Second, 10*time.Millisecond)

	srv.Stop()
	waitClosed(t, conn)
}
