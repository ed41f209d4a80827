package resultserver

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeReader(t *testing.T) (*connReader, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return &connReader{conn: server}, client
}

func TestReadLineSplitsOnNewline(t *testing.T) {
	rd, client := pipeReader(t)

	go func() {
		_, _ = client.Write([]byte("LOG\nsurplus"))
	}()

	line, err := rd.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LOG", line)
	assert.Equal(t, 7, rd.Buffered())
	assert.Equal(t, []byte("surplus"), rd.Drain())
	assert.Equal(t, 0, rd.Buffered())
}

func TestReadLineAcrossChunks(t *testing.T) {
	rd, client := pipeReader(t)

	go func() {
		_, _ = client.Write([]byte("FILE {\"store_"))
		_, _ = client.Write([]byte("as\":\"files/a\"}\npayload"))
	}()

	line, err := rd.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `FILE {"store_as":"files/a"}`, line)
	assert.Equal(t, []byte("payload"), rd.Drain())
}

func TestReadLineEOF(t *testing.T) {
	rd, client := pipeReader(t)

	go func() {
		_ = client.Close()
	}()

	_, err := rd.ReadLine(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestReadLineTooLong(t *testing.T) {
	rd, client := pipeReader(t)

	go func() {
		_, _ = client.Write(bytes.Repeat([]byte{'A'}, MaxLineLen+1))
	}()

	_, err := rd.ReadLine(context.Background())
	require.ErrorIs(t, err, ErrLineTooLong)
}

func TestCopyToFlushesCarryFirst(t *testing.T) {
	rd, client := pipeReader(t)

	go func() {
		_, _ = client.Write([]byte("BSON 1234\ncarried"))
		_, _ = client.Write([]byte(" and streamed"))
		_ = client.Close()
	}()

	_, err := rd.ReadLine(context.Background())
	require.NoError(t, err)

	var sink bytes.Buffer
	n, err := rd.CopyTo(context.Background(), &sink, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len("carried and streamed")), n)
	assert.Equal(t, "carried and streamed", sink.String())
	assert.Equal(t, 0, rd.Buffered())
}

func TestWriteLimiterCapsAndMarks(t *testing.T) {
	var sink bytes.Buffer
	lim := newWriteLimiter(context.Background(), &sink, 10)

	n, err := lim.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 16, n, "reports full length so the drain continues")
	assert.Equal(t, "0123456789"+truncationMarker, sink.String())
	assert.True(t, lim.Truncated())

	// Further writes are swallowed without a second marker.
	n, err = lim.Write([]byte("more"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "0123456789"+truncationMarker, sink.String())
}

func TestWriteLimiterUnderCap(t *testing.T) {
	var sink bytes.Buffer
	lim := newWriteLimiter(context.Background(), &sink, 100)

	n, err := lim.Write([]byte("small"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.False(t, lim.Truncated())
	assert.Equal(t, "small", sink.String())
}

func TestCopyToWithLimit(t *testing.T) {
	rd, client := pipeReader(t)

	payload := strings.Repeat("x", 50)
	go func() {
		_, _ = client.Write([]byte(payload))
		_ = client.Close()
	}()

	var sink bytes.Buffer
	n, err := rd.CopyTo(context.Background(), &sink, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(50), n, "pre-cap byte count")
	assert.Equal(t, strings.Repeat("x", 20)+truncationMarker, sink.String())
}
