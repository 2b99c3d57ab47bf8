package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/parser"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trace = "PORT1 581 8 43 10 20 01 00 00 00\r\n" +
	"PORT1 601 8 40 10 20 01 00 00 00\r\n" +
	"PORT2 182 2 AA BB\r\n" +
	"PORT2 702 1 05\r\n" +
	"PORT2\r\n"

func writeTrace(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(args ...string) (stdout, stderr string, err error) {
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.Execute()
	return out.String(), errOut.String(), err
}

func TestFilterCommand(t *testing.T) {
	path := writeTrace(t, "bus.trc", trace)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no criteria", nil, strings.ReplaceAll(trace, "\r\n", "\n")},
		{"port", []string{"--port", "port1"}, "PORT1 581 8 43 10 20 01 00 00 00\nPORT1 601 8 40 10 20 01 00 00 00\n"},
		{"address and type", []string{"--address", "2", "--type", "node-guard"}, "PORT2 702 1 05\n"},
		{"repeated type", []string{"--type", "T_SDO", "--type", "R_SDO"}, "PORT1 581 8 43 10 20 01 00 00 00\nPORT1 601 8 40 10 20 01 00 00 00\n"},
		{"object and sub index", []string{"--object-index", "2010", "--sub-index", "01", "--type", "R_SDO"}, "PORT1 601 8 40 10 20 01 00 00 00\n"},
		{"raw", []string{"--raw", "--port", "PORT2", "--address", "2"}, "PORT2 182 2 AA BB\rPORT2 702 1 05\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(append([]string{"filter", path}, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestFilterCommand_StatsAndErrors(t *testing.T) {
	path := writeTrace(t, "bus.trc", trace)

	out, errOut, err := execute("filter", path, "--address", "1", "--stats", "--errors")
	require.NoError(t, err)
	assert.Equal(t, "PORT1 581 8 43 10 20 01 00 00 00\nPORT1 601 8 40 10 20 01 00 00 00\n", out)
	assert.Contains(t, errOut, "line 5:")
	assert.Contains(t, errOut, "layout=plain total=5 matched=2 malformed=1")
}

func TestFilterCommand_Compressed(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(trace))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	path := writeTrace(t, "bus.trc.gz", buf.String())

	out, _, err := execute("filter", path, "--type", "T_PDO_1")
	require.NoError(t, err)
	assert.Equal(t, "PORT2 182 2 AA BB\n", out)

	_, _, err = execute("filter", path, "--encoding", "none", "--type", "T_PDO_1")
	require.NoError(t, err)
}

func TestFilterCommand_Errors(t *testing.T) {
	path := writeTrace(t, "bus.trc", trace)

	_, _, err := execute("filter", path, "--type", "SYNC")
	assert.ErrorIs(t, err, parser.ErrUnknownPacketType)

	_, _, err = execute("filter", filepath.Join(t.TempDir(), "missing.trc"))
	assert.Error(t, err)

	_, _, err = execute("filter")
	assert.Error(t, err)

	_, _, err = execute("filter", path, "--encoding", "brotli")
	assert.Error(t, err)
}

func TestFilterCommand_HelpListsEncodings(t *testing.T) {
	out, _, err := execute("filter", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "none, gzip, lz4, zstd")
}

func TestTypesCommand(t *testing.T) {
	out, _, err := execute("types")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 14)
	assert.Equal(t, "NMT        0x000", lines[0])
	assert.Equal(t, "T_SDO      0x580", lines[11])
	assert.Equal(t, "NODE_GUARD 0x700", lines[13])
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchTrace(t *testing.T) {
	path := writeTrace(t, "bus.trc", trace)
	opts := &filterOptions{port: "PORT2", address: "7F"}

	var out, errOut syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchTrace(ctx, path, 10*time.Millisecond, opts, &out, &errOut, logger.NewNop())
	}()

	update := trace + "PORT2 77F 1 05\r\n"
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(update), 0644)
		return strings.Contains(out.String(), "PORT2 77F 1 05\n")
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchTrace_ShortInterval(t *testing.T) {
	path := writeTrace(t, "bus.trc", trace)
	err := watchTrace(context.Background(), path, 0, &filterOptions{}, &bytes.Buffer{}, &bytes.Buffer{}, logger.NewNop())
	assert.Error(t, err)
}
