package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/filterproc"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/sessionvars"
)

// scriptedProcess is an in-process double for a spawned filter: it speaks
// the wire protocol over a pair of io.Pipes instead of exec.Command, driven
// by a script goroutine that plays the filter's side of the conversation.
type scriptedProcess struct {
	conn   *filterproc.Conn
	killed bool
}

func (p *scriptedProcess) Conn() *filterproc.Conn { return p.conn }
func (p *scriptedProcess) Kill()                  { p.killed = true }

// newScriptedRunner wires a FilterRunner to a fake, already-initialized
// process whose other end is driven by script. script receives the
// filter-side Conn and the raw writer it must use to emit bare tag lines
// (Conn has no bare-line send, since a real filter process is the only
// thing that ever needs to). The runner's command loop never sends anything
// before reading the first tag, so script is free to begin writing tags
// immediately.
func newScriptedRunner(t *testing.T, f *filter.Filter, script func(filterSide *filterproc.Conn, rawW io.Writer)) (runner *FilterRunner, proc *scriptedProcess, killFilter func()) {
	t.Helper()

	filterToRunnerR, filterToRunnerW := io.Pipe()
	runnerToFilterR, runnerToFilterW := io.Pipe()

	runnerConn := filterproc.NewConn(runnerToFilterW, filterToRunnerR)
	filterConn := filterproc.NewConn(filterToRunnerW, runnerToFilterR)

	proc = &scriptedProcess{conn: runnerConn}

	runner = NewFilterRunner(f, nil, sessionvars.NewMemoryStore(), testLogger())
	runner.proc = proc
	runner.initialized = true

	go script(filterConn, filterToRunnerW)

	return runner, proc, func() { filterToRunnerW.Close() }
}

// newUninitializedScriptedRunner wires a FilterRunner whose process is
// spawned (but not yet initialized), for tests exercising the init
// handshake itself. blobs is a BlobCache that resolves any signature to a
// dummy path, since spawn is stubbed out.
func newUninitializedScriptedRunner(t *testing.T, f *filter.Filter, script func(filterSide *filterproc.Conn, rawW io.Writer)) (runner *FilterRunner, killFilter func()) {
	t.Helper()

	filterToRunnerR, filterToRunnerW := io.Pipe()
	runnerToFilterR, runnerToFilterW := io.Pipe()

	runnerConn := filterproc.NewConn(runnerToFilterW, filterToRunnerR)
	filterConn := filterproc.NewConn(filterToRunnerW, runnerToFilterR)

	proc := &scriptedProcess{conn: runnerConn}

	runner = NewFilterRunner(f, stubBlobCache{}, sessionvars.NewMemoryStore(), testLogger())
	runner.spawn = func(path, name string, arguments []string, blob string) (filterProcess, error) {
		return proc, nil
	}

	go script(filterConn, filterToRunnerW)

	return runner, func() { filterToRunnerW.Close() }
}

type stubBlobCache struct{}

func (stubBlobCache) ExecutablePath(signature string) (string, error) { return "/bin/true", nil }

func testLogger() *logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:  logging.DebugLevel,
		Format: logging.TextFormat,
		Output: io.Discard,
	})
}

func sendTag(w io.Writer, tag string) {
	fmt.Fprintf(w, "%s\n", tag)
}

func TestFilterRunnerPassSetsAttributeAndScore(t *testing.T) {
	f := filter.New("f", "sig", 0.5, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "set-attribute")
		conn.Send("x")
		conn.Send([]byte{0x00})

		sendTag(rawW, "result")
		conn.Send("0.7")
	})

	obj := object.New([]byte("obj-1"), nil)
	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, 0.7, result.Score)
	require.True(t, runner.Threshold(result))

	value, present := obj.Get("x")
	require.True(t, present)
	require.Equal(t, []byte{0x00}, value)
}

func TestFilterRunnerDropViaScore(t *testing.T) {
	f := filter.New("f", "sig", 0.5, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "result")
		conn.Send("0.2")
	})

	obj := object.New([]byte("obj-1"), nil)
	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.False(t, runner.Threshold(result))
}

func TestFilterRunnerGetAttributeRecordsInput(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "get-attribute")
		conn.Send("in")
		value, present, err := conn.GetItem()
		require.NoError(t, err)
		require.True(t, present)
		require.Equal(t, []byte("hello"), value)

		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	obj.Set("in", []byte("hello"))

	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, obj.Signature("in"), result.InputAttrs["in"])
}

func TestFilterRunnerGetAttributeMissingSendsNone(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	done := make(chan struct{})
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "get-attribute")
		conn.Send("missing")
		_, present, err := conn.GetItem()
		require.NoError(t, err)
		require.False(t, present)
		close(done)

		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	<-done
}

func TestFilterRunnerOmitAttributeSendsReply(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	replies := make(chan []byte, 2)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "omit-attribute")
		conn.Send("present")
		reply, _, err := conn.GetItem()
		require.NoError(t, err)
		replies <- reply

		sendTag(rawW, "omit-attribute")
		conn.Send("absent")
		reply, _, err = conn.GetItem()
		require.NoError(t, err)
		replies <- reply

		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	obj.Set("present", []byte("x"))

	_, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, []byte("true"), <-replies)
	require.Equal(t, []byte("false"), <-replies)
	require.False(t, obj.Contains("present"))
}

func TestFilterRunnerUpdateSessionVariablesMismatchIsFatal(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "update-session-variables")
		conn.Send([]string{"a", "b"})
		conn.Send([]string{"1"})
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.Error(t, err)
	require.IsType(t, &filter.ExecutionError{}, err)
}

func TestFilterRunnerUpdateSessionVariablesNonNumericIsFatal(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "update-session-variables")
		conn.Send([]string{"a"})
		conn.Send([]string{"not-a-number"})
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.Error(t, err)
	require.IsType(t, &filter.ExecutionError{}, err)
}

func TestFilterRunnerUpdateSessionVariablesValidIsApplied(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "update-session-variables")
		conn.Send([]string{"a"})
		conn.Send([]string{"2.5"})

		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, 2.5, runner.sessions.FilterGet([]string{"a"})["a"])
}

func TestFilterRunnerLogTagReadsLevelThenMessageAndKeepsProtocolInSync(t *testing.T) {
	var buf bytes.Buffer
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "log")
		conn.Send("4") // INFO bit
		conn.Send("hello from filter")

		sendTag(rawW, "result")
		conn.Send("1")
	})
	runner.logger = logging.NewLogger(&logging.Config{Level: logging.DebugLevel, Format: logging.TextFormat, Output: &buf})

	obj := object.New([]byte("obj-1"), nil)
	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Score)
	require.Contains(t, buf.String(), "hello from filter")
}

func TestFilterRunnerLogTagDiscardsTrace(t *testing.T) {
	var buf bytes.Buffer
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "log")
		conn.Send("8") // TRACE bit
		conn.Send("should not appear")

		sendTag(rawW, "result")
		conn.Send("1")
	})
	runner.logger = logging.NewLogger(&logging.Config{Level: logging.DebugLevel, Format: logging.TextFormat, Output: &buf})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "should not appear")
}

func TestFilterRunnerLogTagMalformedLevelIsFatal(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "log")
		conn.Send("not-an-int")
		conn.Send("message")
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.Error(t, err)
	require.IsType(t, &filter.ExecutionError{}, err)
}

func TestFilterRunnerDeathAfterInitIsNonFatalDrop(t *testing.T) {
	f := filter.New("f", "sig", 0.1, nil, nil)
	runner, _, killFilter := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		// Die mid-conversation: caller closes the pipe without a result.
	})
	killFilter()

	obj := object.New([]byte("obj-1"), nil)
	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, 0.0, result.Score)
	require.False(t, runner.Threshold(result))
	require.False(t, runner.initialized, "runner should discard the dead process")
}

func TestFilterRunnerUnknownTagIsExecutionError(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _, _ := newScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "not-a-real-tag")
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.Error(t, err)
	require.IsType(t, &filter.ExecutionError{}, err)
}

func TestFilterRunnerCacheKeyStableForSameObject(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner := NewFilterRunner(f, nil, sessionvars.NewMemoryStore(), testLogger())

	obj := object.New([]byte("obj-1"), nil)
	require.Equal(t, runner.CacheKey(obj), runner.CacheKey(obj))
}

func TestFilterRunnerInitToleratesLogBeforeSuccess(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _ := newUninitializedScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "log")
		conn.Send("4")
		conn.Send("starting up")

		sendTag(rawW, "init-success")

		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	result, err := runner.Evaluate(context.Background(), obj)
	require.NoError(t, err)
	require.Equal(t, 1.0, result.Score)
	require.True(t, runner.initialized)
}

func TestFilterRunnerInitFailsOnUnexpectedTag(t *testing.T) {
	f := filter.New("f", "sig", 0, nil, nil)
	runner, _ := newUninitializedScriptedRunner(t, f, func(conn *filterproc.Conn, rawW io.Writer) {
		sendTag(rawW, "result")
		conn.Send("1")
	})

	obj := object.New([]byte("obj-1"), nil)
	_, err := runner.Evaluate(context.Background(), obj)
	require.Error(t, err)
	require.IsType(t, &filter.ExecutionError{}, err)
	require.False(t, runner.initialized)
}
