// Command filterstackd runs a filter-stack search worker pool against a
// line-delimited stream of object IDs on stdin, printing the IDs that pass
// the whole stack to stdout. It is a minimal standalone harness for the
// engine in pkg/: a real deployment replaces the stdin scope source and
// stdout blast sink with the RPC framing layer, scope/object-source
// iteration, and blast-channel transport this core treats as external
// collaborators.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/filterstack/engine/pkg/cache"
	"github.com/filterstack/engine/pkg/filterspec"
	"github.com/filterstack/engine/pkg/filterstack"
	"github.com/filterstack/engine/pkg/infrastructure/config"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/runtime"
	"github.com/filterstack/engine/pkg/sessionvars"
	"github.com/filterstack/engine/pkg/stackrunner"
	"github.com/filterstack/engine/pkg/stats"
	"github.com/filterstack/engine/pkg/workerpool"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		fspecPath  = flag.String("fspec", "", "Filter-stack specification file")
		blobDir    = flag.String("blobs", ".", "Directory of filter executables, named by signature")
		watch      = flag.Bool("watch", false, "Hot-reload the fspec file on write")
	)
	flag.Parse()

	if *fspecPath == "" {
		fmt.Fprintln(os.Stderr, "filterstackd: -fspec is required")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filterstackd: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		level = logging.InfoLevel
	}
	format := logging.TextFormat
	if cfg.Logging.Format == "json" {
		format = logging.JSONFormat
	}
	logging.InitGlobalLogger(&logging.Config{
		Level:            level,
		Format:           format,
		Output:           os.Stderr,
		EnableSanitizing: true,
	})
	logger := logging.GetGlobalLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	blobs := &directoryBlobCache{dir: *blobDir}
	sessions := sessionvars.NewMemoryStore()
	searchStats := stats.NewSearchStats()

	stackSource, err := buildStackSource(*fspecPath, *watch, logger)
	if err != nil {
		logger.Errorf("unable to load fspec: %v", err)
		os.Exit(1)
	}

	var store cache.Store
	if cfg.Cache.Host != "" {
		redisStore := cache.NewRedisStore(cfg.Cache.Addr(), cfg.Cache.Password, cfg.Cache.Database, cfg.Cache.DialTimeout)
		if err := redisStore.Ping(ctx); err != nil {
			logger.Warnf("cache backend unreachable, running uncached: %v", err)
		} else {
			store = redisStore
		}
	}

	pool := &workerpool.Pool{
		Workers: cfg.Workers.Count,
		Source:  &stdinSource{r: bufio.NewReader(os.Stdin)},
		Sink:    &stdoutSink{w: os.Stdout},
		Logger:  logger,
		Factory: func(workerID int) (*stackrunner.Runner, func(), error) {
			// Each worker opens and pings its own cache connection.
			var workerStore cache.Store
			if store != nil {
				redisStore := cache.NewRedisStore(cfg.Cache.Addr(), cfg.Cache.Password, cfg.Cache.Database, cfg.Cache.DialTimeout)
				if err := redisStore.Ping(ctx); err != nil {
					logger.Warnf("worker %d: cache backend unreachable, running uncached: %v", workerID, err)
				} else {
					workerStore = redisStore
				}
			}
			stack := stackSource()
			processors := runtime.BindStack(stack, blobs, sessions, logger)
			runner := stackrunner.New(processors, workerStore, logger, searchStats)
			return runner, closeProcessors(processors), nil
		},
	}

	go func() {
		for fault := range pool.Faults {
			logger.Errorf("worker %d faulted: %v", fault.WorkerID, fault.Err)
		}
	}()

	if err := pool.Run(ctx); err != nil {
		logger.Errorf("search terminated: %v", err)
		os.Exit(1)
	}

	snapshot := searchStats.Snapshot()
	logger.Infof("processed=%d passed=%d dropped=%d", snapshot.ObjectsProcessed, snapshot.ObjectsPassed, snapshot.ObjectsDropped)
}

// buildStackSource returns a function yielding the current FilterStack for
// each new worker. Without -watch it always returns the same stack parsed
// once at startup; with -watch it returns filterspec.Watcher's live value.
func buildStackSource(path string, watch bool, logger *logging.Logger) (func() *filterstack.Stack, error) {
	if watch {
		w, err := filterspec.NewWatcher(path, logger)
		if err != nil {
			return nil, err
		}
		return w.Current, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	filters, err := filterspec.Parse(string(data))
	if err != nil {
		return nil, err
	}
	stack, err := filterstack.New(filters)
	if err != nil {
		return nil, err
	}
	return func() *filterstack.Stack { return stack }, nil
}

// closeProcessors returns a cleanup closure that kills every FilterRunner's
// child process. Fetcher does not own a process and is skipped.
func closeProcessors(processors []runtime.ObjectProcessor) func() {
	return func() {
		for _, proc := range processors {
			if closer, ok := proc.(interface{ Close() }); ok {
				closer.Close()
			}
		}
	}
}

// directoryBlobCache resolves a filter signature to an executable path by
// looking for a file named after the signature in a fixed directory. A
// production deployment replaces this with the real blob cache, which this
// core treats as an opaque external lookup.
type directoryBlobCache struct {
	dir string
}

func (d *directoryBlobCache) ExecutablePath(signature string) (string, error) {
	path := filepath.Join(d.dir, signature)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// stdinSource yields one Simple object per non-empty input line, using the
// line itself as the object ID. The objects carry no loader, so the
// Fetcher's Load is a no-op and filters start from an empty attribute map.
type stdinSource struct {
	r *bufio.Reader
}

func (s *stdinSource) Next(ctx context.Context) (object.Object, error) {
	for {
		line, err := s.r.ReadString('\n')
		trimmed := trimNewline(line)
		if trimmed != "" {
			return object.New([]byte(trimmed), nil), nil
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// stdoutSink prints the ID of every accepted object, one per line.
type stdoutSink struct {
	w io.Writer
}

func (s *stdoutSink) Send(ctx context.Context, obj object.Object) error {
	_, err := fmt.Fprintf(s.w, "%s\n", obj.ID())
	return err
}

func (s *stdoutSink) Close() error { return nil }
