package runtime

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/filterstack/engine/pkg/filter"
	"github.com/filterstack/engine/pkg/filterproc"
	"github.com/filterstack/engine/pkg/infrastructure/logging"
	"github.com/filterstack/engine/pkg/object"
	"github.com/filterstack/engine/pkg/sessionvars"
	"github.com/filterstack/engine/pkg/stats"
)

// Tags exchanged over a filter process's wire connection once it is past
// the init handshake.
const (
	tagInitSuccess            = "init-success"
	tagGetAttribute           = "get-attribute"
	tagSetAttribute           = "set-attribute"
	tagOmitAttribute          = "omit-attribute"
	tagGetSessionVariables    = "get-session-variables"
	tagUpdateSessionVariables = "update-session-variables"
	tagLog                    = "log"
	tagStdout                 = "stdout"
	tagResult                 = "result"
)

// throughputLimit is the output-byte-rate ceiling under which a filter's
// output attributes are worth caching. A filter that emits data faster
// than this is presumed cheap enough to just re-run.
const throughputLimit = 2 * 1024 * 1024 // bytes/sec

// Log-level bits a filter sends with the "log" tag.
const (
	logBitCrit  = 0x01
	logBitErr   = 0x02
	logBitInfo  = 0x04
	logBitTrace = 0x08
	logBitDebug = 0x10
)

// filterProcess is the subset of *filterproc.Process a FilterRunner
// depends on, so tests can substitute an in-process double instead of
// spawning a real child.
type filterProcess interface {
	Conn() *filterproc.Conn
	Kill()
}

type spawnFunc func(path, name string, arguments []string, blob string) (filterProcess, error)

func defaultSpawn(path, name string, arguments []string, blob string) (filterProcess, error) {
	p, err := filterproc.Spawn(path, name, arguments, blob)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FilterRunner is the ObjectProcessor that drives one filter's child
// process through the wire protocol. A FilterRunner owns at most one
// process at a time, spawned lazily on first use and respawned after any
// post-init death.
type FilterRunner struct {
	filter   *filter.Filter
	blobs    filter.BlobCache
	sessions sessionvars.Store
	logger   *logging.Logger
	spawn    spawnFunc

	mu          sync.Mutex
	proc        filterProcess
	initialized bool
}

// NewFilterRunner builds a runner for f. blobs resolves the filter's
// signature to an executable path; sessions is the shared session-variable
// store every runner in a search reads and updates.
func NewFilterRunner(f *filter.Filter, blobs filter.BlobCache, sessions sessionvars.Store, logger *logging.Logger) *FilterRunner {
	return &FilterRunner{
		filter:   f,
		blobs:    blobs,
		sessions: sessions,
		logger:   logger.WithComponent(f.Name),
		spawn:    defaultSpawn,
	}
}

func (r *FilterRunner) CacheKey(obj object.Object) string {
	return cacheKeyFromPrefix(r.filter.CacheDigestPrefix(), obj)
}

func (r *FilterRunner) CacheHit(result *filter.Result) {
	r.filter.Stats.RecordCacheHit(r.Threshold(result))
}

func (r *FilterRunner) Threshold(result *filter.Result) bool {
	return result.Score >= r.filter.Threshold
}

func (r *FilterRunner) String() string { return r.filter.Name }

// emitFilterLog maps a filter-sent log level to the engine's severity scale
// and emits message, discarding TRACE entirely.
func (r *FilterRunner) emitFilterLog(level int, message string) {
	switch {
	case level&logBitCrit != 0:
		r.logger.Error("CRIT: " + message)
	case level&logBitErr != 0:
		r.logger.Error(message)
	case level&logBitInfo != 0:
		r.logger.Info(message)
	case level&logBitTrace != 0:
		// trace messages are discarded
	case level&logBitDebug != 0:
		r.logger.Debug(message)
	default:
		r.logger.Debug(message)
	}
}

// Close kills any process this runner currently owns. Safe to call even
// when no process has ever been spawned.
func (r *FilterRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discardLocked()
}

// Evaluate drives obj through one pass of the filter's child process,
// spawning it first if necessary. A non-nil error here is fatal: either the
// process could not be started or initialized, or it sent a tag outside
// the protocol. A filter that dies mid-evaluation after a successful init
// is not fatal: Evaluate returns a degraded zero-score result instead and
// discards the process so the next call respawns it.
func (r *FilterRunner) Evaluate(ctx context.Context, obj object.Object) (*filter.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureSpawnedLocked(); err != nil {
		return nil, err
	}

	timer := stats.StartTimer()
	result, outputBytes, err := r.runLoopLocked(obj)
	elapsed := timer.Elapsed()
	if err != nil {
		return nil, err
	}

	result.CacheOutput = throughputOK(outputBytes, elapsed)
	r.filter.Stats.RecordExecution(!r.Threshold(result), elapsed)
	return result, nil
}

func (r *FilterRunner) ensureSpawnedLocked() error {
	if r.initialized {
		return nil
	}

	path, err := r.blobs.ExecutablePath(r.filter.Signature)
	if err != nil {
		return filter.NewExecutionError("no executable for filter %s: %v", r.filter.Name, err)
	}

	proc, err := r.spawn(path, r.filter.Name, r.filter.Arguments, r.filter.Blob())
	if err != nil {
		return filter.NewExecutionError("unable to spawn filter %s: %v", r.filter.Name, err)
	}

	if err := r.awaitInitLocked(proc); err != nil {
		proc.Kill()
		return err
	}

	r.proc = proc
	r.initialized = true
	return nil
}

// awaitInitLocked reads commands from proc until init-success. This may not
// be the first command the filter produces, since its init function may
// emit log messages before signaling readiness; any other command is a
// protocol violation and fails initialization.
func (r *FilterRunner) awaitInitLocked(proc filterProcess) error {
	conn := proc.Conn()
	for {
		tag, err := conn.GetTag()
		if err != nil {
			return filter.NewExecutionError("filter %s failed before init: %v", r.filter.Name, err)
		}

		switch tag {
		case tagInitSuccess:
			return nil

		case tagLog:
			levelItem, _, err := conn.GetItem()
			if err != nil {
				return filter.NewExecutionError("filter %s failed before init: %v", r.filter.Name, err)
			}
			msgItem, _, err := conn.GetItem()
			if err != nil {
				return filter.NewExecutionError("filter %s failed before init: %v", r.filter.Name, err)
			}
			level, err := strconv.Atoi(string(levelItem))
			if err != nil {
				return filter.NewExecutionError("filter %s sent malformed log level %q", r.filter.Name, levelItem)
			}
			r.emitFilterLog(level, string(msgItem))

		default:
			return filter.NewExecutionError("filter %s failed to initialize: %s", r.filter.Name, tag)
		}
	}
}

func (r *FilterRunner) discardLocked() {
	if r.proc != nil {
		r.proc.Kill()
	}
	r.proc = nil
	r.initialized = false
}

// runLoopLocked drives the command loop for a single object. It returns a
// non-nil error only for protocol violations (an unknown tag, mismatched
// session-variable key and value counts, or a non-numeric session-variable
// value, log level or score); any I/O
// failure while talking to the process is treated as a filter death and
// reported as a degraded result instead.
func (r *FilterRunner) runLoopLocked(obj object.Object) (*filter.Result, int64, error) {
	conn := r.proc.Conn()
	result := filter.NewResult()
	var outputBytes int64

	die := func(reason string, cause error) (*filter.Result, int64, error) {
		r.logger.Warnf("filter %s died (%s): %v", r.filter.Name, reason, cause)
		r.discardLocked()
		result.Score = 0
		return result, outputBytes, nil
	}

	for {
		tag, err := conn.GetTag()
		if err != nil {
			return die("tag read", err)
		}

		switch tag {
		case tagGetAttribute:
			keyItem, _, err := conn.GetItem()
			if err != nil {
				return die("get-attribute key", err)
			}
			key := string(keyItem)
			value, present := obj.Get(key)
			if !present {
				if err := conn.Send(nil); err != nil {
					return die("get-attribute reply", err)
				}
				continue
			}
			result.InputAttrs[key] = obj.Signature(key)
			if err := conn.Send(value); err != nil {
				return die("get-attribute reply", err)
			}

		case tagSetAttribute:
			keyItem, _, err := conn.GetItem()
			if err != nil {
				return die("set-attribute key", err)
			}
			valueItem, _, err := conn.GetItem()
			if err != nil {
				return die("set-attribute value", err)
			}
			key := string(keyItem)
			obj.Set(key, valueItem)
			outputBytes += int64(len(valueItem))
			result.OutputAttrs[key] = obj.Signature(key)

		case tagOmitAttribute:
			keyItem, _, err := conn.GetItem()
			if err != nil {
				return die("omit-attribute key", err)
			}
			if err := conn.Send(obj.Omit(string(keyItem))); err != nil {
				return die("omit-attribute reply", err)
			}

		case tagGetSessionVariables:
			keysRaw, err := conn.GetArray()
			if err != nil {
				return die("get-session-variables keys", err)
			}
			keys := rawToStrings(keysRaw)
			values := r.sessions.FilterGet(keys)
			reply := make([]string, len(keys))
			for i, k := range keys {
				reply[i] = strconv.FormatFloat(values[k], 'g', -1, 64)
			}
			if err := conn.Send(reply); err != nil {
				return die("get-session-variables reply", err)
			}

		case tagUpdateSessionVariables:
			keysRaw, err := conn.GetArray()
			if err != nil {
				return die("update-session-variables keys", err)
			}
			valsRaw, err := conn.GetArray()
			if err != nil {
				return die("update-session-variables values", err)
			}
			if len(keysRaw) != len(valsRaw) {
				r.discardLocked()
				return nil, outputBytes, filter.NewExecutionError("filter %s sent %d session-variable keys but %d values", r.filter.Name, len(keysRaw), len(valsRaw))
			}
			updates := make(map[string]float64, len(keysRaw))
			for i, k := range keysRaw {
				v, err := strconv.ParseFloat(string(valsRaw[i]), 64)
				if err != nil {
					r.discardLocked()
					return nil, outputBytes, filter.NewExecutionError("filter %s sent non-numeric session variable value %q", r.filter.Name, valsRaw[i])
				}
				updates[string(k)] = v
			}
			r.sessions.FilterUpdate(updates)

		case tagLog:
			levelItem, _, err := conn.GetItem()
			if err != nil {
				return die("log level", err)
			}
			msgItem, _, err := conn.GetItem()
			if err != nil {
				return die("log message", err)
			}
			level, err := strconv.Atoi(string(levelItem))
			if err != nil {
				r.discardLocked()
				return nil, outputBytes, filter.NewExecutionError("filter %s sent malformed log level %q", r.filter.Name, levelItem)
			}
			r.emitFilterLog(level, string(msgItem))

		case tagStdout:
			item, _, err := conn.GetItem()
			if err != nil {
				return die("stdout passthrough", err)
			}
			os.Stdout.Write(item)

		case tagResult:
			scoreItem, _, err := conn.GetItem()
			if err != nil {
				return die("result score", err)
			}
			score, err := strconv.ParseFloat(string(scoreItem), 64)
			if err != nil {
				r.discardLocked()
				return nil, outputBytes, filter.NewExecutionError("filter %s sent malformed score %q", r.filter.Name, scoreItem)
			}
			result.Score = score
			return result, outputBytes, nil

		default:
			r.discardLocked()
			return nil, outputBytes, filter.NewExecutionError("filter %s sent unknown tag %q", r.filter.Name, tag)
		}
	}
}

func throughputOK(bytes int64, elapsed time.Duration) bool {
	if elapsed <= 0 {
		return true
	}
	rate := float64(bytes) / elapsed.Seconds()
	return rate < throughputLimit
}

func rawToStrings(items [][]byte) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = string(item)
	}
	return out
}
