// Package agent implements the pipeline runtime: each agent tails its
// configured log files, extracts records through named regular expressions,
// applies its transform, schedules enrichment queries, dispatches results to
// shared producers, and evicts expired records.  One agent owns one worker
// goroutine; working records are touched only by that goroutine and by the
// database completion callback, which the record's own lock makes safe.
package agent

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/domain/pipeline"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/database"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/pkg/fileid"
	"github.com/turtacn/LogPipe-Agents/pkg/types/common"
)

// QueryService is the slice of the database executor the agent uses.
type QueryService interface {
	EnqueueQuery(q common.Query) (*database.QueryFuture, error)
}

// MessageService is the slice of the producer executor the agent uses.
type MessageService interface {
	Enqueue(msg common.Message) error
}

// DatabaseResolver hands out the shared database for a (type, name) key.
type DatabaseResolver func(typ, name string) (QueryService, error)

// ProducerResolver hands out the shared producer for a (type, name) key after
// checking its topic allowlist.
type ProducerResolver func(typ, name, topic string) (MessageService, error)

// Dependencies carries everything an agent needs from the composition root.
type Dependencies struct {
	Databases DatabaseResolver
	Producers ProducerResolver
	Logger    logging.Logger
	Metrics   *prometheus.PipelineMetrics
}

// connBinding precomputes the per-file dispatch table: the producer
// connection, the data connection, and its compiled pattern.
type connBinding struct {
	producer *config.ProducerConnectionConfig
	data     *config.DataConnectionConfig
	pattern  *regexp.Regexp
	groups   []string
}

// Agent is one configured pipeline instance.
type Agent struct {
	cfg       config.AgentConfig
	transform Transform
	deps      Dependencies
	logger    logging.Logger

	pathFiles []*pathFile
	bindings  map[string][]connBinding

	// records is the working set.  It grows by one record per regex match and
	// shrinks only through TTL eviction.  Only the worker goroutine touches
	// the slice itself.
	records []*pipeline.WorkingRecord

	// lastResults keys the most recent direct-flow payload by connection name,
	// implementing per-name duplicate suppression across cycles.
	lastResults map[string]map[string]any

	nextQueryAt time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// New builds an agent from an already validated configuration.  The working
// set is seeded with one READY record per producer×data connection so that
// query-only flows (no regex source) are driven by the periodic query tick
// alone.
func New(cfg config.AgentConfig, transform Transform, deps Dependencies) (*Agent, error) {
	a := &Agent{
		cfg:         cfg,
		transform:   transform,
		deps:        deps,
		logger:      deps.Logger.Named("agent").Named(cfg.Type + "-" + cfg.Name),
		bindings:    make(map[string][]connBinding),
		lastResults: make(map[string]map[string]any),
		nextQueryAt: time.Now(),
		stopCh:      make(chan struct{}),
	}

	for i := range cfg.PathFiles {
		pf := &cfg.PathFiles[i]
		a.pathFiles = append(a.pathFiles, &pathFile{
			name:   pf.Name,
			path:   pf.Path,
			cursor: pf.Cursor,
		})
	}

	for i := range cfg.ProducerConnections {
		pc := &cfg.ProducerConnections[i]
		for j := range pc.DataConnections {
			dc := &pc.DataConnections[j]

			seed := pipeline.NewWorkingRecord(pc, dc)
			a.records = append(a.records, seed)

			if dc.SourceRef == nil {
				continue
			}
			pattern, err := regexp.Compile(dc.SourceRef.Pattern)
			if err != nil {
				return nil, fmt.Errorf("agent %s: data connection %s: %w", cfg.Name, dc.Name, err)
			}
			a.bindings[dc.SourceRef.PathFileName] = append(a.bindings[dc.SourceRef.PathFileName], connBinding{
				producer: pc,
				data:     dc,
				pattern:  pattern,
				groups:   pattern.SubexpNames(),
			})
		}
	}

	a.logger.Info("agent initialised",
		logging.Int("path_files", len(a.pathFiles)),
		logging.Int("seed_records", len(a.records)),
	)
	return a, nil
}

// Start launches the worker goroutine.
func (a *Agent) Start() {
	a.done.Add(1)
	go a.worker()
}

// Stop signals the worker and waits for it to exit at the next iteration
// boundary.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.done.Wait()
	a.logger.Info("agent stopped")
}

// worker runs one pass per fetch interval until stopped.
func (a *Agent) worker() {
	defer a.done.Done()
	a.logger.Info("agent started",
		logging.Duration("fetch_interval", a.cfg.FetchLogsInterval),
		logging.Duration("query_interval", a.cfg.ExecuteQueryInterval),
	)

	for {
		a.runOnce()
		select {
		case <-a.stopCh:
			return
		case <-time.After(a.cfg.FetchLogsInterval):
		}
	}
}

// runOnce performs one full iteration.  The loop never throws outward: any
// panic inside a pass is logged and the worker continues at the next tick.
func (a *Agent) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("iteration panicked", logging.Any("panic", r))
		}
	}()

	for _, pf := range a.pathFiles {
		lines := a.collectLines(pf)
		a.flow(pf, lines)
	}
}

// collectLines reads the next batch from one file, handling first sight and
// rotation.
func (a *Agent) collectLines(pf *pathFile) []string {
	currentID, err := fileid.Stat(pf.path)
	if err != nil {
		a.logger.Warn("cannot stat monitored file", logging.String("path", pf.path), logging.Err(err))
		return nil
	}

	var lines []string
	switch {
	case pf.id.IsZero():
		pf.id = currentID
		lines, err = pf.readBatch(a.cfg.BufferRows)

	case !pf.id.Equal(currentID):
		a.logger.Info("rotation detected", logging.String("path", pf.path))
		a.deps.Metrics.RecordRotation(a.cfg.Name, pf.name)
		lines = pf.readRemainingOld(a.logger)
		pf.cursor = 0
		pf.id = currentID

	default:
		lines, err = pf.readBatch(a.cfg.BufferRows)
	}
	if err != nil {
		a.logger.Warn("batch read failed", logging.String("path", pf.path), logging.Err(err))
	}

	a.deps.Metrics.RecordLines(a.cfg.Name, len(lines))
	return lines
}

// flow runs the per-batch pipeline: match, transform, enrich on its own
// cadence, dispatch, evict.
func (a *Agent) flow(pf *pathFile, lines []string) {
	fresh := a.matchLines(pf, lines)

	for _, rec := range fresh {
		tmp, err := a.transform(rec)
		if err != nil {
			a.logger.Warn("transform failed, discarding record",
				logging.String("connection", rec.Name),
				logging.Err(err),
			)
			rec.ForceExpire()
			continue
		}

		if rec.HasQuery() {
			rec.SetQuerySource(tmp)
			continue
		}
		if !common.ValuesEqual(tmp, a.lastResults[rec.Name]) {
			a.lastResults[rec.Name] = tmp
			rec.SetResult(tmp)
		} else {
			rec.SetReady()
		}
	}
	a.records = append(a.records, fresh...)

	if !time.Now().Before(a.nextQueryAt) {
		a.executeQueries()
		a.nextQueryAt = time.Now().Add(a.cfg.ExecuteQueryInterval)
	}

	a.dispatch()
	a.evict()
	a.deps.Metrics.SetActiveRecords(a.cfg.Name, len(a.records))
}

// matchLines runs every registered pattern over every line and creates one
// record per match, seeded with the named capture groups.
func (a *Agent) matchLines(pf *pathFile, lines []string) []*pipeline.WorkingRecord {
	bindings := a.bindings[pf.name]
	if len(bindings) == 0 || len(lines) == 0 {
		return nil
	}

	var fresh []*pipeline.WorkingRecord
	for _, line := range lines {
		for _, b := range bindings {
			submatch := b.pattern.FindStringSubmatch(line)
			if submatch == nil {
				continue
			}
			groups := make(map[string]string)
			for i, name := range b.groups {
				if name != "" && i < len(submatch) {
					groups[name] = submatch[i]
				}
			}
			rec := pipeline.NewWorkingRecord(b.producer, b.data)
			rec.SetMatch(groups)
			fresh = append(fresh, rec)
			a.deps.Metrics.RecordMatch(a.cfg.Name, b.data.Name)
		}
	}
	if len(fresh) > 0 {
		a.logger.Debug("lines matched",
			logging.String("file", pf.name),
			logging.Int("records", len(fresh)),
		)
	}
	return fresh
}

// executeQueries submits one enrichment query per READY record with a
// database binding.  The record moves to QUERY_RUNNING before submission;
// TryBeginQuery is what guarantees at most one in-flight query per record.
// A failed submission falls back to READY for the next tick.
func (a *Agent) executeQueries() {
	for _, rec := range a.records {
		if rec.DatabaseName == "" || rec.Status() != pipeline.StatusReady {
			continue
		}
		// A seed of a sourced connection has no bind parameters yet; it only
		// becomes queryable once a match populates its query source.
		if rec.HasSource && rec.QuerySource() == nil {
			continue
		}

		db, err := a.deps.Databases(rec.DatabaseType, rec.DatabaseName)
		if err != nil {
			a.logger.Error("cannot resolve database",
				logging.String("database", rec.DatabaseType+"/"+rec.DatabaseName),
				logging.Err(err),
			)
			continue
		}

		if !rec.TryBeginQuery() {
			continue
		}
		future, err := db.EnqueueQuery(common.Query{Template: rec.Query, Params: rec.QuerySource()})
		if err != nil {
			rec.SetReady()
			a.logger.Warn("query submission failed",
				logging.String("connection", rec.Name),
				logging.Err(err),
			)
			continue
		}

		rec := rec
		future.OnComplete(func(rows []common.Row, err error) {
			rec.CompleteQuery(rows, err)
		})
	}
}

// dispatch enqueues one message per UPDATED record with its shared producer.
// A successful handoff refreshes the TTL check and returns the record to
// READY; a failed one expires the record immediately.
func (a *Agent) dispatch() {
	for _, rec := range a.records {
		if rec.Status() != pipeline.StatusUpdated {
			continue
		}

		svc, err := a.deps.Producers(rec.ProducerType, rec.ProducerName, rec.Topic)
		if err != nil {
			a.logger.Error("cannot resolve producer",
				logging.String("producer", rec.ProducerType+"/"+rec.ProducerName),
				logging.Err(err),
			)
			rec.ForceExpire()
			continue
		}

		if err := svc.Enqueue(rec.BuildMessage()); err != nil {
			a.logger.Error("message handoff failed",
				logging.String("connection", rec.Name),
				logging.Err(err),
			)
			rec.ForceExpire()
			continue
		}

		a.logger.Debug("message enqueued",
			logging.String("connection", rec.Name),
			logging.String("topic", rec.Topic),
		)
		rec.CheckExpired()
		if !rec.Expired() {
			rec.SetReady()
		}
	}
}

// evict removes every expired record from the working set.
func (a *Agent) evict() {
	kept := a.records[:0]
	evicted := 0
	for _, rec := range a.records {
		rec.CheckExpired()
		if rec.Expired() {
			evicted++
			a.logger.Debug("evicting expired record", logging.String("connection", rec.Name))
			continue
		}
		kept = append(kept, rec)
	}
	a.records = kept
	a.deps.Metrics.RecordEvictions(a.cfg.Name, evicted)
}
