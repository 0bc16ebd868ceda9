// Package pipeline owns the durable pipeline state shared by cooperating
// worker processes: persistence, advisory locking, dependency-aware
// scheduling queries, and status propagation.
package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/flowline-dev/flowline/internal/jsonfile"
	"github.com/flowline-dev/flowline/internal/lock"
	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/wave"
)

const (
	// StateFileName is the shared state document inside the pipeline dir.
	StateFileName = "pipeline.json"
	// LockSuffix is appended to the state path to form the lock file path.
	LockSuffix = ".lock"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// NotFoundError reports an operation against an unknown story id.
type NotFoundError struct {
	StoryID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("story not found: %s", e.StoryID)
}

// Manager owns a PipelineState document and its companion lock file.
// Load/Save do not acquire the lock themselves; the caller follows the
// acquire → load → mutate → save → release discipline.
type Manager struct {
	statePath string
	project   string
	fileLock  *lock.FileMutex
	lockMap   *lock.MutexMap
	logger    *log.Logger
	logLevel  LogLevel

	state *model.PipelineState
}

type ManagerOption func(*managerConfig)

type managerConfig struct {
	logger   *log.Logger
	logLevel LogLevel
	lockOpts []lock.Option
	lockMap  *lock.MutexMap
}

func WithLogger(logger *log.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = logger }
}

func WithLogLevel(level LogLevel) ManagerOption {
	return func(c *managerConfig) { c.logLevel = level }
}

// WithLockOptions overrides the file mutex stale/poll/timeout policy.
func WithLockOptions(opts ...lock.Option) ManagerOption {
	return func(c *managerConfig) { c.lockOpts = opts }
}

// WithMutexMap shares an in-process mutex map between managers that point
// at the same state path from different goroutines.
func WithMutexMap(m *lock.MutexMap) ManagerOption {
	return func(c *managerConfig) { c.lockMap = m }
}

// NewManager creates a manager for <dir>/pipeline.json. The state is not
// touched until Load is called.
func NewManager(dir, project string, opts ...ManagerOption) *Manager {
	cfg := managerConfig{
		logger:   log.New(os.Stderr, "", 0),
		logLevel: LogLevelInfo,
		lockMap:  lock.NewMutexMap(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	statePath := filepath.Join(dir, StateFileName)
	return &Manager{
		statePath: statePath,
		project:   project,
		fileLock:  lock.NewFileMutex(statePath+LockSuffix, cfg.lockOpts...),
		lockMap:   cfg.lockMap,
		logger:    cfg.logger,
		logLevel:  cfg.logLevel,
	}
}

func (m *Manager) StatePath() string { return m.statePath }
func (m *Manager) LockPath() string  { return m.statePath + LockSuffix }

// State returns a detached snapshot of the current state for read-only
// consumers (status rendering, watchers). The snapshot does not observe
// later updates; mutations go through the manager's operations.
func (m *Manager) State() *model.PipelineState {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)
	if m.state == nil {
		return nil
	}
	return m.state.Clone()
}

// Load reads the state file. A missing file yields a fresh empty state,
// persisted immediately. An unparsable file is reset to a fresh state as
// well: availability is chosen over strict durability for corruption.
func (m *Manager) Load() error {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)

	if _, err := os.Stat(m.statePath); errors.Is(err, fs.ErrNotExist) {
		m.state = model.NewPipelineState(m.project)
		m.log(LogLevelInfo, "state_created path=%s project=%s", m.statePath, m.project)
		return m.save()
	}

	var state model.PipelineState
	if err := jsonfile.Read(m.statePath, &state); err != nil {
		m.log(LogLevelWarn, "state_unparsable_reset path=%s error=%v", m.statePath, err)
		m.state = model.NewPipelineState(m.project)
		return m.save()
	}
	if state.Stories == nil {
		state.Stories = make(map[string]*model.PipelineStory)
	}
	m.state = &state
	return nil
}

// Save persists the full state atomically, bumping UpdatedAt.
func (m *Manager) Save() error {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)
	return m.save()
}

func (m *Manager) save() error {
	if m.state == nil {
		return fmt.Errorf("save before load: no state")
	}
	m.state.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := jsonfile.Write(m.statePath, m.state); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// AcquireLock blocks until the shared file lock is held or its timeout
// elapses (*lock.LockError).
func (m *Manager) AcquireLock(holderID string) error {
	if err := m.fileLock.Acquire(holderID); err != nil {
		return err
	}
	if m.state != nil {
		holder := holderID
		m.state.LockHolder = &holder
	}
	m.log(LogLevelDebug, "lock_acquired holder=%s", holderID)
	return nil
}

// ReleaseLock releases the shared file lock if held by holderID.
func (m *Manager) ReleaseLock(holderID string) error {
	if err := m.fileLock.Release(holderID); err != nil {
		return err
	}
	if m.state != nil && m.state.LockHolder != nil && *m.state.LockHolder == holderID {
		m.state.LockHolder = nil
	}
	m.log(LogLevelDebug, "lock_released holder=%s", holderID)
	return nil
}

// LockHolder reports who currently holds the companion lock file.
func (m *Manager) LockHolder() (string, bool, error) {
	return m.fileLock.Holder()
}

// AddStory inserts or replaces a story in the in-memory state. The caller
// persists with Save.
func (m *Manager) AddStory(story *model.PipelineStory) {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)

	if story.Status == "" {
		story.Status = model.StatusPending
	}
	if story.StepsCompleted == nil {
		story.StepsCompleted = []model.StepRecord{}
	}
	m.state.Stories[story.ID] = story
	m.log(LogLevelDebug, "story_added id=%s status=%s deps=%d",
		story.ID, story.Status, len(story.Dependencies))
}

// Story returns a detached copy of the story with the given id, if
// present. Readers never share memory with concurrent mutators.
func (m *Manager) Story(id string) (*model.PipelineStory, bool) {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)
	s, ok := m.state.Stories[id]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

// ReadyStories selects pending/ready stories whose dependencies are all
// done, using the wave analyzer to honor the dependency layering. Each
// returned story is marked ready and the state persisted; the returned
// values are detached copies. A cyclic graph
// yields an empty result: a polling scheduler simply finds no work, and
// DetectCycles is the surface that reports the condition explicitly.
func (m *Manager) ReadyStories() ([]*model.PipelineStory, error) {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)

	eligible := make(map[string]*model.PipelineStory)
	var tasks []model.Task
	for _, id := range m.sortedStoryIDs() {
		s := m.state.Stories[id]
		if s.Status != model.StatusPending && s.Status != model.StatusReady {
			continue
		}
		eligible[s.ID] = s
		tasks = append(tasks, model.NewTask(s.ID, s.Name, s.Dependencies, 0))
	}
	if len(tasks) == 0 {
		return nil, nil
	}

	analysis, err := wave.Analyze(tasks)
	if err != nil {
		m.log(LogLevelWarn, "ready_stories_cycle error=%v", err)
		return nil, nil
	}

	for _, w := range analysis.Waves {
		var ready []*model.PipelineStory
		for _, task := range w.Tasks {
			story := eligible[task.ID]
			if m.dependenciesDone(story) {
				ready = append(ready, story)
			}
		}
		if len(ready) == 0 {
			continue
		}
		changed := false
		for _, story := range ready {
			if story.Status != model.StatusReady {
				story.Status = model.StatusReady
				changed = true
			}
		}
		if changed {
			if err := m.save(); err != nil {
				return nil, err
			}
		}
		m.log(LogLevelInfo, "ready_stories wave=%d count=%d", w.Number, len(ready))
		out := make([]*model.PipelineStory, len(ready))
		for i, story := range ready {
			out[i] = story.Clone()
		}
		return out, nil
	}
	return nil, nil
}

// UpdateStoryStatus sets a story's status and propagates the change:
// done promotes pending/blocked dependents whose dependencies are now all
// done to ready; failed demotes pending/ready direct dependents to blocked.
func (m *Manager) UpdateStoryStatus(id string, status model.StoryStatus) error {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)

	story, ok := m.state.Stories[id]
	if !ok {
		return &NotFoundError{StoryID: id}
	}

	story.Status = status
	m.log(LogLevelInfo, "story_status id=%s status=%s", id, status)

	switch status {
	case model.StatusDone:
		for _, depID := range m.sortedStoryIDs() {
			dep := m.state.Stories[depID]
			if dep.Status != model.StatusPending && dep.Status != model.StatusBlocked {
				continue
			}
			if !dependsOn(dep, id) || !m.dependenciesDone(dep) {
				continue
			}
			dep.Status = model.StatusReady
			m.log(LogLevelInfo, "story_unblocked id=%s by=%s", dep.ID, id)
		}
	case model.StatusFailed:
		for _, depID := range m.sortedStoryIDs() {
			dep := m.state.Stories[depID]
			if dep.Status != model.StatusPending && dep.Status != model.StatusReady {
				continue
			}
			if !dependsOn(dep, id) {
				continue
			}
			dep.Status = model.StatusBlocked
			m.log(LogLevelInfo, "story_blocked id=%s by=%s", dep.ID, id)
		}
	}

	return m.save()
}

// CheckpointStep durably records one step outcome for a story before the
// executor proceeds: the record is appended (history only grows) and
// CurrentStep points at the in-flight or failed step, nil once clear.
func (m *Manager) CheckpointStep(storyID string, rec model.StepRecord, currentStep *string) error {
	m.lockMap.Lock(m.statePath)
	defer m.lockMap.Unlock(m.statePath)

	story, ok := m.state.Stories[storyID]
	if !ok {
		return &NotFoundError{StoryID: storyID}
	}
	story.StepsCompleted = append(story.StepsCompleted, rec)
	story.CurrentStep = currentStep
	return m.save()
}

// DetectCycles reports whether the full current story set contains a
// dependency cycle.
func (m *Manager) DetectCycles() bool {
	var tasks []model.Task
	for _, id := range m.sortedStoryIDs() {
		s := m.state.Stories[id]
		tasks = append(tasks, model.NewTask(s.ID, s.Name, s.Dependencies, 0))
	}
	_, err := wave.Analyze(tasks)
	var cycleErr *wave.CycleError
	return errors.As(err, &cycleErr)
}

// AnalyzeDependencies runs a full wave analysis over all non-done stories,
// for planning and visualization rather than execution gating. Cycles
// propagate as *wave.CycleError.
func (m *Manager) AnalyzeDependencies() (*model.WaveAnalysis, error) {
	var tasks []model.Task
	for _, id := range m.sortedStoryIDs() {
		s := m.state.Stories[id]
		if s.Status == model.StatusDone {
			continue
		}
		tasks = append(tasks, model.NewTask(s.ID, s.Name, s.Dependencies, 0))
	}
	return wave.Analyze(tasks)
}

func (m *Manager) dependenciesDone(story *model.PipelineStory) bool {
	for _, depID := range story.Dependencies {
		dep, ok := m.state.Stories[depID]
		if !ok {
			continue // unknown dependency: not gating, same as the analyzer
		}
		if dep.Status != model.StatusDone {
			return false
		}
	}
	return true
}

func (m *Manager) sortedStoryIDs() []string {
	ids := make([]string, 0, len(m.state.Stories))
	for id := range m.state.Stories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func dependsOn(story *model.PipelineStory, id string) bool {
	for _, dep := range story.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

func (m *Manager) log(level LogLevel, format string, args ...any) {
	if level < m.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	m.logger.Printf("%s %s pipeline: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
