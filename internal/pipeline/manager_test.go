package pipeline

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowline-dev/flowline/internal/lock"
	"github.com/flowline-dev/flowline/internal/model"
	"github.com/flowline-dev/flowline/internal/wave"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(t.TempDir(), "test-project",
		WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, m.Load())
	return m
}

func addStory(t *testing.T, m *Manager, id string, status model.StoryStatus, deps ...string) {
	t.Helper()
	m.AddStory(&model.PipelineStory{
		ID:           id,
		Name:         id,
		Path:         "stories/" + id + ".md",
		Status:       status,
		Dependencies: deps,
	})
	require.NoError(t, m.Save())
}

func TestLoad_CreatesFreshState(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, m.Load())

	assert.Equal(t, "demo", m.State().Project)
	assert.Empty(t, m.State().Stories)

	_, err := os.Stat(filepath.Join(dir, StateFileName))
	assert.NoError(t, err, "fresh state should be persisted")
}

func TestLoad_ResetsUnparsableState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, StateFileName)
	require.NoError(t, os.WriteFile(path, []byte("{corrupt"), 0600))

	m := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, m.Load())

	assert.Empty(t, m.State().Stories, "corrupt state is replaced by a fresh one")
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, m.Load())

	completed := "2026-02-01T12:05:00Z"
	m.AddStory(&model.PipelineStory{
		ID:           "s1",
		Name:         "first story",
		Path:         "stories/s1.md",
		Status:       model.StatusInProgress,
		Dependencies: []string{"s0"},
		Blocks:       []string{"s2"},
		StepsCompleted: []model.StepRecord{{
			StepID:      "step-0",
			Status:      model.StepStatusCompleted,
			StartedAt:   "2026-02-01T12:00:00Z",
			CompletedAt: &completed,
			AgentID:     "builder",
			ModelUsed:   "sonnet",
			TokensUsed:  4321,
		}},
	})
	require.NoError(t, m.Save())

	reloaded := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, reloaded.Load())

	story, ok := reloaded.Story("s1")
	require.True(t, ok)
	assert.Equal(t, model.StatusInProgress, story.Status)
	assert.Equal(t, []string{"s0"}, story.Dependencies)
	assert.Equal(t, []string{"s2"}, story.Blocks)
	require.Len(t, story.StepsCompleted, 1)
	assert.Equal(t, "step-0", story.StepsCompleted[0].StepID)
	assert.Equal(t, 4321, story.StepsCompleted[0].TokensUsed)
	require.NotNil(t, story.StepsCompleted[0].CompletedAt)
	assert.Equal(t, completed, *story.StepsCompleted[0].CompletedAt)
}

func TestReadyStories_InitialAndAfterCompletion(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "s1", model.StatusPending)
	addStory(t, m, "s2", model.StatusPending, "s1")

	ready, err := m.ReadyStories()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "s1", ready[0].ID)
	assert.Equal(t, model.StatusReady, ready[0].Status)

	require.NoError(t, m.UpdateStoryStatus("s1", model.StatusDone))

	ready, err = m.ReadyStories()
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, "s2", ready[0].ID)
	assert.Equal(t, model.StatusReady, ready[0].Status)
}

func TestReadyStories_SameWaveIndependentStories(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "root", model.StatusDone)
	addStory(t, m, "a", model.StatusPending, "root")
	addStory(t, m, "b", model.StatusPending, "root")
	addStory(t, m, "c", model.StatusPending, "a", "b")

	ready, err := m.ReadyStories()
	require.NoError(t, err)
	require.Len(t, ready, 2)
	assert.Equal(t, "a", ready[0].ID)
	assert.Equal(t, "b", ready[1].ID)
}

func TestReadyStories_IncompleteDependencyGates(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "s1", model.StatusInProgress)
	addStory(t, m, "s2", model.StatusPending, "s1")

	// s1 is not eligible (in_progress) so s2 forms wave 1, but its
	// dependency is not done yet.
	ready, err := m.ReadyStories()
	require.NoError(t, err)
	assert.Empty(t, ready)
	story, _ := m.Story("s2")
	assert.Equal(t, model.StatusPending, story.Status)
}

func TestReadyStories_CycleYieldsEmpty(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "a", model.StatusPending, "b")
	addStory(t, m, "b", model.StatusPending, "a")

	ready, err := m.ReadyStories()
	require.NoError(t, err, "scheduler query swallows cycles")
	assert.Empty(t, ready)
	assert.True(t, m.DetectCycles(), "DetectCycles surfaces what ReadyStories swallows")
}

func TestUpdateStoryStatus_NotFound(t *testing.T) {
	m := newTestManager(t)

	err := m.UpdateStoryStatus("ghost", model.StatusDone)
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "ghost", nf.StoryID)
}

func TestUpdateStoryStatus_DonePromotesOnlyWhenAllDepsDone(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "x", model.StatusInProgress)
	addStory(t, m, "z", model.StatusInProgress)
	addStory(t, m, "y", model.StatusPending, "x", "z")

	require.NoError(t, m.UpdateStoryStatus("x", model.StatusDone))
	story, _ := m.Story("y")
	assert.Equal(t, model.StatusPending, story.Status, "one dependency still incomplete")

	require.NoError(t, m.UpdateStoryStatus("z", model.StatusDone))
	story, _ = m.Story("y")
	assert.Equal(t, model.StatusReady, story.Status, "all dependencies done")
}

func TestUpdateStoryStatus_DonePromotesBlocked(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "x", model.StatusInProgress)
	addStory(t, m, "y", model.StatusBlocked, "x")

	require.NoError(t, m.UpdateStoryStatus("x", model.StatusDone))
	story, _ := m.Story("y")
	assert.Equal(t, model.StatusReady, story.Status)
}

func TestUpdateStoryStatus_FailedBlocksDependents(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "x", model.StatusInProgress)
	addStory(t, m, "dep-pending", model.StatusPending, "x")
	addStory(t, m, "dep-ready", model.StatusReady, "x")
	addStory(t, m, "unrelated", model.StatusPending)

	require.NoError(t, m.UpdateStoryStatus("x", model.StatusFailed))

	story, _ := m.Story("dep-pending")
	assert.Equal(t, model.StatusBlocked, story.Status)
	story, _ = m.Story("dep-ready")
	assert.Equal(t, model.StatusBlocked, story.Status)
	story, _ = m.Story("unrelated")
	assert.Equal(t, model.StatusPending, story.Status, "non-dependents untouched")
}

func TestStory_ReturnsDetachedCopy(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "s1", model.StatusPending)

	story, ok := m.Story("s1")
	require.True(t, ok)
	story.Status = model.StatusDone
	story.Dependencies = append(story.Dependencies, "ghost")

	again, _ := m.Story("s1")
	assert.Equal(t, model.StatusPending, again.Status, "writes to the copy never reach the state")
	assert.Empty(t, again.Dependencies)
}

func TestManager_ConcurrentReadersAndWriters(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "x", model.StatusInProgress)
	addStory(t, m, "y", model.StatusPending, "x")

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if story, ok := m.Story("y"); ok {
				_ = story.Status
			}
			if state := m.State(); state != nil {
				_ = len(state.Stories)
			}
		}
	}()

	// Each failed transition demotes y, so the reader above races the
	// propagation writes unless the accessors synchronize.
	for i := 0; i < 25; i++ {
		require.NoError(t, m.UpdateStoryStatus("x", model.StatusFailed))
		require.NoError(t, m.UpdateStoryStatus("x", model.StatusInProgress))
	}
	close(stop)
	wg.Wait()

	story, _ := m.Story("y")
	assert.Equal(t, model.StatusBlocked, story.Status)
}

func TestManagerSharedMutexMap_SerializesWriters(t *testing.T) {
	dir := t.TempDir()
	shared := lock.NewMutexMap()
	quiet := WithLogger(log.New(io.Discard, "", 0))

	m1 := NewManager(dir, "demo", quiet, WithMutexMap(shared))
	require.NoError(t, m1.Load())
	m2 := NewManager(dir, "demo", quiet, WithMutexMap(shared))
	require.NoError(t, m2.Load())

	addStory(t, m1, "a", model.StatusInProgress)
	addStory(t, m2, "b", model.StatusInProgress)

	var wg sync.WaitGroup
	for _, m := range []*Manager{m1, m2} {
		m := m
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, m.Save())
			}
		}()
	}
	wg.Wait()

	reloaded := NewManager(dir, "demo", quiet)
	require.NoError(t, reloaded.Load())
	assert.Len(t, reloaded.State().Stories, 1, "last full-document save wins, file never torn")
}

func TestCheckpointStep_AppendsAndPersists(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, m.Load())
	m.AddStory(&model.PipelineStory{ID: "s1", Name: "s1", Status: model.StatusInProgress})
	require.NoError(t, m.Save())

	current := "step-1"
	err := m.CheckpointStep("s1", model.StepRecord{
		StepID:    "step-0",
		Status:    model.StepStatusCompleted,
		StartedAt: "2026-02-01T12:00:00Z",
		AgentID:   "builder",
	}, &current)
	require.NoError(t, err)

	reloaded := NewManager(dir, "demo", WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, reloaded.Load())
	story, _ := reloaded.Story("s1")
	require.Len(t, story.StepsCompleted, 1)
	require.NotNil(t, story.CurrentStep)
	assert.Equal(t, "step-1", *story.CurrentStep)

	err = m.CheckpointStep("ghost", model.StepRecord{StepID: "s"}, nil)
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestAnalyzeDependencies_SkipsDoneAndReportsCycles(t *testing.T) {
	m := newTestManager(t)
	addStory(t, m, "done-story", model.StatusDone)
	addStory(t, m, "a", model.StatusPending, "done-story")
	addStory(t, m, "b", model.StatusPending, "a")

	analysis, err := m.AnalyzeDependencies()
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.TotalTasks, "done stories excluded")
	require.Len(t, analysis.Waves, 2)

	addStory(t, m, "c1", model.StatusPending, "c2")
	addStory(t, m, "c2", model.StatusPending, "c1")

	_, err = m.AnalyzeDependencies()
	var cycleErr *wave.CycleError
	require.True(t, errors.As(err, &cycleErr))
}

func TestManagerLock_Contention(t *testing.T) {
	dir := t.TempDir()
	quiet := WithLogger(log.New(io.Discard, "", 0))

	m1 := NewManager(dir, "demo", quiet)
	require.NoError(t, m1.Load())
	require.NoError(t, m1.AcquireLock("worker-1"))

	m2 := NewManager(dir, "demo", quiet,
		WithLockOptions(lock.WithTimeout(150*time.Millisecond), lock.WithPollInterval(20*time.Millisecond)))
	require.NoError(t, m2.Load())

	err := m2.AcquireLock("worker-2")
	var lockErr *lock.LockError
	require.True(t, errors.As(err, &lockErr))

	require.NoError(t, m1.ReleaseLock("worker-1"))
	require.NoError(t, m2.AcquireLock("worker-2"))

	holder, ok, err := m2.LockHolder()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "worker-2", holder)
	require.NoError(t, m2.ReleaseLock("worker-2"))
}
