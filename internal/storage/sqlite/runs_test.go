package sqlite

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLifecycle(t *testing.T) {
	runs := openTestStore(t).Runs()

	run := &Run{
		Name:        "kidney",
		Description: "left kidney onto reference",
		Source:      "donor-kidney",
		Target:      "VHFLeftKidney",
		ParamsJSON:  json.RawMessage(`{"rigid_registration":{"voxel_size":0.02}}`),
	}
	require.NoError(t, runs.StartRun(run))
	assert.NotEmpty(t, run.RunID)
	assert.NotZero(t, run.CreatedAt)
	assert.Equal(t, StatusRunning, run.Status)

	for i, stage := range []string{"normalize_rigid", "global_registration"} {
		require.NoError(t, runs.RecordStage(&StageRecord{
			RunID:    run.RunID,
			Ordinal:  i,
			Stage:    stage,
			Duration: time.Duration(i+1) * time.Millisecond,
			Metrics:  map[string]float64{"fitness": 0.5 * float64(i)},
		}))
	}
	require.NoError(t, runs.FinishRun(run.RunID))
	require.NoError(t, runs.SetProjectionPath(run.RunID, "/out/kidney-"+run.RunID))

	got, err := runs.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "left kidney onto reference", got.Description)
	assert.JSONEq(t, string(run.ParamsJSON), string(got.ParamsJSON))
	assert.Equal(t, "/out/kidney-"+run.RunID, got.ProjectionPath)
	assert.Empty(t, got.Error)
	assert.GreaterOrEqual(t, got.FinishedAt, got.CreatedAt)

	stages, err := runs.Stages(run.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "normalize_rigid", stages[0].Stage)
	assert.Equal(t, 2*time.Millisecond, stages[1].Duration)
	assert.InDelta(t, 0.5, stages[1].Metrics["fitness"], 1e-12)
}

func TestFailRunRecordsCause(t *testing.T) {
	runs := openTestStore(t).Runs()

	run := &Run{Name: "bad", Source: "a", Target: "b"}
	require.NoError(t, runs.StartRun(run))
	require.NoError(t, runs.RecordStage(&StageRecord{
		RunID: run.RunID, Ordinal: 0, Stage: "nonrigid_registration", Error: "bcpd: exit status 1",
	}))
	require.NoError(t, runs.FailRun(run.RunID, errors.New("stage nonrigid_registration: bcpd: exit status 1")))

	got, err := runs.GetRun(run.RunID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.Error, "nonrigid_registration")
	assert.Nil(t, got.ParamsJSON)

	stages, err := runs.Stages(run.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "bcpd: exit status 1", stages[0].Error)
	assert.Nil(t, stages[0].Metrics)
}

func TestListRunsNewestFirst(t *testing.T) {
	runs := openTestStore(t).Runs()

	for i, name := range []string{"first", "second", "third"} {
		require.NoError(t, runs.StartRun(&Run{Name: name, Source: "s", Target: "t", CreatedAt: int64(i + 1)}))
	}

	all, err := runs.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].Name)
	assert.Equal(t, "first", all[2].Name)

	two, err := runs.ListRuns(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestUnknownRun(t *testing.T) {
	runs := openTestStore(t).Runs()

	_, err := runs.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, runs.FinishRun("nope"), ErrRunNotFound)
	assert.ErrorIs(t, runs.FailRun("nope", nil), ErrRunNotFound)
	assert.ErrorIs(t, runs.SetProjectionPath("nope", "/x"), ErrRunNotFound)

	// Stages of an unknown run violate the foreign key.
	err = runs.RecordStage(&StageRecord{RunID: "nope", Stage: "flip"})
	assert.Error(t, err)
}

func TestDeleteRunCascades(t *testing.T) {
	s := openTestStore(t)
	runs := s.Runs()

	run := &Run{Name: "gone", Source: "s", Target: "t"}
	require.NoError(t, runs.StartRun(run))
	require.NoError(t, runs.RecordStage(&StageRecord{RunID: run.RunID, Stage: "normalize_rigid"}))
	require.NoError(t, runs.DeleteRun(run.RunID))

	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM registration_run_stages`).Scan(&n))
	assert.Zero(t, n)
	assert.ErrorIs(t, runs.DeleteRun(run.RunID), ErrRunNotFound)
}
