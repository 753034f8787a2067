package promotion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libranexus/lending/internal/domain"
	"github.com/libranexus/lending/internal/jobs"
	"github.com/libranexus/lending/internal/store/memory"
)

func TestDeadLettersRecordAndReplay(t *testing.T) {
	st := memory.New()
	dead := NewDeadLetters(st, clock)
	dispatcher := &recordingDispatcher{}
	dead.SetDispatcher(dispatcher)
	ctx := context.Background()
	bookID := uuid.New()

	dead.RecordJob(ctx, jobs.Job{
		ID:       "job-1",
		Kind:     TaskPromoteBook,
		Payload:  `{"task":"waitlist.promote_book","book_id":"` + bookID.String() + `"}`,
		Attempts: 3,
	}, errors.New("lock timeout"))

	tasks, err := dead.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Equal(t, "job-1", task.TaskID)
	assert.Equal(t, TaskPromoteBook, task.TaskName)
	assert.Equal(t, "lock timeout", task.Error)
	assert.Equal(t, 3, task.RetryCount)
	assert.Equal(t, fixedNow, task.FailedAt)

	replayed, err := dead.Replay(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, replayed.RetryCount)
	require.NotNil(t, replayed.LastRetryAt)
	require.Len(t, dispatcher.cmds, 1)
	assert.Equal(t, PromoteBookCommand(bookID), dispatcher.cmds[0])

	stored, err := st.GetFailedTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.RetryCount)
}

func TestDeadLettersReplayUnknownTask(t *testing.T) {
	dead := NewDeadLetters(memory.New(), clock)
	dead.SetDispatcher(&recordingDispatcher{})

	_, err := dead.Replay(context.Background(), uuid.New())
	assert.True(t, domain.IsCode(err, domain.CodeTaskNotFound))
}

func TestDeadLettersReplayDispatchFailureKeepsCount(t *testing.T) {
	st := memory.New()
	dead := NewDeadLetters(st, clock)
	dead.SetDispatcher(&recordingDispatcher{err: errors.New("redis down")})
	ctx := context.Background()
	dead.RecordCommand(ctx, "t1", PromoteEntryCommand(uuid.New()), 1, errors.New("boom"))

	tasks, err := dead.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = dead.Replay(ctx, tasks[0].ID)
	assert.Error(t, err)
	stored, err := st.GetFailedTask(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Nil(t, stored.LastRetryAt)
}

func TestDeadLettersReplayRejectsUndecodableArgs(t *testing.T) {
	st := memory.New()
	dead := NewDeadLetters(st, clock)
	dead.SetDispatcher(&recordingDispatcher{})
	ctx := context.Background()
	dead.RecordJob(ctx, jobs.Job{ID: "j", Kind: "waitlist.unknown", Payload: "???"}, errors.New("bad"))

	tasks, err := dead.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	_, err = dead.Replay(ctx, tasks[0].ID)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestDeadLettersPurge(t *testing.T) {
	st := memory.New()
	now := fixedNow
	dead := NewDeadLetters(st, func() time.Time { return now })
	ctx := context.Background()

	dead.RecordCommand(ctx, "old", PromoteBookCommand(uuid.New()), 3, errors.New("x"))
	now = now.Add(10 * 24 * time.Hour)
	dead.RecordCommand(ctx, "new", PromoteBookCommand(uuid.New()), 3, errors.New("y"))

	n, err := dead.Purge(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	tasks, err := dead.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "new", tasks[0].TaskID)
}
