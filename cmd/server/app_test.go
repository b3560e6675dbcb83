package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/supportbot/internal/config"
	"github.com/eldtechnologies/supportbot/internal/models"
	"github.com/eldtechnologies/supportbot/internal/store"
	"github.com/eldtechnologies/supportbot/internal/tasks"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:              "0",
		Env:               "test",
		SQLitePath:        "memory",
		RedisRoot:         "cloudwalk",
		UploadFolder:      t.TempDir(),
		APITimeout:        time.Second,
		WorkerConcurrency: 1,
		SweepInterval:     time.Minute,
		ErrorWindow:       24 * time.Hour,
	}
}

func newTestApp(t *testing.T, withRedis bool) *App {
	t.Helper()
	a, err := newApp(context.Background(), testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	if withRedis {
		mr := miniredis.RunT(t)
		a.attachRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
		a.runner = tasks.NewRunner(tasks.RunnerDeps{
			Store:        a.store,
			Orchestrator: a.orch,
			Replier:      a.bridge,
			Logger:       zerolog.Nop(),
		})
	}
	return a
}

func TestNewAppWithoutRedis(t *testing.T) {
	a := newTestApp(t, false)

	assert.IsType(t, &store.MemoryStore{}, a.store)
	assert.Nil(t, a.orch)
	assert.Nil(t, a.runner)
	assert.Error(t, a.requireQueue())
	assert.NotNil(t, a.bridge)
}

func TestSeedFromYAML(t *testing.T) {
	a := newTestApp(t, false)
	ctx := context.Background()

	n, err := a.seed(ctx, filepath.Join("..", "..", "database.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	again, err := a.seed(ctx, filepath.Join("..", "..", "database.yaml"))
	require.NoError(t, err)
	assert.Zero(t, again, "seeding twice inserts nothing")

	sales, err := a.store.FindSales(ctx, 5001)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, int64(37648), sales[0].ChipID)
}

func TestSeedRejectsBadYAML(t *testing.T) {
	a := newTestApp(t, false)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sales: [unterminated"), 0o644))

	_, err := a.seed(context.Background(), path)
	assert.Error(t, err)

	_, err = a.seed(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStartupSweepLaunchesOnce(t *testing.T) {
	a := newTestApp(t, true)
	ctx := context.Background()

	a.launchStartupSweep(ctx)
	a.launchStartupSweep(ctx)

	running, err := a.orch.GetTasksInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, tasks.TaskSweep, running[0].Name)

	job, err := a.queue.Fetch(ctx, running[0].ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, true, job.Meta["startup"])
}

func TestBackgroundRunsSweep(t *testing.T) {
	a := newTestApp(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := a.store.CreateConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.NoError(t, a.store.AppendMessage(ctx, &models.Message{ConversationID: "conv-1", Body: "hello", Sender: models.SenderClient}))

	task, err := a.orch.LaunchTask(ctx, tasks.TaskSweep, "Handle unanswered messages", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		a.startBackground(ctx, &wg)
		wg.Wait()
	}()

	require.Eventually(t, func() bool {
		last, err := a.store.LastMessage(context.Background(), "conv-1")
		return err == nil && last != nil && last.Sender == models.SenderSystem
	}, 10*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		got, err := a.store.GetTask(context.Background(), task.ID)
		return err == nil && got != nil && got.Complete
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	<-done
}

func TestPrintTasks(t *testing.T) {
	repeat := 3
	var out bytes.Buffer
	printTasks(&out,
		[]*models.Task{{ID: "job-1", Name: tasks.TaskCountWords, Description: "Count", Progress: 40}},
		[]*models.ScheduledTask{{Name: tasks.TaskSweep, Interval: 60, Repeat: &repeat}, {Name: tasks.TaskErrorEmail, Interval: 3600}},
	)

	s := out.String()
	assert.Contains(t, s, "Tasks in progress (1)")
	assert.Contains(t, s, "job-1")
	assert.Contains(t, s, "40%")
	assert.Contains(t, s, "Scheduled tasks (2)")
	assert.Contains(t, s, "forever")
}

func TestPrintFailedPurges(t *testing.T) {
	a := newTestApp(t, true)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, printFailed(ctx, &out, a.queue, true))
	assert.Contains(t, out.String(), "Failed jobs (0)")
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "boom", firstLine("boom\ntrace"))
	assert.Equal(t, "boom", firstLine("boom"))
}
