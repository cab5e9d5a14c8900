package main

import (
	"bufio"
	"bytes"
	"context"
	"flag"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/catalogue-gen/config"
	"github.com/target/catalogue-gen/internal/domain/model"
)

func TestIsLikelyRemoteHost(t *testing.T) {
	for host, want := range map[string]bool{
		"":                false,
		"localhost":       false,
		"127.0.0.1":       false,
		"::1":             false,
		"db.local":        false,
		"10.0.0.5":        true,
		"db.example.com":  true,
		" LOCALHOST ":     false,
		"127.0.0.2":       false,
		"postgres.prod.x": true,
	} {
		assert.Equal(t, want, isLikelyRemoteHost(host), host)
	}
}

func TestResetStatements(t *testing.T) {
	assert.Len(t, resetStatements(""), 3)
	assert.Len(t, resetStatements("public"), 3)

	stmts := resetStatements(`app"user`)
	require.Len(t, stmts, 4)
	assert.Equal(t, `GRANT ALL ON SCHEMA public TO "app""user"`, stmts[3])
}

func TestParseFlags(t *testing.T) {
	_, err := parseListJobsFlags(nil, io.Discard)
	require.Error(t, err)

	opts, err := parseListJobsFlags([]string{"--owner", "owner-1", "--page", "3"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, listJobsOptions{OwnerID: "owner-1", Page: 3, Limit: 10}, opts)

	_, err = parseShowJobFlags([]string{"--job-id", "  "}, io.Discard)
	require.Error(t, err)

	_, err = parseTimeoutFlag("migrate", []string{"--timeout", "0s"}, io.Discard)
	require.Error(t, err)

	timeout, err := parseTimeoutFlag("migrate", nil, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, timeout)

	reset, err := parseDBResetFlags([]string{"--yes"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, reset.Yes)
	assert.Equal(t, defaultMigrationTimeout, reset.Timeout)

	_, err = parseClearCacheFlags([]string{"-h"}, io.Discard)
	require.ErrorIs(t, err, flag.ErrHelp)
}

func testApp(input string) (*app, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return &app{
		ctx:    context.Background(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		in:     bufio.NewReader(strings.NewReader(input)),
		out:    &out,
		errOut: &errOut,
	}, &out, &errOut
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		c       confirmation
		wantErr bool
	}{
		{name: "yes flag skips prompt", c: confirmation{yes: true}},
		{name: "accepts y", input: "y\n", c: confirmation{action: "reset", target: "db"}},
		{name: "accepts YES without newline", input: "YES", c: confirmation{}},
		{name: "rejects empty", input: "\n", c: confirmation{}, wantErr: true},
		{name: "rejects eof", input: "", c: confirmation{}, wantErr: true},
		{name: "remote ignores yes", input: "\n", c: confirmation{yes: true, remoteHost: "db.prod"}, wantErr: true},
		{name: "remote accepts host", input: "db.prod\n", c: confirmation{remoteHost: "db.prod"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := testApp(tt.input)
			err := a.confirm(tt.c)
			if tt.wantErr {
				require.ErrorIs(t, err, errAborted)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfirmPrintsTarget(t *testing.T) {
	a, out, _ := testApp("n\n")
	err := a.confirm(confirmation{action: "reset database schema", target: `database "cat"`, warning: "WARNING: careful"})
	require.ErrorIs(t, err, errAborted)
	assert.Contains(t, out.String(), "WARNING: careful")
	assert.Contains(t, out.String(), `About to reset database schema for database "cat".`)
}

func TestRunUsageErrors(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, errOut.String(), "Available commands:")

	errOut.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"nope"}, strings.NewReader(""), &out, &errOut))
	assert.Contains(t, errOut.String(), `unknown command "nope"`)
}

func TestHasRedisConfig(t *testing.T) {
	assert.False(t, hasRedisConfig(nil))
	assert.False(t, hasRedisConfig(&config.RedisConfig{URI: "localhost:6379"}))
	assert.True(t, hasRedisConfig(&config.RedisConfig{Enabled: true, URI: "localhost:6379"}))
	assert.False(t, hasRedisConfig(&config.RedisConfig{Enabled: true, UseCluster: true}))
}

func TestRenderQueueStats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderQueueStats(&buf, map[model.JobStatus]int{
		model.JobStatusQueued:    4,
		model.JobStatusCompleted: 2,
	}))

	out := buf.String()
	assert.Contains(t, out, "queued")
	assert.Contains(t, out, "cancelled")
	assert.Regexp(t, `total\s+6`, out)
}

func TestRenderJob(t *testing.T) {
	msg := "file 0 (a.jpg): provider reported failure"
	job := &model.GenerationJob{
		ID:          "job-1",
		OwnerID:     "owner-1",
		Status:      model.JobStatusFailed,
		Progress:    50,
		FilesDone:   1,
		Files:       []model.SourceFile{{Path: "/scratch/a.jpg"}, {Path: "/scratch/b.jpg"}},
		Attempts:    3,
		MaxAttempts: 3,
		Error:       &msg,
	}
	items := []*model.CatalogueItem{{ID: "item-1", Type: model.ItemType("picture"), Title: "Front view", AssetRef: "images/item-1.jpg"}}
	snap := &model.JobSnapshot{JobID: "job-1", Status: model.JobStatusFailed, Progress: 50, UpdatedAt: time.Unix(0, 0)}

	var buf bytes.Buffer
	require.NoError(t, renderJob(&buf, job, items, snap))

	out := buf.String()
	assert.Contains(t, out, "Status: failed, progress 50%, files 1/2, attempts 3/3")
	assert.Contains(t, out, "Error: "+msg)
	assert.Contains(t, out, "Cached: failed")
	assert.Contains(t, out, "images/item-1.jpg")
}

func TestRenderJobPageEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderJobPage(&buf, &model.JobPage{}))
	assert.Equal(t, "No jobs found.\n", buf.String())
}

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))
	for i, c := range commands {
		assert.Contains(t, buf.String(), c.name)
		if i > 0 {
			assert.Less(t, commands[i-1].name, c.name, "commands must stay sorted")
		}
	}
	_, ok := lookup("show-job")
	assert.True(t, ok)
}
