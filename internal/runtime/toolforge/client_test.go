package toolforge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
)

type fakeResolver struct {
	resolved string
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(ctx context.Context, repository, ref string) (string, error) {
	f.calls++
	return f.resolved, f.err
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	c, err := New(Config{APIURL: server.URL, UserAgent: "deployctl-test"})
	require.NoError(t, err)
	return c
}

func TestResolveRef_CachesAfterFirstResolve(t *testing.T) {
	resolver := &fakeResolver{resolved: "abc123"}
	c, err := New(Config{APIURL: "http://unused"})
	require.NoError(t, err)
	c.WithResolver(resolver)

	ref1, err := c.ResolveRef(context.Background(), "https://example.org/repo.git", "main")
	require.NoError(t, err)
	ref2, err := c.ResolveRef(context.Background(), "https://example.org/repo.git", "main")
	require.NoError(t, err)

	assert.Equal(t, "abc123", ref1)
	assert.Equal(t, "abc123", ref2)
	assert.Equal(t, 1, resolver.calls, "second call should hit the ref cache, not the resolver")
}

func TestStartBuild_CreatesNewBuildWhenNoneReusable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]buildsWireRecord{})
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(buildsWireRecord{BuildID: "build-1", Status: "BUILD_PENDING"})
		default:
			t.Fatalf("unexpected method %s", r.Method)
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	c.WithResolver(&fakeResolver{resolved: "deadbeef"})

	progress, err := c.StartBuild(context.Background(), "mytool", "web", model.SourceBuildInfo{
		Repository: "https://example.org/mytool.git",
		Ref:        "main",
	}, false)

	require.NoError(t, err)
	assert.Equal(t, "build-1", progress.BuildID)
	assert.Equal(t, model.BuildPending, progress.State)
}

func TestStartBuild_ReusesMatchingSuccessfulBuild(t *testing.T) {
	wantImage := runtime.ImageName("mytool", "web")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method, "a reusable build must short-circuit the POST")
		rec := buildsWireRecord{
			BuildID:          "build-old",
			DestinationImage: wantImage,
			ResolvedRef:      "deadbeef",
			Status:           "BUILD_SUCCESS",
			StartTime:        time.Now().Add(-time.Hour),
		}
		rec.Parameters.Repository = "https://example.org/mytool.git"
		rec.Parameters.Ref = "main"
		json.NewEncoder(w).Encode([]buildsWireRecord{rec})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	c.WithResolver(&fakeResolver{resolved: "deadbeef"})

	progress, err := c.StartBuild(context.Background(), "mytool", "web", model.SourceBuildInfo{
		Repository: "https://example.org/mytool.git",
		Ref:        "main",
	}, false)

	require.NoError(t, err)
	assert.Equal(t, "build-old", progress.BuildID)
	assert.Equal(t, model.BuildSkipped, progress.State)
}

func TestStartBuild_ForceSkipsReuseLookup(t *testing.T) {
	getCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			getCalls++
		}
		json.NewEncoder(w).Encode(buildsWireRecord{BuildID: "build-forced", Status: "BUILD_PENDING"})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	c.WithResolver(&fakeResolver{resolved: "deadbeef"})

	progress, err := c.StartBuild(context.Background(), "mytool", "web", model.SourceBuildInfo{
		Repository: "https://example.org/mytool.git",
		Ref:        "main",
	}, true)

	require.NoError(t, err)
	assert.Equal(t, "build-forced", progress.BuildID)
	assert.Equal(t, 0, getCalls, "force=true must not consult ListBuilds for reuse")
}

func TestGetBuildInfo_MapsNotFoundToFailedMaybeDeleted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server)
	progress, err := c.GetBuildInfo(context.Background(), "mytool", "build-gone")

	require.NoError(t, err)
	assert.Equal(t, model.BuildFailed, progress.State)
	assert.Equal(t, "maybe deleted?", progress.LongStatus)
}

func TestGetBuildInfo_MapsStatusToBuildState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(buildsWireRecord{BuildID: "b1", Status: "BUILD_SUCCESS", DestinationImage: "tool-mytool/web:latest"})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	progress, err := c.GetBuildInfo(context.Background(), "mytool", "b1")

	require.NoError(t, err)
	assert.Equal(t, model.BuildSuccessful, progress.State)
	assert.Equal(t, "tool-mytool/web:latest", progress.Image)
}

func TestRunContinuousJob_RestartsWhenUnchangedAndForced(t *testing.T) {
	var gotPatch, gotRestart bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch:
			gotPatch = true
			json.NewEncoder(w).Encode(map[string]any{"message": "no change", "changed": false})
		case r.Method == http.MethodPost:
			gotRestart = true
			json.NewEncoder(w).Encode(map[string]any{"message": "restarted"})
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	msg, err := c.RunContinuousJob(context.Background(), "mytool", "web", model.ContinuousRunSpec{
		Command:  "/app/start",
		Replicas: 1,
	}, "tool-mytool/web:latest", true)

	require.NoError(t, err)
	assert.True(t, gotPatch)
	assert.True(t, gotRestart)
	assert.Equal(t, "restarted", msg)
}

func TestRunContinuousJob_SkipsRestartWhenNotForced(t *testing.T) {
	restartCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			restartCalled = true
		}
		json.NewEncoder(w).Encode(map[string]any{"message": "no change", "changed": false})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	msg, err := c.RunContinuousJob(context.Background(), "mytool", "web", model.ContinuousRunSpec{
		Command: "/app/start",
	}, "tool-mytool/web:latest", false)

	require.NoError(t, err)
	assert.False(t, restartCalled)
	assert.Equal(t, "no change", msg)
}

func TestDeleteJobIfExists_NoOpWhenJobAbsent(t *testing.T) {
	deleteCalled := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			deleteCalled = true
		}
		json.NewEncoder(w).Encode([]jobsWireRecord{})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	msg, err := c.DeleteJobIfExists(context.Background(), "mytool", "web")

	require.NoError(t, err)
	assert.False(t, deleteCalled)
	assert.Equal(t, "no job to delete", msg)
}

func TestDeleteJobIfExists_DeletesWhenJobPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]jobsWireRecord{{Name: "web", Image: "tool-mytool/web:latest"}})
		case http.MethodDelete:
			json.NewEncoder(w).Encode(map[string]any{"message": "deleted"})
		}
	}))
	defer server.Close()

	c := newTestClient(t, server)
	msg, err := c.DeleteJobIfExists(context.Background(), "mytool", "web")

	require.NoError(t, err)
	assert.Equal(t, "deleted", msg)
}

func TestDoJSON_NonOKStatusBecomesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.GetBuildInfo(context.Background(), "mytool", "b1")

	// GetBuildInfo swallows non-404 errors into a BuildUnknown progress
	// rather than propagating, so assert via ListBuilds instead, which
	// propagates the raw HTTPError.
	require.NoError(t, err)

	_, err = c.ListBuilds(context.Background(), "mytool")
	require.Error(t, err)
	var httpErr *runtime.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
}
