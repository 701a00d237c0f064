// Package toolforge is the concrete runtime.Adapter talking to the two
// downstream cluster APIs (builds, jobs) over net/http, plus ref
// resolution by shelling out to a git client (spec.md §4.3, §9 "keep as a
// collaborator").
package toolforge

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/exec"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/toolforge/deployctl/internal/model"
	"github.com/toolforge/deployctl/internal/runtime"
)

// GitResolver shells out to a git client to resolve a ref to a commit hash.
// Exposed as an interface so tests can substitute a fake (spec.md §9:
// "offers a single ResolveRef(repo, ref) -> commit|error so this is
// trivially swappable in tests").
type GitResolver interface {
	Resolve(ctx context.Context, repository, ref string) (string, error)
}

// execGitResolver shells out to `git ls-remote`.
type execGitResolver struct{}

func (execGitResolver) Resolve(ctx context.Context, repository, ref string) (string, error) {
	target := ref
	if target == "" {
		target = "HEAD"
	}
	cmd := exec.CommandContext(ctx, "git", "ls-remote", repository, target)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("toolforge: git ls-remote %s %s: %w", repository, target, err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", fmt.Errorf("toolforge: git ls-remote %s %s returned no refs", repository, target)
	}
	return fields[0], nil
}

// Client is the concrete runtime.Adapter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	resolver   GitResolver
	refCache   *lru.Cache[string, string]
}

// Config carries the fields spec.md §6 names for the runtime collaborator.
type Config struct {
	APIURL            string
	VerifyCert        bool
	UserAgent         string
	RequestTimeout    time.Duration
	RefCacheSize      int
}

// New constructs a toolforge.Client.
func New(cfg Config) (*Client, error) {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.RefCacheSize == 0 {
		cfg.RefCacheSize = 256
	}
	cache, err := lru.New[string, string](cfg.RefCacheSize)
	if err != nil {
		return nil, fmt.Errorf("toolforge: building ref cache: %w", err)
	}

	transport := &http.Transport{}
	if !cfg.VerifyCert {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		baseURL:    strings.TrimRight(cfg.APIURL, "/"),
		userAgent:  cfg.UserAgent,
		resolver:   execGitResolver{},
		refCache:   cache,
	}, nil
}

// WithResolver overrides the git resolver, for tests.
func (c *Client) WithResolver(r GitResolver) *Client {
	c.resolver = r
	return c
}

func (c *Client) ResolveRef(ctx context.Context, repository, ref string) (string, error) {
	key := repository + "@" + ref
	if cached, ok := c.refCache.Get(key); ok {
		return cached, nil
	}
	resolved, err := c.resolver.Resolve(ctx, repository, ref)
	if err != nil {
		return "", err
	}
	c.refCache.Add(key, resolved)
	return resolved, nil
}

// buildsWireRecord mirrors the downstream builds API's JSON shape.
type buildsWireRecord struct {
	BuildID          string `json:"build_id"`
	DestinationImage string `json:"destination_image"`
	ResolvedRef      string `json:"resolved_ref"`
	Parameters       struct {
		Repository string `json:"repository"`
		Ref        string `json:"ref"`
	} `json:"parameters"`
	UseLatestVersions bool      `json:"use_latest_versions"`
	StartTime         time.Time `json:"start_time"`
	Status            string    `json:"status"`
}

func mapBuildStatus(status string) model.BuildState {
	switch status {
	case "BUILD_PENDING", "BUILD_RUNNING":
		return model.BuildRunning
	case "BUILD_SUCCESS":
		return model.BuildSuccessful
	case "BUILD_FAILURE", "BUILD_CANCELLED", "BUILD_TIMEOUT":
		return model.BuildFailed
	default:
		return model.BuildUnknown
	}
}

func (c *Client) StartBuild(ctx context.Context, tool, component string, build model.SourceBuildInfo, force bool) (model.BuildProgress, error) {
	resolvedRef, err := c.ResolveRef(ctx, build.Repository, build.Ref)
	if err != nil {
		return model.BuildProgress{}, fmt.Errorf("toolforge: resolving ref: %w", err)
	}

	if !force {
		if reused, ok, err := c.findReusableBuild(ctx, tool, component, build, resolvedRef); err != nil {
			return model.BuildProgress{}, err
		} else if ok {
			return reused, nil
		}
	}

	var created buildsWireRecord
	body := map[string]any{
		"image_name":          component,
		"repository":          build.Repository,
		"ref":                 build.Ref,
		"use_latest_versions": build.UseLatestVersions,
	}
	if err := c.doJSON(ctx, http.MethodPost, c.buildsURL(tool, ""), body, &created); err != nil {
		return model.BuildProgress{}, err
	}
	return model.BuildProgress{BuildID: created.BuildID, State: model.BuildPending}, nil
}

// findReusableBuild implements spec.md §4.3 StartBuild's dedup: the most
// recent existing build for this tool whose image_name matches the
// component and use_latest_versions matches the request, reused if its
// resolved_ref equals the freshly resolved commit hash.
func (c *Client) findReusableBuild(ctx context.Context, tool, component string, build model.SourceBuildInfo, resolvedRef string) (model.BuildProgress, bool, error) {
	records, err := c.ListBuilds(ctx, tool)
	if err != nil {
		return model.BuildProgress{}, false, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartTime.After(records[j].StartTime) })

	wantImage := runtime.ImageName(tool, component)
	for _, rec := range records {
		if rec.DestinationImage != wantImage {
			continue
		}
		if rec.UseLatestVersions != build.UseLatestVersions {
			continue
		}
		if rec.ResolvedRef != resolvedRef {
			break
		}
		switch rec.State {
		case model.BuildSuccessful:
			return model.BuildProgress{BuildID: rec.BuildID, State: model.BuildSkipped, Image: rec.DestinationImage}, true, nil
		case model.BuildRunning:
			return model.BuildProgress{BuildID: rec.BuildID, State: model.BuildPending}, true, nil
		}
		break
	}
	return model.BuildProgress{}, false, nil
}

func (c *Client) GetBuildInfo(ctx context.Context, tool, buildID string) (model.BuildProgress, error) {
	var rec buildsWireRecord
	err := c.doJSON(ctx, http.MethodGet, c.buildsURL(tool, buildID), nil, &rec)
	var httpErr *runtime.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return model.BuildProgress{State: model.BuildFailed, LongStatus: "maybe deleted?"}, nil
	}
	if err != nil {
		return model.BuildProgress{State: model.BuildUnknown, LongStatus: err.Error()}, nil
	}
	return model.BuildProgress{BuildID: rec.BuildID, State: mapBuildStatus(rec.Status), Image: rec.DestinationImage}, nil
}

func (c *Client) CancelBuild(ctx context.Context, tool, buildID string) error {
	return c.doJSON(ctx, http.MethodPost, c.buildsURL(tool, buildID)+"/cancel", nil, nil)
}

func (c *Client) ListBuilds(ctx context.Context, tool string) ([]runtime.BuildRecord, error) {
	var wire []buildsWireRecord
	if err := c.doJSON(ctx, http.MethodGet, c.buildsURL(tool, ""), nil, &wire); err != nil {
		return nil, err
	}
	out := make([]runtime.BuildRecord, 0, len(wire))
	for _, rec := range wire {
		out = append(out, runtime.BuildRecord{
			BuildID:           rec.BuildID,
			DestinationImage:  rec.DestinationImage,
			Repository:        rec.Parameters.Repository,
			ResolvedRef:       rec.ResolvedRef,
			Ref:               rec.Parameters.Ref,
			UseLatestVersions: rec.UseLatestVersions,
			StartTime:         rec.StartTime,
			State:             mapBuildStatus(rec.Status),
		})
	}
	return out, nil
}

type jobsWireRecord struct {
	Name             string                   `json:"name"`
	Image            string                   `json:"image"`
	Command          string                   `json:"cmd"`
	Schedule         string                   `json:"schedule,omitempty"`
	Replicas         int                      `json:"replicas,omitempty"`
	Port             int                      `json:"port,omitempty"`
	HealthCheckHTTP  string                   `json:"health_check_http,omitempty"`
}

func (c *Client) ListJobs(ctx context.Context, tool string) ([]runtime.JobRecord, error) {
	var wire []jobsWireRecord
	if err := c.doJSON(ctx, http.MethodGet, c.jobsURL(tool, ""), nil, &wire); err != nil {
		return nil, err
	}
	out := make([]runtime.JobRecord, 0, len(wire))
	for _, rec := range wire {
		jr := runtime.JobRecord{
			Name:     rec.Name,
			Image:    rec.Image,
			Command:  rec.Command,
			Schedule: rec.Schedule,
			Replicas: rec.Replicas,
		}
		if rec.Port > 0 {
			jr.Ports = []int{rec.Port}
		}
		if rec.HealthCheckHTTP != "" {
			jr.HealthCheckHTTP = &model.HealthCheckHTTP{Path: rec.HealthCheckHTTP, Port: rec.Port}
		}
		out = append(out, jr)
	}
	return out, nil
}

func (c *Client) RunContinuousJob(ctx context.Context, tool, component string, spec model.ContinuousRunSpec, image string, forceRestart bool) (string, error) {
	body := map[string]any{
		"name":              component,
		"image":             image,
		"cmd":                spec.Command,
		"replicas":          spec.Replicas,
		"ports":             spec.Ports,
		"resource_requests": spec.ResourceRequests,
		"log_paths":         spec.LogPaths,
	}
	if spec.HealthCheckHTTP != nil {
		body["health_check_http"] = spec.HealthCheckHTTP
	}
	if spec.HealthCheckScript != nil {
		body["health_check_script"] = spec.HealthCheckScript
	}

	var result struct {
		Message string `json:"message"`
		Changed bool   `json:"changed"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, c.jobsURL(tool, component), body, &result); err != nil {
		return "", err
	}
	if !result.Changed && forceRestart {
		var restartResult struct {
			Message string `json:"message"`
		}
		if err := c.doJSON(ctx, http.MethodPost, c.jobsURL(tool, component)+"/restart", nil, &restartResult); err != nil {
			return "", err
		}
		return restartResult.Message, nil
	}
	return result.Message, nil
}

func (c *Client) RunScheduledJob(ctx context.Context, tool, component string, spec model.ScheduledRunSpec, image string) (string, error) {
	body := map[string]any{
		"name":              component,
		"image":             image,
		"cmd":                spec.Command,
		"schedule":          spec.Schedule,
		"timeout_seconds":   spec.TimeoutSeconds,
		"retry":             spec.Retry,
		"resource_requests": spec.ResourceRequests,
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, c.jobsURL(tool, component), body, &result); err != nil {
		return "", err
	}
	return result.Message, nil
}

func (c *Client) DeleteJobIfExists(ctx context.Context, tool, component string) (string, error) {
	jobs, err := c.ListJobs(ctx, tool)
	if err != nil {
		return "", err
	}
	found := false
	for _, j := range jobs {
		if j.Name == component {
			found = true
			break
		}
	}
	if !found {
		return "no job to delete", nil
	}
	var result struct {
		Message string `json:"message"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, c.jobsURL(tool, component), nil, &result); err != nil {
		return "", err
	}
	return result.Message, nil
}

func (c *Client) buildsURL(tool, suffix string) string {
	u := fmt.Sprintf("%s/builds/v1/tool/%s/builds", c.baseURL, url.PathEscape(tool))
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

func (c *Client) jobsURL(tool, suffix string) string {
	u := fmt.Sprintf("%s/jobs/v1/tool/%s/jobs", c.baseURL, url.PathEscape(tool))
	if suffix != "" {
		u += "/" + suffix
	}
	return u
}

// doJSON performs one HTTP call, decoding a JSON response into out (if
// non-nil). A read timeout is wrapped as a TransportTimeoutError so the
// engine's retry helper can recognize it; any non-2xx response becomes an
// HTTPError carrying the body.
func (c *Client) doJSON(ctx context.Context, method, target string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("toolforge: encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("toolforge: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &runtime.TransportTimeoutError{Op: method + " " + target, Err: err}
		}
		return fmt.Errorf("toolforge: %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return &runtime.HTTPError{StatusCode: resp.StatusCode, Body: buf.Bytes()}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isTimeout(err error) bool {
	type timeoutError interface{ Timeout() bool }
	var te timeoutError
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}
