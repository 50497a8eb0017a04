package ci

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/enku/gbp/internal/auth"
	"github.com/enku/gbp/internal/auth/providers"
	"github.com/enku/gbp/internal/gbp"
)

// JenkinsClient implements Client against a Jenkins-style CI server.
type JenkinsClient struct {
	BaseURL      string
	ArtifactName string
	ChunkSize    int

	HTTPClient *http.Client
	AuthConfig *providers.AuthConfig
	authMgr    *auth.Manager
	limiter    *rate.Limiter
}

// NewJenkinsClient builds a client that paces chunked artifact downloads
// to chunkSize bytes per tick via golang.org/x/time/rate, and applies
// JENKINS_USER/JENKINS_API_KEY basic auth to every request when configured.
func NewJenkinsClient(baseURL, artifactName string, chunkSize int, jenkinsUser, jenkinsAPIKey string) *JenkinsClient {
	return &JenkinsClient{
		BaseURL:      baseURL,
		ArtifactName: artifactName,
		ChunkSize:    chunkSize,
		HTTPClient:   http.DefaultClient,
		AuthConfig:   auth.FromSettings(jenkinsUser, jenkinsAPIKey),
		authMgr:      auth.NewManager(),
		limiter:      rate.NewLimiter(rate.Limit(chunkSize), chunkSize),
	}
}

func (c *JenkinsClient) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	u, err := url.JoinPath(c.BaseURL, path)
	if err != nil {
		return nil, fmt.Errorf("ci: build request URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("ci: build request: %w", err)
	}
	if err := c.authMgr.Apply(c.AuthConfig, req); err != nil {
		return nil, fmt.Errorf("ci: apply auth: %w", err)
	}
	return req, nil
}

func jobPath(build gbp.Build, suffix string) string {
	return fmt.Sprintf("/job/%s/%s/%s", build.Machine, build.ID, suffix)
}

// DownloadArtifact streams the artifact tar through a rate.Limiter-paced
// reader so large downloads do not outrun JENKINS_DOWNLOAD_CHUNK_SIZE.
func (c *JenkinsClient) DownloadArtifact(ctx context.Context, build gbp.Build) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobPath(build, "artifact/"+c.ArtifactName))
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ci: download artifact: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, NotFoundError{Build: build}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("ci: download artifact: unexpected status %d", resp.StatusCode)
	}
	return &pacedReadCloser{ctx: ctx, r: resp.Body, limiter: c.limiter, chunk: c.ChunkSize}, nil
}

// pacedReadCloser caps read throughput to limiter's rate, observing ctx
// cancellation between chunks as spec.md's section 5 requires.
type pacedReadCloser struct {
	ctx     context.Context
	r       io.ReadCloser
	limiter *rate.Limiter
	chunk   int
}

func (p *pacedReadCloser) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	if len(buf) > p.chunk {
		buf = buf[:p.chunk]
	}
	if err := p.limiter.WaitN(p.ctx, len(buf)); err != nil {
		return 0, fmt.Errorf("ci: rate limit wait: %w", err)
	}
	return p.r.Read(buf)
}

func (p *pacedReadCloser) Close() error { return p.r.Close() }

// GetLogs fetches the captured console log for the build.
func (c *JenkinsClient) GetLogs(ctx context.Context, build gbp.Build) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobPath(build, "consoleText"))
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ci: get logs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", NotFoundError{Build: build}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ci: get logs: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ci: read logs: %w", err)
	}
	return string(data), nil
}

type jenkinsBuildInfo struct {
	Duration  int   `json:"duration"`
	Timestamp int64 `json:"timestamp"`
}

// GetMetadata fetches the build's duration (ms, converted to seconds) and
// CI-reported start timestamp (ms) from Jenkins' api/json endpoint.
func (c *JenkinsClient) GetMetadata(ctx context.Context, build gbp.Build) (BuildMetadata, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobPath(build, "api/json"))
	if err != nil {
		return BuildMetadata{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return BuildMetadata{}, fmt.Errorf("ci: get metadata: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return BuildMetadata{}, NotFoundError{Build: build}
	}
	if resp.StatusCode != http.StatusOK {
		return BuildMetadata{}, fmt.Errorf("ci: get metadata: unexpected status %d", resp.StatusCode)
	}
	var info jenkinsBuildInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return BuildMetadata{}, fmt.Errorf("ci: decode metadata: %w", err)
	}
	return BuildMetadata{DurationSeconds: info.Duration / 1000, TimestampMS: info.Timestamp}, nil
}

// ScheduleBuild requests a new build via Jenkins' buildWithParameters
// endpoint, returning the queue-item URL Jenkins reports via the Location
// header.
func (c *JenkinsClient) ScheduleBuild(ctx context.Context, machine string, params map[string]string) (string, error) {
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	path := fmt.Sprintf("/job/%s/buildWithParameters", machine)
	req, err := c.newRequest(ctx, http.MethodPost, path)
	if err != nil {
		return "", err
	}
	req.URL.RawQuery = values.Encode()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ci: schedule build: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", NotFoundError{Build: gbp.Build{Machine: machine}}
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return resp.Header.Get("Location"), nil
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ci: schedule build: unexpected status %d", resp.StatusCode)
	}
	return resp.Header.Get("Location"), nil
}
