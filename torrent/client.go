// Package torrent downloads archive files through an external
// qBittorrent-compatible client, driven over its WebUI API.
package torrent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
)

// Job is the client's view of one registered transfer.
type Job struct {
	Hash      string `json:"hash"`
	Name      string `json:"name"`
	SavePath  string `json:"save_path"`
	Size      int64  `json:"size"`
	Completed int64  `json:"completed"`
	State     string `json:"state"`
}

// Client is the port to the external torrent client. WebUIClient is the real
// implementation; tests substitute a fake.
type Client interface {
	// Add registers a torrent by URL. The transfer stages into downloadPath
	// and moves to savePath on completion; paused controls whether it
	// starts immediately.
	Add(ctx context.Context, torrentURL, tag, savePath, downloadPath string, paused bool) error

	// JobsByTag lists registered jobs carrying the given tag.
	JobsByTag(ctx context.Context, tag string) ([]Job, error)

	// JobsByHashes lists the given jobs by info hash.
	JobsByHashes(ctx context.Context, hashes []string) ([]Job, error)

	// Start resumes the given paused jobs.
	Start(ctx context.Context, hashes []string) error

	// Delete removes the given jobs, deleting their staged data when
	// deleteFiles is set.
	Delete(ctx context.Context, hashes []string, deleteFiles bool) error
}

// WebUIClient talks to a qBittorrent WebUI endpoint. Authentication is
// cookie-based: Login must be called before any other method.
type WebUIClient struct {
	baseURL string
	http    *http.Client
}

// NewWebUIClient returns a client for the WebUI at host:port.
func NewWebUIClient(host string, port int) (*WebUIClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	base := host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &WebUIClient{
		baseURL: fmt.Sprintf("%s:%d", base, port),
		http:    &http.Client{Jar: jar},
	}, nil
}

// Login authenticates against the WebUI and stores the session cookie.
func (c *WebUIClient) Login(ctx context.Context, username, password string) error {
	form := url.Values{
		"username": {username},
		"password": {password},
	}
	body, err := c.postForm(ctx, "/api/v2/auth/login", form)
	if err != nil {
		return err
	}
	// qBittorrent reports auth failure with a 200 and a "Fails." body.
	if strings.TrimSpace(string(body)) != "Ok." {
		return fmt.Errorf("torrent client login failed for user %s", username)
	}
	return nil
}

func (c *WebUIClient) Add(ctx context.Context, torrentURL, tag, savePath, downloadPath string, paused bool) error {
	form := url.Values{
		"urls":            {torrentURL},
		"tags":            {tag},
		"savepath":        {savePath},
		"downloadPath":    {downloadPath},
		"useDownloadPath": {"true"},
		"stopped":         {fmt.Sprint(paused)},
		"paused":          {fmt.Sprint(paused)}, // pre-4.6 field name
	}
	_, err := c.postForm(ctx, "/api/v2/torrents/add", form)
	return err
}

func (c *WebUIClient) JobsByTag(ctx context.Context, tag string) ([]Job, error) {
	return c.jobs(ctx, url.Values{"tag": {tag}})
}

func (c *WebUIClient) JobsByHashes(ctx context.Context, hashes []string) ([]Job, error) {
	return c.jobs(ctx, url.Values{"hashes": {strings.Join(hashes, "|")}})
}

func (c *WebUIClient) jobs(ctx context.Context, query url.Values) ([]Job, error) {
	body, err := c.get(ctx, "/api/v2/torrents/info?"+query.Encode())
	if err != nil {
		return nil, err
	}
	var jobs []Job
	if err := json.Unmarshal(body, &jobs); err != nil {
		return nil, fmt.Errorf("decoding torrent list: %w", err)
	}
	return jobs, nil
}

func (c *WebUIClient) Start(ctx context.Context, hashes []string) error {
	form := url.Values{"hashes": {strings.Join(hashes, "|")}}
	_, err := c.postForm(ctx, "/api/v2/torrents/start", form)
	return err
}

func (c *WebUIClient) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	form := url.Values{
		"hashes":      {strings.Join(hashes, "|")},
		"deleteFiles": {fmt.Sprint(deleteFiles)},
	}
	_, err := c.postForm(ctx, "/api/v2/torrents/delete", form)
	return err
}

func (c *WebUIClient) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, path)
}

func (c *WebUIClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	return c.do(req, path)
}

func (c *WebUIClient) do(req *http.Request, path string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrent client request %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading torrent client response for %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrent client request %s: unexpected status %s", path, resp.Status)
	}
	return body, nil
}
