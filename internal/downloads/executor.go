package downloads

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

var (
	ErrAlreadyRunning = errors.New("download already running")
	ErrNoAudioURL     = errors.New("task has no audio URL")
)

var invalidPathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// Executor performs byte transfers. StartDownload returns once the transfer
// is launched; progress and the terminal outcome arrive on Progress. Paused
// and cancelled transfers emit nothing further.
type Executor interface {
	StartDownload(ctx context.Context, task domain.DownloadTask) error
	PauseDownload(taskID string)
	CancelDownload(task domain.DownloadTask)
	FileExists(task domain.DownloadTask) bool
	FileSize(task domain.DownloadTask) (int64, error)
	DeleteDownloadedFile(task domain.DownloadTask) error
	DownloadPath(task domain.DownloadTask) string
	SaveResumeData(task domain.DownloadTask, data ResumeData) error
	LoadResumeData(task domain.DownloadTask) (ResumeData, bool, error)
	Progress() <-chan domain.ProgressEvent
}

// ResumeData is stored next to a partial file.
type ResumeData struct {
	URL        string    `json:"url"`
	Downloaded int64     `json:"downloaded"`
	Total      int64     `json:"total"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ExecutorOptions struct {
	Root             string
	TmpDir           string
	UserAgent        string
	ProgressInterval time.Duration
	TagDownloads     bool
}

type transfer struct {
	cancel context.CancelFunc
	paused bool
	done   chan struct{}
}

// HTTPExecutor downloads over HTTP with Range resume from a partial file.
type HTTPExecutor struct {
	opts   ExecutorOptions
	client *http.Client
	events chan domain.ProgressEvent
	closed chan struct{}

	mu     sync.Mutex
	active map[string]*transfer
}

func NewHTTPExecutor(opts ExecutorOptions, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if strings.TrimSpace(opts.TmpDir) == "" {
		opts.TmpDir = os.TempDir()
	}
	return &HTTPExecutor{
		opts:   opts,
		client: client,
		events: make(chan domain.ProgressEvent, 64),
		closed: make(chan struct{}),
		active: make(map[string]*transfer),
	}
}

func (e *HTTPExecutor) Progress() <-chan domain.ProgressEvent {
	return e.events
}

// Close stops every running transfer and waits for them to exit. Partial
// files are kept for resume.
func (e *HTTPExecutor) Close() {
	e.mu.Lock()
	running := make([]*transfer, 0, len(e.active))
	for _, t := range e.active {
		t.paused = true
		t.cancel()
		running = append(running, t)
	}
	select {
	case <-e.closed:
	default:
		close(e.closed)
	}
	e.mu.Unlock()

	for _, t := range running {
		<-t.done
	}
}

func (e *HTTPExecutor) StartDownload(ctx context.Context, task domain.DownloadTask) error {
	if strings.TrimSpace(task.AudioURL) == "" {
		return ErrNoAudioURL
	}
	if strings.TrimSpace(e.opts.Root) == "" {
		return fmt.Errorf("download root is not configured")
	}

	e.mu.Lock()
	if _, running := e.active[task.ID]; running {
		e.mu.Unlock()
		return fmt.Errorf("%s: %w", task.ID, ErrAlreadyRunning)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &transfer{cancel: cancel, done: make(chan struct{})}
	e.active[task.ID] = t
	e.mu.Unlock()

	go e.run(runCtx, task, t)
	return nil
}

// PauseDownload stops a running transfer and keeps its partial file. It
// returns once the transfer has exited.
func (e *HTTPExecutor) PauseDownload(taskID string) {
	e.mu.Lock()
	t, running := e.active[taskID]
	if running {
		t.paused = true
		t.cancel()
	}
	e.mu.Unlock()

	if running {
		<-t.done
	}
}

// CancelDownload stops a running transfer and removes its partial file.
func (e *HTTPExecutor) CancelDownload(task domain.DownloadTask) {
	e.mu.Lock()
	t, running := e.active[task.ID]
	if running {
		t.paused = false
		t.cancel()
	}
	e.mu.Unlock()

	if running {
		<-t.done
		return
	}
	e.removePartial(task)
}

func (e *HTTPExecutor) FileExists(task domain.DownloadTask) bool {
	info, err := os.Stat(e.DownloadPath(task))
	return err == nil && info.Mode().IsRegular()
}

func (e *HTTPExecutor) FileSize(task domain.DownloadTask) (int64, error) {
	info, err := os.Stat(e.DownloadPath(task))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// DeleteDownloadedFile removes the media file and any partial data. A file
// that is already gone is not an error.
func (e *HTTPExecutor) DeleteDownloadedFile(task domain.DownloadTask) error {
	if err := os.Remove(e.DownloadPath(task)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	e.removePartial(task)
	return nil
}

// DownloadPath is <root>/<podcastID>/<episodeID><ext>.
func (e *HTTPExecutor) DownloadPath(task domain.DownloadTask) string {
	return filepath.Join(e.opts.Root, safeSegment(task.PodcastID, "podcast"), safeSegment(task.EpisodeID, "episode")+fileExtension(task.AudioURL))
}

func (e *HTTPExecutor) partialPath(task domain.DownloadTask) string {
	name := safeSegment(task.PodcastID, "podcast") + "-" + safeSegment(task.EpisodeID, "episode")
	return filepath.Join(e.opts.TmpDir, fmt.Sprintf("podstash-%s.partial", name))
}

func (e *HTTPExecutor) resumePath(task domain.DownloadTask) string {
	return e.partialPath(task) + ".json"
}

func (e *HTTPExecutor) SaveResumeData(task domain.DownloadTask, data ResumeData) error {
	if err := os.MkdirAll(e.opts.TmpDir, 0o755); err != nil {
		return err
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return os.WriteFile(e.resumePath(task), encoded, 0o600)
}

func (e *HTTPExecutor) LoadResumeData(task domain.DownloadTask) (ResumeData, bool, error) {
	raw, err := os.ReadFile(e.resumePath(task))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResumeData{}, false, nil
		}
		return ResumeData{}, false, err
	}
	var data ResumeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return ResumeData{}, false, err
	}
	return data, true, nil
}

func (e *HTTPExecutor) removePartial(task domain.DownloadTask) {
	for _, p := range []string{e.partialPath(task), e.resumePath(task)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logging.Warn("remove partial download", "task", task.ID, "path", p, "err", err)
		}
	}
}

func (e *HTTPExecutor) run(ctx context.Context, task domain.DownloadTask, t *transfer) {
	defer close(t.done)
	defer func() {
		e.mu.Lock()
		delete(e.active, task.ID)
		e.mu.Unlock()
	}()

	finalPath, err := e.downloadOnce(ctx, task)
	if err != nil && ctx.Err() != nil {
		e.mu.Lock()
		paused := t.paused
		e.mu.Unlock()
		if !paused {
			e.removePartial(task)
			logging.Info("download cancelled", "task", task.ID)
		} else {
			logging.Info("download paused", "task", task.ID)
		}
		return
	}
	if err != nil {
		logging.Warn("download failed", "task", task.ID, "episode", task.EpisodeID, "err", err)
		e.emit(domain.ProgressEvent{TaskID: task.ID, State: domain.TaskFailed, Err: err}, true)
		return
	}

	if e.opts.TagDownloads && strings.EqualFold(filepath.Ext(finalPath), ".mp3") {
		if err := tagEpisode(finalPath, task); err != nil {
			logging.Warn("tag download", "task", task.ID, "path", finalPath, "err", err)
		}
	}
	logging.Info("download completed", "task", task.ID, "path", finalPath)
	e.emit(domain.ProgressEvent{TaskID: task.ID, Progress: 1, State: domain.TaskCompleted}, true)
}

// emit delivers terminal events unconditionally and drops progress events
// when the consumer is behind.
func (e *HTTPExecutor) emit(ev domain.ProgressEvent, terminal bool) {
	if !terminal {
		select {
		case e.events <- ev:
		default:
		}
		return
	}
	select {
	case e.events <- ev:
	case <-e.closed:
	}
}

func (e *HTTPExecutor) downloadOnce(ctx context.Context, task domain.DownloadTask) (string, error) {
	finalPath := e.DownloadPath(task)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(e.opts.TmpDir, 0o755); err != nil {
		return "", err
	}

	partialPath := e.partialPath(task)
	if resume, ok, err := e.LoadResumeData(task); err != nil || (ok && resume.URL != task.AudioURL) {
		e.removePartial(task)
	}

	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return "", err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", err
	}
	existingSize := stat.Size()
	if _, err := file.Seek(existingSize, io.SeekStart); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.AudioURL, nil)
	if err != nil {
		return "", err
	}
	if ua := strings.TrimSpace(e.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download episode: %w", err)
	}
	defer resp.Body.Close()

	var total int64
	switch resp.StatusCode {
	case http.StatusOK:
		if existingSize > 0 {
			if err := file.Truncate(0); err != nil {
				return "", err
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return "", err
			}
			existingSize = 0
		}
		total = resp.ContentLength
	case http.StatusPartialContent:
		if resp.ContentLength > 0 {
			total = existingSize + resp.ContentLength
		}
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file already holds the whole body.
		total = existingSize
	default:
		return "", fmt.Errorf("download failed: %s", resp.Status)
	}
	if total <= 0 && task.EstimatedSize != nil {
		total = *task.EstimatedSize
	}

	written := existingSize
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		written, err = e.copyWithProgress(ctx, file, resp.Body, task, existingSize, total)
		if err != nil {
			e.saveResume(task, written, total)
			return "", err
		}
	}
	if err := file.Sync(); err != nil {
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	if err := moveFile(partialPath, finalPath); err != nil {
		return "", err
	}
	if err := os.Remove(e.resumePath(task)); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Debug("remove resume data", "task", task.ID, "err", err)
	}
	return finalPath, nil
}

func (e *HTTPExecutor) copyWithProgress(ctx context.Context, dst io.Writer, src io.Reader, task domain.DownloadTask, written, total int64) (int64, error) {
	limiter := rate.NewLimiter(rate.Every(e.opts.ProgressInterval), 1)
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if total > 0 && limiter.Allow() {
				e.emit(domain.ProgressEvent{TaskID: task.ID, Progress: float64(written) / float64(total), State: domain.TaskDownloading}, false)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

func (e *HTTPExecutor) saveResume(task domain.DownloadTask, written, total int64) {
	data := ResumeData{URL: task.AudioURL, Downloaded: written, Total: total, UpdatedAt: time.Now().UTC()}
	if err := e.SaveResumeData(task, data); err != nil {
		logging.Warn("save resume data", "task", task.ID, "err", err)
	}
}

// safeSegment turns an id into a single path segment. Ids that needed
// cleaning get a hash suffix so distinct ids never share a path.
func safeSegment(value, fallback string) string {
	value = strings.TrimSpace(value)
	cleaned := invalidPathChars.ReplaceAllString(value, "_")
	cleaned = strings.Trim(cleaned, "._- ")
	if len(cleaned) > 96 {
		cleaned = cleaned[:96]
	}
	if cleaned == value && cleaned != "" {
		return cleaned
	}
	if value == "" {
		return fallback
	}
	sum := fmt.Sprintf("%x", sha256.Sum256([]byte(value)))[:10]
	if cleaned == "" {
		return fallback + "-" + sum
	}
	return cleaned + "-" + sum
}

func fileExtension(rawURL string) string {
	if rawURL == "" {
		return ".mp3"
	}
	u, err := url.Parse(rawURL)
	if err == nil {
		ext := path.Ext(u.Path)
		if ext != "" && len(ext) <= 10 && !invalidPathChars.MatchString(ext) {
			return strings.ToLower(ext)
		}
	}
	return ".mp3"
}

func moveFile(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && linkErr.Err == syscall.EXDEV {
			return copyAcrossDevices(src, dst)
		}
		return err
	}
	return nil
}

func copyAcrossDevices(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
