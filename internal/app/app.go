package app

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"

	"podstash/internal/autodownload"
	"podstash/internal/config"
	"podstash/internal/domain"
	"podstash/internal/downloads"
	"podstash/internal/episodes"
	"podstash/internal/feeds"
	"podstash/internal/fuzzy"
	"podstash/internal/logging"
	"podstash/internal/queue"
	"podstash/internal/reconcile"
	"podstash/internal/repository"
	"podstash/internal/search"
	"podstash/internal/subscriptions"
)

type commandHandler func(context.Context, []string) (CommandResult, error)

type command struct {
	name    string
	usage   string
	summary string
	handler commandHandler
}

type CommandResult struct {
	Message string
	Quit    bool
}

const (
	msgPartialRefresh = "Some feed items could not be loaded."
	msgRetryAvailable = "Download failed, retry available."
)

type App struct {
	config        config.Config
	configPath    string
	db            *sql.DB
	store         *repository.Store
	commands      map[string]*command
	subscriptions *subscriptions.Service
	episodes      *episodes.Service
	auto          *autodownload.Service
	downloads     *downloads.Orchestrator
	closeExecutor func()
	now           func() time.Time
}

// Dependencies lets tests replace the network-facing collaborators.
type Dependencies struct {
	HTTPClient *http.Client
	Executor   downloads.Executor
	Sleep      downloads.SleepFunc
	Now        func() time.Time
}

func New(cfg config.Config, configPath string, db *sql.DB) *App {
	return NewWithDependencies(cfg, configPath, db, Dependencies{})
}

func NewWithDependencies(cfg config.Config, configPath string, db *sql.DB, deps Dependencies) *App {
	feedClient, downloadClient := deps.HTTPClient, deps.HTTPClient
	if feedClient == nil {
		feedClient, downloadClient = newHTTPClients(cfg)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	store := repository.New(db)
	index := search.New(db)
	reconciler := reconcile.New(store, index)
	q := queue.NewManager()
	auto := autodownload.NewService(q, store)

	executor := deps.Executor
	closeExecutor := func() {}
	if executor == nil {
		httpExec := downloads.NewHTTPExecutor(downloads.ExecutorOptions{
			Root:             cfg.DownloadRoot,
			TmpDir:           cfg.TmpDir,
			UserAgent:        cfg.UserAgent,
			ProgressInterval: time.Duration(cfg.ProgressIntervalMs) * time.Millisecond,
			TagDownloads:     cfg.TagDownloads,
		}, downloadClient)
		executor = httpExec
		closeExecutor = httpExec.Close
	}

	orchestrator := downloads.NewOrchestrator(q, auto, executor, store, downloads.Options{
		Workers:    cfg.ParallelDownloads,
		RetryLimit: cfg.RetryCount,
		BackoffMax: time.Duration(cfg.RetryBackoffMaxSec) * time.Second,
		Sleep:      deps.Sleep,
	})
	source := feeds.NewSource(feedClient, cfg.UserAgent)

	application := &App{
		config:        cfg,
		configPath:    configPath,
		db:            db,
		store:         store,
		commands:      make(map[string]*command),
		subscriptions: subscriptions.NewService(store, reconciler, source, orchestrator, cfg.RefreshConcurrency),
		episodes:      episodes.NewService(store, index),
		auto:          auto,
		downloads:     orchestrator,
		closeExecutor: closeExecutor,
		now:           now,
	}
	application.registerCommands()
	return application
}

func newHTTPClients(cfg config.Config) (feedClient, downloadClient *http.Client) {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.TLSVerify},
	}
	if proxyURL := strings.TrimSpace(cfg.Proxy); proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		} else {
			logging.Warn("ignoring invalid proxy", "proxy", proxyURL, "err", err)
		}
	}
	// Media transfers can run far longer than any feed request.
	return &http.Client{Timeout: 15 * time.Second, Transport: transport}, &http.Client{Transport: transport}
}

func (a *App) Config() config.Config {
	return a.config
}

// Queue exposes the download queue for live monitoring.
func (a *App) Queue() *queue.Manager {
	return a.downloads.Queue()
}

func (a *App) CommandNames() []string {
	names := make([]string, 0, len(a.commands))
	for name := range a.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialize restores the download queue, starts background downloading and
// rebuilds the search index.
func (a *App) Initialize(ctx context.Context) error {
	if err := a.downloads.Start(ctx); err != nil {
		return fmt.Errorf("start downloads: %w", err)
	}
	if err := a.episodes.Reindex(ctx); err != nil {
		logging.Warn("rebuild search index", "err", err)
	}
	return nil
}

func (a *App) Close() error {
	a.downloads.Stop()
	a.closeExecutor()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *App) Execute(ctx context.Context, input string) (CommandResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return CommandResult{}, nil
	}

	args, err := shellquote.Split(input)
	if err != nil {
		return CommandResult{}, err
	}
	if len(args) == 0 {
		return CommandResult{}, nil
	}

	cmdName := strings.ToLower(args[0])
	cmd, ok := a.commands[cmdName]
	if !ok {
		msg := fmt.Sprintf("unknown command: %s", args[0])
		if suggestion, ok := fuzzy.Suggest(cmdName, a.CommandNames()); ok {
			msg += fmt.Sprintf(". Did you mean '%s'?", suggestion)
		}
		return CommandResult{Message: msg}, nil
	}

	return cmd.handler(ctx, args[1:])
}

func (a *App) registerCommands() {
	a.registerCommand("help", "help", "Show available commands", a.helpCommand, "?")
	a.registerCommand("exit", "exit", "Exit the application", a.exitCommand, "quit")
	a.registerCommand("config", "config show | set <key> <value>", "Show or change the configuration", a.configCommand)
	a.registerCommand("subscribe", "subscribe <feed_url>", "Subscribe to a podcast feed", a.subscribeCommand, "sub")
	a.registerCommand("unsubscribe", "unsubscribe <podcast_id>", "Remove a podcast and its episodes", a.unsubscribeCommand, "unsub")
	a.registerCommand("refresh", "refresh [podcast_id]", "Fetch feeds and merge new episodes", a.refreshCommand)
	a.registerCommand("list", "list [filter]", "List subscriptions (optionally filtered)", a.listCommand, "ls")
	a.registerCommand("episodes", "episodes <podcast_id>", "List a podcast's episodes", a.episodesCommand, "e")
	a.registerCommand("search", "search <query>", "Search episode titles and descriptions", a.searchCommand, "s")
	a.registerCommand("queue", "queue", "Show the download queue", a.queueCommand, "q")
	a.registerCommand("download", "download <episode_id> [priority]", "Queue an episode for download", a.downloadCommand, "d")
	a.registerCommand("pause", "pause <task_id>", "Pause a running download", a.taskCommand(a.downloads.Pause, "Paused"))
	a.registerCommand("resume", "resume <task_id>", "Resume a paused download", a.taskCommand(a.downloads.Resume, "Resumed"))
	a.registerCommand("cancel", "cancel <task_id>", "Cancel a download and remove its files", a.taskCommand(a.downloads.Cancel, "Cancelled"))
	a.registerCommand("retry", "retry <task_id>", "Retry a failed download", a.taskCommand(func(_ context.Context, id string) error {
		return a.downloads.Retry(id)
	}, "Retrying"))
	a.registerCommand("remove", "remove <task_id>", "Drop a task from the queue", a.taskCommand(a.downloads.Remove, "Removed"), "rm")
	a.registerCommand("reorder", "reorder <task_id>...", "Move tasks to the front in the given order", a.reorderCommand)
	a.registerCommand("clear", "clear", "Drop completed and cancelled tasks", a.clearCommand)
	a.registerCommand("autodownload", "autodownload <podcast_id> [on|off]", "Show or set auto-download for a podcast", a.autoDownloadCommand, "auto")
	a.registerCommand("policy", "policy <podcast_id> keep <n> | older <days>", "Evict downloaded episodes by retention rule", a.policyCommand)
	a.registerCommand("mark", "mark <episode_id> played|favorite|bookmark|archive [off]", "Set or clear an episode flag", a.markCommand)
	a.registerCommand("rate", "rate <episode_id> <1-5|none>", "Rate an episode", a.rateCommand)
	a.registerCommand("import", "import <file>", "Import subscriptions from an OPML file", a.importCommand)
	a.registerCommand("export", "export <file>", "Export subscriptions to an OPML file", a.exportCommand)
}

func (a *App) registerCommand(name, usage, summary string, handler commandHandler, aliases ...string) {
	cmd := &command{name: name, usage: usage, summary: summary, handler: handler}
	for _, alias := range append([]string{name}, aliases...) {
		a.commands[alias] = cmd
	}
}

func (a *App) helpCommand(_ context.Context, _ []string) (CommandResult, error) {
	seen := make(map[*command]bool)
	cmds := make([]*command, 0, len(a.commands))
	for _, cmd := range a.commands {
		if !seen[cmd] {
			seen[cmd] = true
			cmds = append(cmds, cmd)
		}
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].name < cmds[j].name })

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, cmd := range cmds {
		fmt.Fprintf(&b, "  %-58s %s\n", cmd.usage, cmd.summary)
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (a *App) exitCommand(_ context.Context, _ []string) (CommandResult, error) {
	return CommandResult{Quit: true}, nil
}

func (a *App) configCommand(_ context.Context, args []string) (CommandResult, error) {
	const usage = "Usage: config show | config set <key> <value>"
	if len(args) == 0 {
		return CommandResult{Message: usage}, nil
	}
	switch strings.ToLower(args[0]) {
	case "show":
		data, err := yaml.Marshal(a.config)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{Message: strings.TrimRight(string(data), "\n")}, nil
	case "set":
		if len(args) < 2 {
			return CommandResult{Message: fmt.Sprintf("%s\nKeys: %s", usage, strings.Join(config.EditableKeys(), ", "))}, nil
		}
		updated := a.config
		if err := updated.Set(args[1], strings.Join(args[2:], " ")); err != nil {
			if errors.Is(err, config.ErrUnknownKey) {
				msg := fmt.Sprintf("Unknown config key %s.", args[1])
				if suggestion, ok := fuzzy.Suggest(args[1], config.EditableKeys()); ok {
					msg += fmt.Sprintf(" Did you mean '%s'?", suggestion)
				}
				return CommandResult{Message: msg}, nil
			}
			return CommandResult{Message: err.Error()}, nil
		}
		if err := config.Save(a.configPath, updated); err != nil {
			return CommandResult{}, err
		}
		a.config = updated
		return CommandResult{Message: fmt.Sprintf("Saved %s. Restart podstash to apply it.", args[1])}, nil
	default:
		return CommandResult{Message: usage}, nil
	}
}

func (a *App) subscribeCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: subscribe <feed_url>"}, nil
	}
	result, err := a.subscriptions.Subscribe(ctx, args[0])
	switch {
	case errors.Is(err, subscriptions.ErrMissingFeedURL):
		return CommandResult{Message: "Feed URL cannot be empty."}, nil
	case errors.Is(err, subscriptions.ErrAlreadySubscribed):
		return CommandResult{Message: fmt.Sprintf("Already subscribed to %s.", result.Title)}, nil
	case err != nil:
		return CommandResult{}, err
	}

	msg := fmt.Sprintf("Subscribed to %s [%s] (%d episodes", result.Title, result.PodcastID, result.Added)
	if result.Queued > 0 {
		msg += fmt.Sprintf(", %d queued", result.Queued)
	}
	return CommandResult{Message: msg + ")."}, nil
}

func (a *App) unsubscribeCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: unsubscribe <podcast_id>"}, nil
	}
	podcastID := strings.TrimSpace(args[0])
	if _, err := a.downloads.ReleasePodcast(ctx, podcastID); err != nil {
		return CommandResult{}, fmt.Errorf("remove downloads of %s: %w", podcastID, err)
	}

	ok, err := a.subscriptions.Unsubscribe(ctx, podcastID)
	if err != nil {
		if errors.Is(err, subscriptions.ErrMissingPodcastID) {
			return CommandResult{Message: "Podcast ID cannot be empty."}, nil
		}
		return CommandResult{}, err
	}
	if !ok {
		return CommandResult{Message: "No subscription found for that podcast."}, nil
	}
	return CommandResult{Message: "Subscription removed."}, nil
}

func (a *App) refreshCommand(ctx context.Context, args []string) (CommandResult, error) {
	switch len(args) {
	case 0:
		return a.RefreshAll(ctx)
	case 1:
	default:
		return CommandResult{Message: "Usage: refresh [podcast_id]"}, nil
	}

	result, err := a.subscriptions.Refresh(ctx, args[0])
	if errors.Is(err, subscriptions.ErrNotSubscribed) {
		return CommandResult{Message: "No subscription found for that podcast."}, nil
	}
	if err != nil {
		logging.Warn("refresh feed", "podcast", args[0], "err", err)
		return CommandResult{Message: msgPartialRefresh}, nil
	}

	msg := fmt.Sprintf("%s: %d new, %d updated, %d orphaned", result.Title, result.Merge.Added, result.Merge.Updated, result.Merge.Orphaned)
	if result.Queued > 0 {
		msg += fmt.Sprintf(", %d queued", result.Queued)
	}
	msg += "."
	if evicted := a.applyDefaultPolicy(ctx, result.PodcastID); evicted > 0 {
		msg += fmt.Sprintf(" Evicted %d downloads.", evicted)
	}
	if result.Merge.Skipped > 0 {
		msg += " " + msgPartialRefresh
	}
	return CommandResult{Message: msg}, nil
}

// RefreshAll refreshes every subscription and applies the default retention
// policy to each.
func (a *App) RefreshAll(ctx context.Context) (CommandResult, error) {
	summary, err := a.subscriptions.RefreshAll(ctx)
	if err != nil {
		return CommandResult{}, err
	}

	evicted := 0
	podcasts, err := a.subscriptions.Subscriptions(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	for _, p := range podcasts {
		evicted += a.applyDefaultPolicy(ctx, p.ID)
	}

	msg := fmt.Sprintf("Refreshed %d podcasts: %d new episodes, %d orphaned", summary.Refreshed, summary.Added, summary.Orphaned)
	if summary.Queued > 0 {
		msg += fmt.Sprintf(", %d queued", summary.Queued)
	}
	msg += "."
	if evicted > 0 {
		msg += fmt.Sprintf(" Evicted %d downloads.", evicted)
	}
	if summary.Partial() {
		msg += " " + msgPartialRefresh
	}
	return CommandResult{Message: msg}, nil
}

func (a *App) applyDefaultPolicy(ctx context.Context, podcastID string) int {
	p, ok, err := a.config.Policy(a.now())
	if err != nil {
		logging.Warn("invalid default policy", "policy", a.config.DefaultPolicy, "err", err)
		return 0
	}
	if !ok {
		return 0
	}
	evicted, err := a.downloads.ApplyPolicy(ctx, podcastID, p)
	if err != nil {
		logging.Warn("apply default policy", "podcast", podcastID, "err", err)
	}
	return evicted
}

func (a *App) listCommand(ctx context.Context, args []string) (CommandResult, error) {
	podcasts, err := a.subscriptions.Subscriptions(ctx)
	if err != nil {
		return CommandResult{}, err
	}
	if len(podcasts) == 0 {
		return CommandResult{Message: "No subscriptions yet."}, nil
	}

	if len(args) > 0 {
		filter := strings.Join(args, " ")
		filtered := podcasts[:0]
		for _, p := range podcasts {
			if fuzzy.Matches(p.Title, filter) || fuzzy.Matches(p.Author, filter) {
				filtered = append(filtered, p)
			}
		}
		podcasts = filtered
		if len(podcasts) == 0 {
			return CommandResult{Message: fmt.Sprintf("No subscriptions matching '%s'.", filter)}, nil
		}
	}

	var b strings.Builder
	for _, p := range podcasts {
		auto := ""
		if a.auto.EnabledFor(p) {
			auto = " [auto]"
		}
		downloaded := 0
		for _, ep := range p.Episodes {
			if ep.DownloadStatus == domain.DownloadDone {
				downloaded++
			}
		}
		fmt.Fprintf(&b, "%s  %s (%d episodes, %d downloaded)%s\n", p.ID, p.Title, len(p.Episodes), downloaded, auto)
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (a *App) episodesCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: episodes <podcast_id>"}, nil
	}
	podcast, list, err := a.episodes.List(ctx, args[0])
	if errors.Is(err, repository.ErrNotFound) {
		return CommandResult{Message: "Podcast not found."}, nil
	}
	if err != nil {
		return CommandResult{}, err
	}
	if len(list) == 0 {
		return CommandResult{Message: fmt.Sprintf("%s has no episodes.", podcast.Title)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", podcast.Title)
	for _, ep := range list {
		date := "          "
		if ep.PublishedAt != nil {
			date = ep.PublishedAt.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "  %s  %-13s %s  %s%s\n", date, ep.DownloadStatus, ep.ID, ep.Title, episodeFlags(ep))
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func episodeFlags(ep domain.Episode) string {
	var flags []string
	if ep.IsPlayed {
		flags = append(flags, "played")
	}
	if ep.IsFavorited {
		flags = append(flags, "favorite")
	}
	if ep.IsBookmarked {
		flags = append(flags, "bookmark")
	}
	if ep.IsArchived {
		flags = append(flags, "archived")
	}
	if ep.Rating != nil {
		flags = append(flags, fmt.Sprintf("%d/5", *ep.Rating))
	}
	if ep.IsOrphaned {
		flags = append(flags, "orphaned")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}

func (a *App) searchCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: "Usage: search <query>"}, nil
	}
	results, err := a.episodes.Search(ctx, strings.Join(args, " "), 25)
	if err != nil {
		return CommandResult{}, err
	}
	if len(results) == 0 {
		return CommandResult{Message: "No episodes found."}, nil
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "%s  %s: %s\n", r.EpisodeID, r.PodcastTitle, r.Title)
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (a *App) queueCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) != 0 {
		return CommandResult{Message: "Usage: queue"}, nil
	}
	tasks := a.downloads.Queue().GetCurrentQueue()
	if len(tasks) == 0 {
		return CommandResult{Message: "Download queue is empty."}, nil
	}
	var b strings.Builder
	for _, task := range tasks {
		fmt.Fprintf(&b, "%s  %-11s p%-2d %3.0f%%  %s", task.ID, task.State, task.Priority, task.Progress*100, task.Title)
		if task.State == domain.TaskFailed {
			fmt.Fprintf(&b, "  %s", msgRetryAvailable)
		}
		b.WriteString("\n")
	}
	return CommandResult{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (a *App) downloadCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) < 1 || len(args) > 2 {
		return CommandResult{Message: "Usage: download <episode_id> [priority]"}, nil
	}
	priority := domain.PriorityHigh
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return CommandResult{Message: "Priority must be a number."}, nil
		}
		priority = n
	}

	task, err := a.downloads.Enqueue(ctx, args[0], priority)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CommandResult{Message: "Episode not found."}, nil
	case errors.Is(err, downloads.ErrNoAudioURL):
		return CommandResult{Message: "Episode has no audio to download."}, nil
	case errors.Is(err, downloads.ErrAlreadyQueued):
		return CommandResult{Message: fmt.Sprintf("Episode is already queued as %s.", task.ID)}, nil
	case err != nil:
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Queued %s as %s.", task.Title, task.ID)}, nil
}

func (a *App) taskCommand(action func(context.Context, string) error, verb string) commandHandler {
	return func(ctx context.Context, args []string) (CommandResult, error) {
		if len(args) != 1 {
			return CommandResult{Message: fmt.Sprintf("Usage: %s <task_id>", strings.ToLower(verb))}, nil
		}
		taskID := strings.TrimSpace(args[0])
		err := action(ctx, taskID)
		var transition *queue.TransitionError
		switch {
		case errors.Is(err, queue.ErrTaskNotFound):
			return CommandResult{Message: "Task not found."}, nil
		case errors.As(err, &transition):
			return CommandResult{Message: fmt.Sprintf("Task %s is %s.", taskID, transition.From)}, nil
		case err != nil:
			logging.Warn("task command", "task", taskID, "err", err)
			return CommandResult{Message: msgRetryAvailable}, nil
		}
		return CommandResult{Message: fmt.Sprintf("%s %s.", verb, taskID)}, nil
	}
}

func (a *App) reorderCommand(_ context.Context, args []string) (CommandResult, error) {
	if len(args) == 0 {
		return CommandResult{Message: "Usage: reorder <task_id>..."}, nil
	}
	a.downloads.Reorder(args)
	return CommandResult{Message: "Queue reordered."}, nil
}

func (a *App) clearCommand(_ context.Context, _ []string) (CommandResult, error) {
	n := a.downloads.Queue().ClearFinished()
	return CommandResult{Message: fmt.Sprintf("Cleared %d finished tasks.", n)}, nil
}

func (a *App) autoDownloadCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) < 1 || len(args) > 2 {
		return CommandResult{Message: "Usage: autodownload <podcast_id> [on|off]"}, nil
	}
	podcast, found, err := a.store.Find(ctx, strings.TrimSpace(args[0]))
	if err != nil {
		return CommandResult{}, err
	}
	if !found {
		return CommandResult{Message: "Podcast not found."}, nil
	}

	if len(args) == 1 {
		state := "off"
		if a.auto.EnabledFor(podcast) {
			state = "on"
		}
		return CommandResult{Message: fmt.Sprintf("Auto-download for %s is %s.", podcast.Title, state)}, nil
	}

	var enabled bool
	switch strings.ToLower(args[1]) {
	case "on", "true", "yes":
		enabled = true
	case "off", "false", "no":
	default:
		return CommandResult{Message: "Usage: autodownload <podcast_id> [on|off]"}, nil
	}
	if err := a.auto.SetAutoDownload(ctx, enabled, podcast.ID); err != nil {
		return CommandResult{}, err
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	return CommandResult{Message: fmt.Sprintf("Auto-download %s for %s.", state, podcast.Title)}, nil
}

func (a *App) policyCommand(ctx context.Context, args []string) (CommandResult, error) {
	usage := CommandResult{Message: "Usage: policy <podcast_id> keep <n> | older <days>"}
	if len(args) != 3 {
		return usage, nil
	}
	n, err := strconv.Atoi(args[2])
	if err != nil || n < 0 {
		return usage, nil
	}

	var p domain.StoragePolicy
	switch strings.ToLower(args[1]) {
	case "keep":
		p = domain.KeepLatest(n)
	case "older":
		p = domain.DeleteOlderThan(a.now().AddDate(0, 0, -n))
	default:
		return usage, nil
	}

	evicted, err := a.downloads.ApplyPolicy(ctx, strings.TrimSpace(args[0]), p)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Evicted %d downloaded episodes.", evicted)}, nil
}

func (a *App) markCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) < 2 || len(args) > 3 || (len(args) == 3 && strings.ToLower(args[2]) != "off") {
		return CommandResult{Message: "Usage: mark <episode_id> played|favorite|bookmark|archive [off]"}, nil
	}
	on := len(args) == 2
	ep, err := a.episodes.SetMark(ctx, args[0], episodes.Mark(strings.ToLower(args[1])), on)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CommandResult{Message: "Episode not found."}, nil
	case errors.Is(err, episodes.ErrUnknownMark):
		return CommandResult{Message: fmt.Sprintf("Unknown mark %q.", args[1])}, nil
	case err != nil:
		return CommandResult{}, err
	}
	if on {
		return CommandResult{Message: fmt.Sprintf("Marked %s as %s.", ep.Title, args[1])}, nil
	}
	return CommandResult{Message: fmt.Sprintf("Cleared %s on %s.", args[1], ep.Title)}, nil
}

func (a *App) rateCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 2 {
		return CommandResult{Message: "Usage: rate <episode_id> <1-5|none>"}, nil
	}
	var rating *int
	if strings.ToLower(args[1]) != "none" {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return CommandResult{Message: "Rating must be 1-5 or none."}, nil
		}
		rating = &n
	}
	ep, err := a.episodes.SetRating(ctx, args[0], rating)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return CommandResult{Message: "Episode not found."}, nil
	case errors.Is(err, repository.ErrInvalidRating):
		return CommandResult{Message: "Rating must be 1-5 or none."}, nil
	case err != nil:
		return CommandResult{}, err
	}
	if rating == nil {
		return CommandResult{Message: fmt.Sprintf("Cleared rating on %s.", ep.Title)}, nil
	}
	return CommandResult{Message: fmt.Sprintf("Rated %s %d/5.", ep.Title, *rating)}, nil
}

func (a *App) exportCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: export <file>"}, nil
	}
	count, err := a.ExportOPML(ctx, args[0])
	if errors.Is(err, subscriptions.ErrNoSubscriptionsToExport) {
		return CommandResult{Message: "No subscriptions to export."}, nil
	}
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{Message: fmt.Sprintf("Exported %d subscriptions.", count)}, nil
}

func (a *App) importCommand(ctx context.Context, args []string) (CommandResult, error) {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: import <file>"}, nil
	}
	result, err := a.ImportOPML(ctx, args[0])
	if errors.Is(err, subscriptions.ErrNoSubscriptionsInOPML) {
		return CommandResult{Message: "No subscriptions found in that file."}, nil
	}
	if err != nil {
		return CommandResult{}, err
	}
	msg := fmt.Sprintf("Imported %d subscriptions", result.Imported)
	if result.Skipped > 0 {
		msg += fmt.Sprintf(", skipped %d", result.Skipped)
	}
	msg += "."
	if len(result.Errors) > 0 {
		for _, e := range result.Errors {
			logging.Warn("import subscription", "err", e)
		}
		msg += " " + msgPartialRefresh
	}
	return CommandResult{Message: msg}, nil
}

func (a *App) ExportOPML(ctx context.Context, filePath string) (int, error) {
	return a.subscriptions.ExportOPML(ctx, filePath)
}

func (a *App) ImportOPML(ctx context.Context, filePath string) (subscriptions.ImportResult, error) {
	return a.subscriptions.ImportOPML(ctx, filePath)
}
