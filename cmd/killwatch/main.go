package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"killwatch/config"
	"killwatch/internal/esi"
	"killwatch/internal/input"
	inputredis "killwatch/internal/input/redis"
	"killwatch/internal/input/redisq"
	"killwatch/internal/logger"
	"killwatch/internal/notify"
	"killwatch/internal/output/killclickhouse"
	"killwatch/internal/output/killjson"
	"killwatch/internal/output/notifyhttp"
	"killwatch/internal/output/notifyjson"
	"killwatch/internal/pipeline"
	"killwatch/internal/presence"
	"killwatch/internal/profile"
	"killwatch/internal/rules"
	"killwatch/internal/scan"
	"killwatch/internal/status"
	"killwatch/internal/store"
	"killwatch/internal/threat"
	"killwatch/internal/universe"
	"killwatch/pkg/models"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("killwatch.yml"); err == nil {
		return "killwatch.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "killwatch.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "killwatch.yml"
}

func applyDefaults(cfg *config.Config) {
	kw := &cfg.KillWatch

	if kw.Feed.Mode == "" {
		kw.Feed.Mode = "redisq"
	}
	if kw.Feed.URL == "" {
		kw.Feed.URL = "https://redisq.zkillboard.com/listen.php"
	}
	if kw.Feed.QueueID == "" {
		kw.Feed.QueueID = "killwatch"
	}
	if kw.Feed.Redis.Addr == "" {
		kw.Feed.Redis.Addr = "127.0.0.1:6379"
	}
	if kw.Feed.Redis.Key == "" {
		kw.Feed.Redis.Key = "killfeed"
	}
	if kw.Feed.Redis.BlockTimeout == 0 {
		kw.Feed.Redis.BlockTimeout = 5 * time.Second
	}

	if kw.Store.Path == "" {
		kw.Store.Path = "killwatch.db"
	}

	if kw.Presence.Mode == "" {
		kw.Presence.Mode = "memory"
	}
	if kw.Presence.TTL <= 0 {
		kw.Presence.TTL = time.Hour
	}

	if kw.Universe.Mode == "" {
		kw.Universe.Mode = "esi"
	}
	if kw.Archive.Mode == "" {
		kw.Archive.Mode = "none"
	}

	if kw.Status.Addr == "" {
		kw.Status.Addr = ":8080"
	}
	if kw.Logging.Level == "" {
		kw.Logging.Level = "info"
	}
}

func runWatch(args []string) {
	configArg := ""
	if len(args) > 0 {
		configArg = args[0]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		log.Fatalf("Failed to apply environment overrides: %v", err)
	}
	applyDefaults(cfg)
	if problems := config.Validate(cfg); len(problems) > 0 {
		for _, p := range problems {
			log.Printf("Config error: %s", p)
		}
		log.Fatalf("Invalid configuration: %d problems", len(problems))
	}
	kw := &cfg.KillWatch

	if err := logger.Init(kw.Logging.Enabled, kw.Logging.Level, kw.Logging.File, kw.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("KillWatch starting")
	logger.Infof("Config loaded from: %s", configPath)

	var source input.Source
	switch kw.Feed.Mode {
	case "redis":
		c, err := inputredis.NewConsumer(inputredis.Config{
			Addr:         kw.Feed.Redis.Addr,
			Password:     kw.Feed.Redis.Password,
			DB:           kw.Feed.Redis.DB,
			Key:          kw.Feed.Redis.Key,
			BlockTimeout: kw.Feed.Redis.BlockTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis feed consumer: %v", err)
			log.Fatalf("Failed to create Redis feed consumer: %v", err)
		}
		source = c
		logger.Infof("Feed mode: redis (%s key %s)", kw.Feed.Redis.Addr, kw.Feed.Redis.Key)
	default:
		c, err := redisq.NewClient(redisq.Config{
			URL:           kw.Feed.URL,
			QueueID:       kw.Feed.QueueID,
			TTW:           kw.Feed.TTW,
			Timeout:       kw.Feed.Timeout,
			UserAgent:     kw.ESI.UserAgent,
			RateLimitWait: kw.Feed.RateLimitWait,
		})
		if err != nil {
			logger.Errorf("Failed to create feed client: %v", err)
			log.Fatalf("Failed to create feed client: %v", err)
		}
		source = c
		logger.Infof("Feed mode: redisq (%s queue %s)", kw.Feed.URL, kw.Feed.QueueID)
	}

	st, err := store.Open(kw.Store.Path)
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		log.Fatalf("Failed to open store: %v", err)
	}
	logger.Infof("Store opened: %s", kw.Store.Path)

	detail := esi.NewClient(esi.Config{
		BaseURL:    kw.ESI.BaseURL,
		Timeout:    kw.ESI.Timeout,
		MaxRetries: kw.ESI.MaxRetries,
		UserAgent:  kw.ESI.UserAgent,
	})

	cache := threat.NewCache(threat.Config{
		Window:         kw.Threat.Window,
		LongWindow:     kw.Threat.LongWindow,
		MinKills:       kw.Threat.MinKills,
		HighKills:      kw.Threat.HighKills,
		OverlapMedium:  kw.Threat.OverlapMedium,
		OverlapHigh:    kw.Threat.OverlapHigh,
		Cooldown:       kw.Threat.Cooldown,
		MaxKills:       kw.Threat.MaxKills,
		SmartbombTypes: kw.Threat.SmartbombTypes,
	})

	var engine rules.Engine
	if kw.Rules.Enabled {
		if strings.TrimSpace(kw.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(kw.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load rules from %s: %v", kw.Rules.Path, err)
				log.Fatalf("Failed to load rules: %v", err)
			}
			engine = sigmaEngine
			logger.Infof("Rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedDatasource,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible rules loaded; rule tagging is effectively disabled")
			}
		}
	}

	var idx presence.Index
	switch kw.Presence.Mode {
	case "redis":
		r, err := presence.NewRedisIndex(presence.RedisConfig{
			Addr:      kw.Presence.Redis.Addr,
			Password:  kw.Presence.Redis.Password,
			DB:        kw.Presence.Redis.DB,
			KeyPrefix: kw.Presence.Redis.Key,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis presence index: %v", err)
			log.Fatalf("Failed to create Redis presence index: %v", err)
		}
		idx = r
		logger.Infof("Presence mode: redis (%s)", kw.Presence.Redis.Addr)
	default:
		idx = presence.NewMemoryIndex()
		logger.Infof("Presence mode: memory")
	}

	var oracle universe.Oracle
	switch kw.Universe.Mode {
	case "static":
		o, err := universe.LoadStaticOracle(kw.Universe.MapFile)
		if err != nil {
			logger.Errorf("Failed to load universe map: %v", err)
			log.Fatalf("Failed to load universe map: %v", err)
		}
		oracle = o
		logger.Infof("Universe mode: static (%s)", kw.Universe.MapFile)
	default:
		oracle = universe.NewRouteOracle(universe.RouteConfig{
			BaseURL:   kw.Universe.BaseURL,
			Timeout:   kw.Universe.Timeout,
			UserAgent: kw.ESI.UserAgent,
			CacheSize: kw.Universe.CacheSize,
			Flag:      kw.Universe.Flag,
		})
		logger.Infof("Universe mode: esi")
	}

	throttle := profile.NewThrottle(kw.Notify.ThrottleWindow)
	evaluator := profile.NewEvaluator(oracle, cache, throttle)
	if strings.TrimSpace(kw.Profiles.Path) != "" {
		set, err := profile.LoadFile(kw.Profiles.Path)
		if err != nil {
			logger.Errorf("Failed to load profiles from %s: %v", kw.Profiles.Path, err)
			log.Fatalf("Failed to load profiles: %v", err)
		}
		evaluator.SetProfiles(set)
		logger.Infof("Profiles loaded: %d profiles from %s", len(set.Profiles), kw.Profiles.Path)
	} else {
		logger.Warnf("No profiles file configured; notifications disabled")
	}

	senders := make(map[string]notify.Sender, len(kw.Notify.Destinations))
	aliases := make(map[string]string)
	endpoints := make(map[string]string)
	names := make([]string, 0, len(kw.Notify.Destinations))
	for name := range kw.Notify.Destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dest := kw.Notify.Destinations[name]
		var key string
		switch dest.Mode {
		case "webhook":
			key = "webhook|" + dest.URL
		case "file":
			key = "file|" + dest.Path
		}
		if canonical, ok := endpoints[key]; ok {
			aliases[name] = canonical
			logger.Infof("Destination %s shares the endpoint of %s", name, canonical)
			continue
		}
		switch dest.Mode {
		case "webhook":
			s, err := notifyhttp.NewSender(notifyhttp.Config{
				URL:     dest.URL,
				Timeout: dest.Timeout,
				Headers: dest.Headers,
			})
			if err != nil {
				logger.Errorf("Failed to create webhook sender %s: %v", name, err)
				log.Fatalf("Failed to create webhook sender %s: %v", name, err)
			}
			senders[name] = s
			logger.Infof("Destination %s: webhook (%s)", name, dest.URL)
		case "file":
			s, err := notifyjson.NewSender(dest.Path)
			if err != nil {
				logger.Errorf("Failed to create file sender %s: %v", name, err)
				log.Fatalf("Failed to create file sender %s: %v", name, err)
			}
			senders[name] = s
			logger.Infof("Destination %s: file (%s)", name, dest.Path)
		}
		endpoints[key] = name
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		QueueSize:       kw.Notify.QueueSize,
		RetryAttempts:   kw.Notify.RetryAttempts,
		RetryBackoff:    kw.Notify.RetryBackoff,
		SendTimeout:     kw.Notify.SendTimeout,
		RollupThreshold: kw.Notify.RollupThreshold,
		RollupMax:       kw.Notify.RollupMax,
		DrainTimeout:    kw.Notify.DrainTimeout,
	}, senders, aliases)

	var archive pipeline.KillWriter
	switch kw.Archive.Mode {
	case "none":
	case "file":
		w, err := killjson.NewWriter(kw.Archive.File.Path)
		if err != nil {
			logger.Errorf("Failed to create kill archive writer: %v", err)
			log.Fatalf("Failed to create kill archive writer: %v", err)
		}
		archive = w
		logger.Infof("Archive mode: file (%s)", kw.Archive.File.Path)
	case "clickhouse":
		w, err := killclickhouse.NewWriter(killclickhouse.Config{
			URL:      kw.Archive.ClickHouse.URL,
			Database: kw.Archive.ClickHouse.Database,
			Table:    kw.Archive.ClickHouse.Table,
			Username: kw.Archive.ClickHouse.Username,
			Password: kw.Archive.ClickHouse.Password,
			Timeout:  kw.Archive.ClickHouse.Timeout,
			Headers:  kw.Archive.ClickHouse.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create ClickHouse archive writer: %v", err)
			log.Fatalf("Failed to create ClickHouse archive writer: %v", err)
		}
		archive = w
		logger.Infof("Archive mode: clickhouse (%s/%s.%s)", kw.Archive.ClickHouse.URL, kw.Archive.ClickHouse.Database, kw.Archive.ClickHouse.Table)
	}

	filter := pipeline.NewFilter(pipeline.FilterConfig{
		Enabled:        kw.Filter.Enabled,
		Radius:         kw.Filter.Radius,
		PresenceWindow: kw.Filter.PresenceWindow,
	}, idx, oracle, evaluator)

	pipe := pipeline.New(pipeline.Config{
		QueueID:         kw.Feed.QueueID,
		PollInterval:    kw.Feed.PollInterval,
		RateLimitWait:   kw.Feed.RateLimitWait,
		ErrorWindow:     kw.Feed.ErrorWindow,
		ErrorThreshold:  kw.Feed.ErrorThreshold,
		StaleAfter:      kw.Feed.StaleAfter,
		CursorEvery:     kw.Feed.CursorEvery,
		IngestQueueSize: kw.Pipeline.IngestQueueSize,
		FetchQueueSize:  kw.Pipeline.FetchQueueSize,
		FetchWorkers:    kw.Pipeline.FetchWorkers,
		WriteBatchSize:  kw.Pipeline.WriteBatchSize,
		FlushInterval:   kw.Pipeline.FlushInterval,
		DrainTimeout:    kw.Pipeline.DrainTimeout,
		Retention:       kw.Store.Retention,
		CleanupInterval: kw.Store.CleanupInterval,
		PresenceTTL:     kw.Presence.TTL,
		ProfilesPath:    kw.Profiles.Path,
		RefreshInterval: kw.Profiles.RefreshInterval,
	}, pipeline.Deps{
		Source:     source,
		Detail:     detail,
		Store:      st,
		Threat:     cache,
		Rules:      engine,
		Presence:   idx,
		Filter:     filter,
		Evaluator:  evaluator,
		Throttle:   throttle,
		Dispatcher: dispatcher,
		Archive:    archive,
	})

	var statusSrv *status.Server
	if kw.Status.Enabled {
		statusSrv = status.NewServer(kw.Status.Addr, pipe)
		statusSrv.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher.Start(ctx)

	done := make(chan error, 1)
	go func() {
		done <- pipe.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		logger.Errorf("Pipeline error: %v", err)
	}

	if err := dispatcher.Close(); err != nil {
		logger.Errorf("Error closing dispatcher: %v", err)
	}
	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}
	if statusSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusSrv.Close(shutdownCtx); err != nil {
			logger.Errorf("Error closing status server: %v", err)
		}
		shutdownCancel()
	}
	if err := idx.Close(); err != nil {
		logger.Errorf("Error closing presence index: %v", err)
	}
	if err := st.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}

	logger.Infof("KillWatch stopped")
}

func runScan(args []string) int {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	input := fs.String("input", "", "Kill JSONL input path (archive export)")
	dbPath := fs.String("db", "", "Kill store path (scans stored kills instead of a JSONL file)")
	since := fs.Duration("since", 24*time.Hour, "Look-back window for store scans")
	from := fs.String("from", "", "Range start, RFC3339 (overrides -since)")
	to := fs.String("to", "", "Range end, RFC3339 (defaults to now)")
	output := fs.String("output", "output/camp_sessions.jsonl", "Camp session JSONL output path")
	window := fs.Duration("window", 0, "Camp clustering window (0 uses the built-in default)")
	minKills := fs.Int("min-kills", 0, "Minimum kills for a camp (0 uses the built-in default)")
	sessionGap := fs.Duration("session-gap", 0, "Quiet stretch that closes a session (0 uses the clustering window)")
	maxSessions := fs.Int("max-sessions", 1000, "Maximum number of sessions to emit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	kills, err := loadScanKills(*input, *dbPath, *since, *from, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load kills: %v\n", err)
		return 1
	}

	cfg := scan.Config{
		Threat:      threat.Config{Window: *window, MinKills: *minKills},
		SessionGap:  *sessionGap,
		MaxSessions: *maxSessions,
	}
	sessions := scan.Sweep(kills, cfg)

	if err := writeJSONLines(*output, sessions); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write sessions: %v\n", err)
		return 1
	}

	fmt.Printf("scanned kills=%d sessions=%d output=%s\n", len(kills), len(sessions), *output)
	return 0
}

func loadScanKills(input, dbPath string, since time.Duration, fromArg, toArg string) ([]*models.ProcessedKill, error) {
	switch {
	case strings.TrimSpace(input) != "":
		return scan.LoadKillsJSONL(input)
	case strings.TrimSpace(dbPath) != "":
		to := time.Now().UTC()
		if strings.TrimSpace(toArg) != "" {
			t, err := time.Parse(time.RFC3339, toArg)
			if err != nil {
				return nil, fmt.Errorf("parse -to: %w", err)
			}
			to = t
		}
		from := to.Add(-since)
		if strings.TrimSpace(fromArg) != "" {
			t, err := time.Parse(time.RFC3339, fromArg)
			if err != nil {
				return nil, fmt.Errorf("parse -from: %w", err)
			}
			from = t
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		return st.KillsBetween(from, to)
	default:
		return nil, fmt.Errorf("either -input or -db is required")
	}
}

func writeJSONLines[T any](path string, rows []T) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, item := range rows {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "watch":
			runWatch(os.Args[2:])
			return
		case "scan":
			os.Exit(runScan(os.Args[2:]))
		default:
			// Backward-compatible mode: first arg is config path.
			runWatch(os.Args[1:])
			return
		}
	}

	runWatch(nil)
}
