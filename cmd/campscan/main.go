package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"killwatch/internal/scan"
	"killwatch/internal/store"
	"killwatch/internal/threat"
	"killwatch/pkg/models"
)

func main() {
	input := flag.String("input", "", "Kill JSONL input path (archive export)")
	dbPath := flag.String("db", "", "Kill store path (scans stored kills instead of a JSONL file)")
	since := flag.Duration("since", 24*time.Hour, "Look-back window for store scans")
	from := flag.String("from", "", "Range start, RFC3339 (overrides -since)")
	to := flag.String("to", "", "Range end, RFC3339 (defaults to now)")
	output := flag.String("output", "output/camp_sessions.jsonl", "Camp session JSONL output path")
	window := flag.Duration("window", 0, "Camp clustering window (0 uses the built-in default)")
	minKills := flag.Int("min-kills", 0, "Minimum kills for a camp (0 uses the built-in default)")
	sessionGap := flag.Duration("session-gap", 0, "Quiet stretch that closes a session (0 uses the clustering window)")
	maxSessions := flag.Int("max-sessions", 1000, "Maximum number of sessions to emit")
	flag.Parse()

	kills, err := loadKills(*input, *dbPath, *since, *from, *to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load kills: %v\n", err)
		os.Exit(1)
	}

	cfg := scan.Config{
		Threat:      threat.Config{Window: *window, MinKills: *minKills},
		SessionGap:  *sessionGap,
		MaxSessions: *maxSessions,
	}
	sessions := scan.Sweep(kills, cfg)

	if err := writeSessions(*output, sessions); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write sessions: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("scanned kills=%d sessions=%d output=%s\n", len(kills), len(sessions), *output)
}

func loadKills(input, dbPath string, since time.Duration, fromArg, toArg string) ([]*models.ProcessedKill, error) {
	switch {
	case strings.TrimSpace(input) != "":
		return scan.LoadKillsJSONL(input)
	case strings.TrimSpace(dbPath) != "":
		from, to, err := resolveRange(since, fromArg, toArg)
		if err != nil {
			return nil, err
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

func resolveRange(since time.Duration, fromArg, toArg string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if strings.TrimSpace(toArg) != "" {
		t, err := time.Parse(time.RFC3339, toArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -to: %w", err)
		}
		to = t
	}

	from := to.Add(-since)
	if strings.TrimSpace(fromArg) != "" {
		t, err := time.Parse(time.RFC3339, fromArg)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse -from: %w", err)
		}
		from = t
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("range start %s is not before end %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return from, to, nil
}

func writeSessions(path string, sessions []scan.CampSession) error {
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
	for _, s := range sessions {
		if err := enc.Encode(s); err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
