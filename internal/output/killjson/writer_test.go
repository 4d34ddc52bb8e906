package killjson

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"killwatch/pkg/models"
)

func TestWriteKillsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kills.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	kills := []*models.ProcessedKill{
		{KillID: 1, Hash: "aa", SolarSystemID: 30002813, Time: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
		{KillID: 2, Hash: "bb", SolarSystemID: 30002813, TotalValue: 5e8, Pod: true},
	}
	if err := w.WriteKills(kills); err != nil {
		t.Fatalf("WriteKills: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var read []models.ProcessedKill
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var k models.ProcessedKill
		if err := json.Unmarshal(sc.Bytes(), &k); err != nil {
			t.Fatalf("line did not parse: %v", err)
		}
		read = append(read, k)
	}
	if len(read) != 2 {
		t.Fatalf("read %d kills, want 2", len(read))
	}
	if read[0].KillID != 1 || read[1].KillID != 2 || !read[1].Pod {
		t.Errorf("round trip mangled kills: %+v", read)
	}
}
