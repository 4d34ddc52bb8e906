package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"killwatch/pkg/models"
)

const sampleProfiles = `
profiles:
  - id: home-defense
    name: Home Defense
    enabled: true
    destination: ops-webhook
    throttle_window: 10m
    scope:
      systems: [30002813, 30002815]
      radius: 3
      watch_bypass: true
    watch:
      corporations: [98000001]
      alliances: [99000001]
    interest:
      threshold: 0.6
      layers: [geography, entity]
    triggers:
      min_value: 250000000
      watchlist: true
      gatecamp: low
    quiet_hours:
      enabled: true
      start: "23:00"
      end: "07:00"
      allow_critical: true
  - id: trade-route
    enabled: true
    destination: trade-feed
    watch:
      corporations: [98000002]
    interest:
      threshold: 0.4
      routes:
        - name: amarr-run
          systems: [30002187, 30003491]
    triggers:
      gatecamp: "off"
`

func TestParseProfiles(t *testing.T) {
	set, err := Parse([]byte(sampleProfiles))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(set.Profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(set.Profiles))
	}

	p := set.Profiles[0]
	if p.ID != "home-defense" || p.Destination != "ops-webhook" {
		t.Errorf("unexpected profile identity: %+v", p)
	}
	if p.ThrottleWindow != 10*time.Minute {
		t.Errorf("throttle window = %v, want 10m", p.ThrottleWindow)
	}
	if len(p.Scope.Systems) != 2 || p.Scope.Radius != 3 || !p.Scope.WatchBypass {
		t.Errorf("unexpected scope: %+v", p.Scope)
	}
	if got := p.Triggers.GatecampMin(); got != models.ConfidenceLow {
		t.Errorf("gatecamp min = %s, want low", got)
	}
	if !p.QuietHours.AllowCritical {
		t.Error("quiet hours should allow critical")
	}

	if got := set.Profiles[1].Triggers.GatecampMin(); got != models.ConfidenceNone {
		t.Errorf("gatecamp off parsed as %s", got)
	}

	// Watch sets from every profile merge into the shared admission set.
	for _, corp := range []int64{98000001, 98000002} {
		if !set.Watch.Corporations[corp] {
			t.Errorf("merged watch missing corporation %d", corp)
		}
	}
	if !set.Watch.Alliances[99000001] {
		t.Error("merged watch missing alliance")
	}
}

func TestParseRejectsInvalidProfiles(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing id",
			yaml: "profiles:\n  - destination: x\n",
			want: "id is required",
		},
		{
			name: "missing destination",
			yaml: "profiles:\n  - id: a\n",
			want: "destination is required",
		},
		{
			name: "duplicate id",
			yaml: "profiles:\n  - id: a\n    destination: x\n  - id: a\n    destination: y\n",
			want: "appears twice",
		},
		{
			name: "threshold out of range",
			yaml: "profiles:\n  - id: a\n    destination: x\n    interest:\n      threshold: 1.5\n",
			want: "outside [0, 1]",
		},
		{
			name: "unknown layer",
			yaml: "profiles:\n  - id: a\n    destination: x\n    interest:\n      layers: [gravity]\n",
			want: "unknown interest layer",
		},
		{
			name: "unknown gatecamp confidence",
			yaml: "profiles:\n  - id: a\n    destination: x\n    triggers:\n      gatecamp: always\n",
			want: "unknown gatecamp confidence",
		},
		{
			name: "bad quiet clock",
			yaml: "profiles:\n  - id: a\n    destination: x\n    quiet_hours:\n      enabled: true\n      start: \"25:99\"\n      end: \"07:00\"\n",
			want: "must be HH:MM",
		},
		{
			name: "no profiles",
			yaml: "profiles: []\n",
			want: "no profiles",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(sampleProfiles), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(set.Profiles) != 2 {
		t.Errorf("expected 2 profiles, got %d", len(set.Profiles))
	}
	if set.LoadedAt.IsZero() {
		t.Error("LoadedAt not stamped")
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestGatecampMinDefaults(t *testing.T) {
	if got := (TriggersConfig{}).GatecampMin(); got != models.ConfidenceMedium {
		t.Errorf("unset gatecamp min = %s, want medium", got)
	}
	if got := (TriggersConfig{Gatecamp: "high"}).GatecampMin(); got != models.ConfidenceHigh {
		t.Errorf("high gatecamp min = %s", got)
	}
	if got := (TriggersConfig{Gatecamp: "off"}).GatecampMin(); got != models.ConfidenceNone {
		t.Errorf("off gatecamp min = %s", got)
	}
}
