package notify

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"killwatch/internal/profile"
	"killwatch/pkg/models"
)

// Render turns an evaluator match into the notification sent downstream.
func Render(m *profile.Match, k *models.ProcessedKill) *models.Notification {
	n := &models.Notification{
		ID:          newNotificationID(),
		CreatedAt:   time.Now().UTC(),
		Destination: m.Profile.Destination,
		ProfileID:   m.Profile.ID,
		Trigger:     m.Trigger,
		Severity:    m.Severity,
	}
	if k != nil {
		n.KillID = k.KillID
		n.SolarSystemID = k.SolarSystemID
		n.TotalValue = k.TotalValue
	}
	n.Interest = m.Interest.Final
	n.Title = renderTitle(m, k)
	n.Body = renderBody(m, k)
	return n
}

// RenderRollup collapses a backlog of notifications for one destination into
// a single digest.
func RenderRollup(destination string, batch []*models.Notification) *models.Notification {
	n := &models.Notification{
		ID:          newNotificationID(),
		CreatedAt:   time.Now().UTC(),
		Destination: destination,
		Trigger:     "rollup",
		Severity:    models.SeverityInfo,
		Rollup:      true,
	}

	systems := make(map[int32]int)
	var total float64
	for _, item := range batch {
		if item.Severity.Stronger(n.Severity) {
			n.Severity = item.Severity
		}
		if item.KillID != 0 {
			n.Kills = append(n.Kills, item.KillID)
		}
		if item.SolarSystemID != 0 {
			systems[item.SolarSystemID]++
		}
		total += item.TotalValue
	}

	n.TotalValue = total
	n.Title = fmt.Sprintf("%d kills across %d systems", len(batch), len(systems))
	var b strings.Builder
	fmt.Fprintf(&b, "Backlog digest: %d notifications collapsed, %s destroyed total.", len(batch), FormatISK(total))
	if hottest, count := hottestSystem(systems); count > 1 {
		fmt.Fprintf(&b, " Hottest system %d with %d kills.", hottest, count)
	}
	n.Body = b.String()
	return n
}

func hottestSystem(systems map[int32]int) (int32, int) {
	var best int32
	bestCount := 0
	for sys, count := range systems {
		if count > bestCount || (count == bestCount && sys < best) {
			best = sys
			bestCount = count
		}
	}
	return best, bestCount
}

func renderTitle(m *profile.Match, k *models.ProcessedKill) string {
	loc := "unknown system"
	if k != nil && k.SolarSystemID != 0 {
		loc = fmt.Sprintf("system %d", k.SolarSystemID)
	}
	switch m.Trigger {
	case "gatecamp":
		return fmt.Sprintf("Gatecamp in %s", loc)
	case "watchlist":
		if m.Severity == models.SeverityCritical {
			return fmt.Sprintf("Watched entity destroyed in %s", loc)
		}
		return fmt.Sprintf("Watched entity active in %s", loc)
	case "value":
		if k != nil {
			return fmt.Sprintf("%s kill in %s", FormatISK(k.TotalValue), loc)
		}
		return fmt.Sprintf("High value kill in %s", loc)
	case "war":
		return fmt.Sprintf("War kill in %s", loc)
	case "faction":
		return fmt.Sprintf("Faction engagement in %s", loc)
	default:
		return fmt.Sprintf("Activity in %s", loc)
	}
}

func renderBody(m *profile.Match, k *models.ProcessedKill) string {
	var b strings.Builder
	if k != nil {
		fmt.Fprintf(&b, "Kill %d", k.KillID)
		if !k.Time.IsZero() {
			fmt.Fprintf(&b, " at %s", k.Time.UTC().Format("15:04:05"))
		}
		if k.TotalValue > 0 {
			fmt.Fprintf(&b, ", %s destroyed", FormatISK(k.TotalValue))
		}
		if k.Pod {
			b.WriteString(", pod")
		}
		if k.AttackerCount > 0 {
			fmt.Fprintf(&b, ", %d attackers", k.AttackerCount)
		}
		b.WriteString(". ")
	}
	b.WriteString(m.Reason)
	if m.Interest.Final > 0 {
		fmt.Fprintf(&b, " (interest %.2f)", m.Interest.Final)
	}
	return b.String()
}

// FormatISK renders an ISK amount the way pilots read them: 1.2b, 350.0m, 42.5k.
func FormatISK(v float64) string {
	switch {
	case v >= 1e9:
		return fmt.Sprintf("%.1fb ISK", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fm ISK", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk ISK", v/1e3)
	default:
		return fmt.Sprintf("%.0f ISK", v)
	}
}

func newNotificationID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("n-%s", time.Now().Format("20060102150405.000000"))
	}
	return fmt.Sprintf("n-%s", hex.EncodeToString(buf))
}
