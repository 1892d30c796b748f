package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"storagetier/internal/models"
	"storagetier/internal/scheduler"
)

var (
	accentColor = lipgloss.Color("#50FA7B")
	warnColor   = lipgloss.Color("#FFB86C")
	dangerColor = lipgloss.Color("#FF5555")
	mutedColor  = lipgloss.Color("#6272A4")
	borderColor = lipgloss.Color("#44475A")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(borderColor)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func section(title, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), body)
}

func money(v float64) string {
	return fmt.Sprintf("$%.4f", v)
}

func renderQuotes(size int64, downloads float64, quotes []models.CostQuote) string {
	if len(quotes) == 0 {
		return mutedStyle.Render("no backends configured")
	}
	t := newTable("BACKEND", "STORAGE", "BANDWIDTH", "TOTAL / MONTH")
	for i, q := range quotes {
		name := string(q.Backend)
		if i == 0 {
			name = lipgloss.NewStyle().Foreground(accentColor).Render(name + " *")
		}
		t.Row(name, money(q.StorageCost), money(q.BandwidthCost), money(q.TotalCost))
	}
	title := fmt.Sprintf("Monthly cost for %s with %g downloads", formatBytes(size), downloads)
	return section(title, t.Render())
}

func renderComparison(cmp models.CostComparison) string {
	t := newTable("TIER", "CURRENT", "OPTIMIZED")
	for _, tier := range models.AllTiers {
		t.Row(string(tier), money(cmp.Current.ByTier[tier]), money(cmp.Optimized.ByTier[tier]))
	}
	t.Row("total", money(cmp.Current.Monthly), money(cmp.Optimized.Monthly))

	savings := fmt.Sprintf("savings: %s / month, %s / year (%.1f%%)",
		money(cmp.Savings.Monthly), money(cmp.Savings.Yearly), cmp.Savings.Percentage)
	color := mutedColor
	if cmp.Savings.Monthly > 0 {
		color = accentColor
	}
	body := lipgloss.JoinVertical(lipgloss.Left, t.Render(), lipgloss.NewStyle().Foreground(color).Render(savings))
	return section(fmt.Sprintf("Cost comparison (last %d days)", cmp.WindowDays), body)
}

func renderStatus(status models.QueueStatus, health map[models.BackendName]bool) string {
	queue := newTable("PENDING", "PROCESSING", "COMPLETED", "FAILED", "SAVINGS / MONTH")
	failed := strconv.FormatInt(status.Failed, 10)
	if status.Failed > 0 {
		failed = lipgloss.NewStyle().Foreground(dangerColor).Render(failed)
	}
	queue.Row(
		strconv.FormatInt(status.Pending, 10),
		strconv.FormatInt(status.Processing, 10),
		strconv.FormatInt(status.Completed, 10),
		failed,
		money(status.TotalSavings),
	)

	names := make([]string, 0, len(health))
	for name := range health {
		names = append(names, string(name))
	}
	sort.Strings(names)
	backends := newTable("BACKEND", "HEALTH")
	for _, name := range names {
		state := lipgloss.NewStyle().Foreground(accentColor).Render("healthy")
		if !health[models.BackendName(name)] {
			state = lipgloss.NewStyle().Foreground(dangerColor).Render("unreachable")
		}
		backends.Row(name, state)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		section("Migration queue", queue.Render()),
		section("Backends", backends.Render()),
	)
}

func filterRecommendations(recs []models.Recommendation, kind models.RecommendationType, limit int) []models.Recommendation {
	out := make([]models.Recommendation, 0, len(recs))
	for _, rec := range recs {
		if kind != "" && rec.Type != kind {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func renderRecommendations(recs []models.Recommendation) string {
	if len(recs) == 0 {
		return mutedStyle.Render("no recommendations")
	}
	t := newTable("PACKAGE", "TYPE", "TIER", "TARGET", "PRIORITY", "IDLE DAYS", "SAVINGS / MONTH")
	for _, rec := range recs {
		target := "-"
		if rec.TargetTier != nil {
			target = string(*rec.TargetTier)
		}
		priority := string(rec.Priority)
		if rec.Priority == models.PriorityHigh {
			priority = lipgloss.NewStyle().Foreground(warnColor).Render(priority)
		}
		t.Row(
			rec.PackageType+"/"+rec.PackageID,
			string(rec.Type),
			string(rec.CurrentTier),
			target,
			priority,
			strconv.Itoa(rec.DaysSinceAccess),
			money(rec.EstimatedSavings),
		)
	}
	return section(fmt.Sprintf("Recommendations (%d)", len(recs)), t.Render())
}

func renderDecision(d models.RouteDecision) string {
	t := newTable("BACKEND", "RULE", "EST. COST / MONTH", "REASON")
	t.Row(lipgloss.NewStyle().Foreground(accentColor).Render(string(d.Backend)), string(d.Rule), money(d.EstimatedCost), d.Reason)
	return section("Routing decision", t.Render())
}

func renderProcessSummary(s models.ProcessSummary) string {
	if s.Skipped {
		return mutedStyle.Render("another queue pass is already running")
	}
	t := newTable("CLAIMED", "SUCCEEDED", "FAILED")
	t.Row(strconv.Itoa(s.Claimed), strconv.Itoa(s.Succeeded), strconv.Itoa(s.Failed))
	body := t.Render()
	if len(s.Results) > 0 {
		results := newTable("TASK", "RESULT", "DURATION")
		for _, res := range s.Results {
			state := lipgloss.NewStyle().Foreground(accentColor).Render("ok")
			if !res.Success {
				state = lipgloss.NewStyle().Foreground(dangerColor).Render(res.Error)
			}
			results.Row(res.TaskID, state, fmt.Sprintf("%dms", res.TimeTakenMs))
		}
		body = lipgloss.JoinVertical(lipgloss.Left, body, results.Render())
	}
	return section("Queue pass", body)
}

func renderDailyReport(r scheduler.Report) string {
	if r.Skipped {
		return mutedStyle.Render("daily run skipped: another run holds the lock")
	}
	t := newTable("SNAPSHOTS", "RECOMMENDATIONS", "POTENTIAL SAVINGS", "CANDIDATES", "QUEUED", "ALREADY QUEUED")
	t.Row(
		strconv.Itoa(r.Snapshots),
		strconv.Itoa(r.Recommendations),
		money(r.PotentialSaving),
		strconv.Itoa(r.Check.Candidates),
		strconv.Itoa(r.Check.Queued),
		strconv.Itoa(r.Check.AlreadyQueued),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		section("Daily run", t.Render()),
		renderProcessSummary(r.Check.Processed),
	)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var sizeUnits = []struct {
	suffix string
	mult   int64
}{
	{"tib", 1 << 40}, {"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"tb", 1_000_000_000_000}, {"gb", 1_000_000_000}, {"mb", 1_000_000}, {"kb", 1_000},
	{"b", 1},
}

// parseSize accepts plain byte counts or values with a decimal (MB) or binary (MiB) suffix.
func parseSize(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("size is required")
	}
	mult := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return int64(v * float64(mult)), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
