package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
)

type StatsRepo interface {
	PeriodStats(ctx context.Context, projectID uuid.UUID, from, to time.Time) (*data.PeriodStats, error)
}

// ReportJob is the 06:00 UTC scheduled report generator. Daily reports go out
// every run, weekly ones on Mondays, monthly ones on the 1st.
type ReportJob struct {
	Prefs    PreferenceRepo
	Projects ProjectRepo
	Stats    StatsRepo
	Logs     LogRepo
	Bus      Publisher
	DeepLink LinkBuilder

	now func() time.Time
}

func NewReportJob(prefs PreferenceRepo, projects ProjectRepo, stats StatsRepo, logs LogRepo, bus Publisher, deepLink LinkBuilder) *ReportJob {
	return &ReportJob{
		Prefs: prefs, Projects: projects, Stats: stats, Logs: logs, Bus: bus, DeepLink: deepLink,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// dueFrequencies lists which report frequencies fire on a given day.
func dueFrequencies(now time.Time) []string {
	due := []string{"daily"}
	if now.Weekday() == time.Monday {
		due = append(due, "weekly")
	}
	if now.Day() == 1 {
		due = append(due, "monthly")
	}
	return due
}

func periodStart(frequency string, now time.Time) time.Time {
	switch frequency {
	case "weekly":
		return now.AddDate(0, 0, -7)
	case "monthly":
		return now.AddDate(0, -1, 0)
	default:
		return now.AddDate(0, 0, -1)
	}
}

func (j *ReportJob) Run(ctx context.Context) error {
	now := j.now()
	due := dueFrequencies(now)

	prefs, err := j.Prefs.ListAllEnabled(ctx)
	if err != nil {
		return err
	}

	sent := 0
	for _, pref := range prefs {
		settings := pref.Channels.EmailReport
		if !settings.Enabled || !contains(due, settings.Frequency) {
			continue
		}

		project, err := j.Projects.GetByID(ctx, pref.ProjectID)
		if err != nil {
			log.Printf("[Notify] report: project %s lookup: %v", pref.ProjectID, err)
			continue
		}

		from := periodStart(settings.Frequency, now)
		stats, err := j.Stats.PeriodStats(ctx, pref.ProjectID, from, now)
		if err != nil {
			log.Printf("[Notify] report: stats for project %s: %v", pref.ProjectID, err)
			continue
		}

		link := ""
		if j.DeepLink != nil {
			link = j.DeepLink("/projects/" + pref.ProjectID.String())
		}
		bodyText := renderReportText(project.Name, settings.Frequency, from, now, stats, link)
		bodyHTML, err := renderReportHTML(project.Name, settings.Frequency, from, now, stats, link)
		if err != nil {
			log.Printf("[Notify] report HTML render for %s: %v", project.Name, err)
		}

		eventRaw, _ := json.Marshal(map[string]string{
			"event_type": data.EventEmailReport,
			"project_id": pref.ProjectID.String(),
			"frequency":  settings.Frequency,
		})
		entry := &data.NotificationLog{
			UserID:           pref.UserID,
			NotificationType: data.EventEmailReport,
			Channel:          data.ChannelEmail,
			Event:            eventRaw,
			Message:          bodyText,
		}
		if err := j.Logs.Create(ctx, entry); err != nil {
			log.Printf("[Notify] report: log row for user %s: %v", pref.UserID, err)
			continue
		}

		msg := queue.EmailMessage{
			NotificationLogID: entry.ID,
			ToEmail:           pref.UserEmail,
			Subject:           fmt.Sprintf("%s camera trap report: %s", titleSpecies(settings.Frequency), project.Name),
			BodyText:          bodyText,
		}
		if bodyHTML != "" {
			msg.BodyHTML = &bodyHTML
		}
		if err := j.Bus.Publish(queue.QueueNotificationEmail, msg); err != nil {
			log.Printf("[Notify] report: enqueue for user %s: %v", pref.UserID, err)
			continue
		}
		sent++
	}
	log.Printf("[Notify] reports: %d enqueued for %v", sent, due)
	return nil
}

func renderReportText(projectName, frequency string, from, to time.Time, st *data.PeriodStats, link string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s report for %s (%s to %s)\n\n",
		titleSpecies(frequency), projectName, from.Format("2006-01-02"), to.Format("2006-01-02"))
	fmt.Fprintf(&b, "New images: %d (total %d)\n", st.NewImages, st.TotalImages)
	fmt.Fprintf(&b, "Cameras: %d active, %d inactive, %d low battery\n",
		st.ActiveCameras, st.SilentCameras, st.LowBattery)

	if len(st.TopSpecies) > 0 {
		b.WriteString("\nTop species:\n")
		for _, sc := range st.TopSpecies {
			fmt.Fprintf(&b, "  %-20s %d\n", titleSpecies(sc.Species), sc.Count)
		}
	}

	if len(st.DailyTimeline) > 0 {
		b.WriteString("\nDaily activity:\n")
		days := make([]string, 0, len(st.DailyTimeline))
		for d := range st.DailyTimeline {
			days = append(days, d)
		}
		sort.Strings(days)
		for _, d := range days {
			fmt.Fprintf(&b, "  %s: %d\n", d, st.DailyTimeline[d])
		}
	}

	if link != "" {
		b.WriteString("\n" + link + "\n")
	}
	return b.String()
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h2>{{.Frequency}} report: {{.ProjectName}}</h2>
  <p>{{.From}} to {{.To}}</p>
  <table cellpadding="6" style="border-collapse: collapse;">
    <tr><td><strong>New images</strong></td><td>{{.Stats.NewImages}}</td></tr>
    <tr><td><strong>Total images</strong></td><td>{{.Stats.TotalImages}}</td></tr>
    <tr><td><strong>Active cameras</strong></td><td>{{.Stats.ActiveCameras}}</td></tr>
    <tr><td><strong>Inactive cameras</strong></td><td>{{.Stats.SilentCameras}}</td></tr>
    <tr><td><strong>Low battery</strong></td><td>{{.Stats.LowBattery}}</td></tr>
  </table>
  {{if .TopSpecies}}
  <h3>Top species</h3>
  <table cellpadding="6" style="border-collapse: collapse;">
    {{range .TopSpecies}}<tr><td>{{.Name}}</td><td>{{.Count}}</td></tr>{{end}}
  </table>
  {{end}}
  {{if .Link}}<p><a href="{{.Link}}">Open project</a></p>{{end}}
</body>
</html>`))

func renderReportHTML(projectName, frequency string, from, to time.Time, st *data.PeriodStats, link string) (string, error) {
	type speciesRow struct {
		Name  string
		Count int
	}
	rows := make([]speciesRow, 0, len(st.TopSpecies))
	for _, sc := range st.TopSpecies {
		rows = append(rows, speciesRow{Name: titleSpecies(sc.Species), Count: sc.Count})
	}

	var b strings.Builder
	err := reportTemplate.Execute(&b, map[string]any{
		"Frequency":   titleSpecies(frequency),
		"ProjectName": projectName,
		"From":        from.Format("2006-01-02"),
		"To":          to.Format("2006-01-02"),
		"Stats":       st,
		"TopSpecies":  rows,
		"Link":        link,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
