package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/technosupport/ts-trapnet/internal/queue"
)

// titleSpecies renders "roe_deer" as "Roe Deer" for user-facing text.
func titleSpecies(label string) string {
	words := strings.Split(label, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// renderSpeciesText is the shared plain-text body for a species detection,
// used by every channel.
func renderSpeciesText(ev *queue.NotificationEvent, deepLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s detected on camera %s\n", titleSpecies(ev.Species), ev.CameraName)
	if ev.Confidence != nil {
		fmt.Fprintf(&b, "Confidence: %d%%", int(*ev.Confidence*100))
		if ev.DetectionConfidence != nil {
			fmt.Fprintf(&b, " (detection %d%%)", int(*ev.DetectionConfidence*100))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Time: %s\n", ev.Timestamp.UTC().Format("2006-01-02 15:04 UTC"))
	if ev.CameraLocation != nil {
		fmt.Fprintf(&b, "Location: %.5f, %.5f\n", ev.CameraLocation.Lat, ev.CameraLocation.Lon)
	}
	if ev.DetectionCount > 1 {
		fmt.Fprintf(&b, "Detections in image: %d\n", ev.DetectionCount)
	}
	if deepLink != "" {
		b.WriteString(deepLink)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderSpeciesSubject(ev *queue.NotificationEvent) string {
	return fmt.Sprintf("Camera trap alert: %s on %s", titleSpecies(ev.Species), ev.CameraName)
}

func renderSystemHealthText(ev *queue.NotificationEvent) string {
	return fmt.Sprintf("[%s] system health alert for camera %s at %s",
		strings.ToUpper(ev.Severity), ev.CameraName, ev.Timestamp.UTC().Format(time.RFC3339))
}

// renderBatteryDigestText summarizes the low-battery cameras of one project.
func renderBatteryDigestText(projectName string, threshold float64, names []string, deepLink string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Battery digest for %s\n", projectName)
	fmt.Fprintf(&b, "%d camera(s) at or below %.0f%%:\n", len(names), threshold)
	for _, n := range names {
		fmt.Fprintf(&b, "  - %s\n", n)
	}
	if deepLink != "" {
		b.WriteString(deepLink)
	}
	return strings.TrimRight(b.String(), "\n")
}
