package ingest

import (
	"strconv"
	"strings"
	"time"
)

// DailyReport is the parsed health report a camera uploads once a day as a
// TXT file alongside its images.
type DailyReport struct {
	IMEI           string
	CamID          string
	SignalStrength *int
	TemperatureC   *float64
	BatteryPercent *int
	SDUsedMB       *int
	SDTotalMB      *int
	GPS            *LatLon
	ReportedAt     time.Time
	TotalImages    *int
	SentImages     *int
}

// SDUsedPercent derives utilization from the used/total pair.
func (r *DailyReport) SDUsedPercent() *int {
	if r.SDUsedMB == nil || r.SDTotalMB == nil || *r.SDTotalMB == 0 {
		return nil
	}
	pct := int(float64(*r.SDUsedMB) / float64(*r.SDTotalMB) * 100)
	return &pct
}

// ParseDailyReport splits the TXT into key:value lines and dispatches to the
// firmware variant: both IMEI and CamID present means the legacy format,
// IMEI alone means the new one.
func ParseDailyReport(raw []byte) (*DailyReport, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key != "" && val != "" {
			fields[key] = val
		}
	}

	imei, hasIMEI := fields["IMEI"]
	if !hasIMEI {
		return nil, reject(ReasonReportMalformed, "no IMEI field")
	}
	_, hasCamID := fields["CamID"]

	r := &DailyReport{IMEI: imei}
	var err error
	if hasCamID {
		err = parseLegacyReport(fields, r)
	} else {
		err = parseNewReport(fields, r)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// parseLegacyReport handles the original firmware format:
//
//	Temp: 26 Celsius Degree
//	Battery: 85%
//	SD: 1024/32768
//	GPS: N52*05'55" E005*07'31"
//	Date: 19/12/2025  16:21:42     (double space)
//	Total Pics: 123
//	Send times: 120
func parseLegacyReport(fields map[string]string, r *DailyReport) error {
	r.CamID = fields["CamID"]
	r.SignalStrength = parseIntField(fields["CSQ"])
	r.TemperatureC = parseFloatField(strings.TrimSuffix(fields["Temp"], " Celsius Degree"))
	r.BatteryPercent = parseIntField(strings.TrimSuffix(fields["Battery"], "%"))
	r.SDUsedMB, r.SDTotalMB = parseSDField(fields["SD"])
	r.TotalImages = parseIntField(fields["Total Pics"])
	r.SentImages = parseIntField(fields["Send times"])

	if gps := fields["GPS"]; gps != "" {
		if pos, err := ParseGPSString(gps); err == nil {
			r.GPS = pos
		}
	}

	at, err := time.Parse("02/01/2006  15:04:05", fields["Date"])
	if err != nil {
		return reject(ReasonReportMalformed, "bad legacy Date %q", fields["Date"])
	}
	r.ReportedAt = at.UTC()
	return nil
}

// parseNewReport handles the revised firmware format:
//
//	Temp: 26℃
//	Battery: 85%
//	SD: 1024/32768
//	GPS: 52.098737,5.125504
//	Date: 19/12/2025 16:21:42     (single space)
//	Total: 123
//	Send: 120
func parseNewReport(fields map[string]string, r *DailyReport) error {
	r.SignalStrength = parseIntField(fields["CSQ"])
	r.TemperatureC = parseFloatField(strings.TrimSuffix(fields["Temp"], "℃"))
	r.BatteryPercent = parseIntField(strings.TrimSuffix(fields["Battery"], "%"))
	r.SDUsedMB, r.SDTotalMB = parseSDField(fields["SD"])
	r.TotalImages = parseIntField(fields["Total"])
	r.SentImages = parseIntField(fields["Send"])

	if gps := fields["GPS"]; gps != "" {
		if pos, err := ParseGPSString(gps); err == nil {
			r.GPS = pos
		}
	}

	at, err := time.Parse("02/01/2006 15:04:05", fields["Date"])
	if err != nil {
		return reject(ReasonReportMalformed, "bad Date %q", fields["Date"])
	}
	r.ReportedAt = at.UTC()
	return nil
}

func parseIntField(s string) *int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &n
}

func parseFloatField(s string) *float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return &f
}

// parseSDField splits "USED_MB/TOTAL_MB".
func parseSDField(s string) (used, total *int) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return nil, nil
	}
	// Some firmwares append "MB" or "M" to both halves.
	clean := func(v string) string {
		v = strings.TrimSpace(v)
		v = strings.TrimSuffix(v, "MB")
		v = strings.TrimSuffix(v, "M")
		return strings.TrimSpace(v)
	}
	return parseIntField(clean(parts[0])), parseIntField(clean(parts[1]))
}
