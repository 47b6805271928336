package azcopy

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// maxRawSummaryBytes caps the raw status output kept in a Summary.
	maxRawSummaryBytes = 16 * 1024
	// maxListedTransfers caps the per-transfer lines copied into warnings/errors.
	maxListedTransfers = 20
)

var (
	jobIDPattern  = regexp.MustCompile(`(?i)job\s*(?:id)?["'\s:=]*([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)
	numberPattern = regexp.MustCompile(`^-?[0-9][0-9,]*(\.[0-9]+)?`)
)

// textKeys maps the labels of azcopy's text summary to the JSON field names.
var textKeys = map[string]string{
	"final job status":                   "JobStatus",
	"job status":                         "JobStatus",
	"number of file transfers":           "FileTransfers",
	"number of transfers completed":      "TransfersCompleted",
	"number of file transfers completed": "TransfersCompleted",
	"number of transfers failed":         "TransfersFailed",
	"number of file transfers failed":    "TransfersFailed",
	"number of transfers skipped":        "TransfersSkipped",
	"number of file transfers skipped":   "TransfersSkipped",
	"total number of transfers":          "TotalTransfers",
	"total number of bytes transferred":  "TotalBytesTransferred",
	"total number of bytes enumerated":   "TotalBytesEnumerated",
	"percent complete (approx)":          "PercentComplete",
}

// envelope is one line of azcopy --output-type=json.
type envelope struct {
	TimeStamp   string
	MessageType string
	Content     string
}

func parseEnvelope(line string) (envelope, bool) {
	var raw struct {
		TimeStamp      string          `json:"TimeStamp"`
		MessageType    string          `json:"MessageType"`
		MessageContent json.RawMessage `json:"MessageContent"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return envelope{}, false
	}
	if raw.MessageType == "" && len(raw.MessageContent) == 0 {
		return envelope{}, false
	}
	env := envelope{TimeStamp: raw.TimeStamp, MessageType: raw.MessageType}
	content := bytes.TrimSpace(raw.MessageContent)
	if len(content) > 0 && content[0] == '"' {
		if err := json.Unmarshal(content, &env.Content); err != nil {
			return envelope{}, false
		}
	} else {
		env.Content = string(content)
	}
	return env, true
}

func decodeObject(s string) (map[string]any, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

// extractJobID finds a job id in one output line: structured JobID first,
// then a textual "Job <uuid>" / "JobID: <uuid>" match.
func extractJobID(line string) string {
	line = strings.TrimSpace(line)
	if line == "" {
		return ""
	}
	if env, ok := parseEnvelope(line); ok {
		if fields, ok := decodeObject(env.Content); ok {
			if id := stringField(fields, "JobID", "JobId", "jobId"); id != "" {
				return id
			}
		}
		return matchJobID(env.Content)
	}
	return matchJobID(line)
}

func matchJobID(s string) string {
	m := jobIDPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// isPermissionError reports an azcopy error line caused by a 403.
func isPermissionError(line string) bool {
	env, ok := parseEnvelope(strings.TrimSpace(line))
	if !ok {
		return false
	}
	return env.MessageType == "Error" && strings.Contains(env.Content, "403")
}

var jobNotFoundPatterns = []string{
	"not found",
	"does not exist",
	"no such job",
	"job plan file",
	"cannot find the job",
}

func isJobNotFound(stdout, stderr string) bool {
	combined := strings.ToLower(stdout + "\n" + stderr)
	for _, p := range jobNotFoundPatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}
	return false
}

// jobReport is the parsed output of `azcopy jobs show`.
type jobReport struct {
	RawStatus string
	Fields    map[string]any
	Raw       string
	Parsed    bool
}

// parseJobsShow prefers the last structured message carrying a JobStatus and
// falls back to "Key: value" text lines.
func parseJobsShow(stdout string) jobReport {
	report := jobReport{Raw: strings.TrimSpace(stdout)}
	var text []string

	sc := bufio.NewScanner(strings.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		env, ok := parseEnvelope(line)
		if !ok {
			text = append(text, line)
			continue
		}
		fields, ok := decodeObject(env.Content)
		if !ok {
			text = append(text, strings.Split(env.Content, "\n")...)
			continue
		}
		if _, has := fields["JobStatus"]; has {
			report.Fields = fields
			report.RawStatus = stringField(fields, "JobStatus")
			report.Parsed = true
		}
	}
	if report.Parsed {
		return report
	}

	fields := parseTextSummary(text)
	if status, ok := fields["JobStatus"].(string); ok {
		report.Fields = fields
		report.RawStatus = status
		report.Parsed = true
	}
	return report
}

func parseTextSummary(lines []string) map[string]any {
	fields := make(map[string]any)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name, known := textKeys[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			continue
		}
		fields[name] = strings.TrimSpace(value)
	}
	return fields
}

func (r jobReport) progress(now time.Time) Progress {
	p := Progress{
		State:         ClassifyStatus(r.RawStatus),
		LastUpdatedAt: now,
		RawStatus:     r.RawStatus,
	}
	if p.RawStatus == "" {
		p.RawStatus = string(StateUnknown)
	}
	p.PercentComplete, p.HasPercent = floatField(r.Fields, "PercentComplete")
	p.BytesTotal, _ = intField(r.Fields, "TotalBytesExpected", "TotalBytesEnumerated")
	p.FilesTotal, _ = intField(r.Fields, "TotalTransfers", "FileTransfers", "TotalFiles")
	p.BytesTransferred, _ = intField(r.Fields, "TotalBytesTransferred", "BytesTransferred")
	p.FilesTransferred, _ = intField(r.Fields, "TransfersCompleted", "FileTransfers", "TotalFilesTransferred")
	return p
}

// summary builds a Summary from the report. Identical output always yields
// an identical Summary.
func (r jobReport) summary() Summary {
	s := Summary{}
	s.FilesTransferred, _ = intField(r.Fields, "TransfersCompleted", "FileTransfers", "TotalFilesTransferred")
	s.BytesTransferred, _ = intField(r.Fields, "TotalBytesTransferred", "BytesTransferred")
	s.FailedTransfers, _ = intField(r.Fields, "TransfersFailed", "TotalFilesFailed")
	s.SkippedTransfers, _ = intField(r.Fields, "TransfersSkipped", "TotalFilesSkipped")
	s.State = FinalState(r.RawStatus, s.FailedTransfers)
	s.StartedAt = timeField(r.Fields, "StartTime")
	s.FinishedAt = timeField(r.Fields, "EndTime")

	if msg := stringField(r.Fields, "ErrorMsg"); msg != "" {
		s.Errors = append(s.Errors, redact(msg))
	}
	s.Errors = append(s.Errors, transferLines(r.Fields["FailedTransfers"], "failed")...)
	s.Warnings = transferLines(r.Fields["SkippedTransfers"], "skipped")

	sum := blake3.Sum256([]byte(r.Raw))
	s.RawSummaryHash = hex.EncodeToString(sum[:])
	s.RawSummary = redact(r.Raw)
	if len(s.RawSummary) > maxRawSummaryBytes {
		s.RawSummary = s.RawSummary[:maxRawSummaryBytes]
	}
	return s
}

func transferLines(v any, verb string) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if len(out) == maxListedTransfers {
			out = append(out, fmt.Sprintf("%d more %s transfers not listed", len(items)-maxListedTransfers, verb))
			break
		}
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := fmt.Sprintf("%s: %s", verb, redact(stringField(m, "Src")))
		if code, ok := intField(m, "ErrorCode"); ok && code != 0 {
			line += fmt.Sprintf(" (error code %d)", code)
		}
		out = append(out, line)
	}
	return out
}

func lookup(fields map[string]any, key string) (any, bool) {
	if v, ok := fields[key]; ok && v != nil {
		return v, true
	}
	if nested, ok := fields["Summary"].(map[string]any); ok {
		if v, ok := nested[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := lookup(fields, k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func intField(fields map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := lookup(fields, k)
		if !ok {
			continue
		}
		if n, ok := toInt64(v); ok {
			return n, true
		}
	}
	return 0, false
}

func floatField(fields map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := lookup(fields, k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case json.Number:
			if f, err := t.Float64(); err == nil {
				return f, true
			}
		case float64:
			return t, true
		case string:
			if m := numberPattern.FindString(strings.TrimSpace(t)); m != "" {
				if f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		m := numberPattern.FindString(strings.TrimSpace(t))
		if m == "" {
			return 0, false
		}
		m = strings.ReplaceAll(m, ",", "")
		if n, err := strconv.ParseInt(m, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(m, 64); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func timeField(fields map[string]any, key string) *time.Time {
	s := stringField(fields, key)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
