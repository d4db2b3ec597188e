// Package trackingparser extracts analytics tracking calls from grep-style
// search output. Parsing is best-effort: one regular expression recognises the
// call shapes of the supported SDKs, and properties are only read when they
// sit on the same line as a flat object literal.
package trackingparser

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// Placeholder values written when a column has no data.
const (
	NotApplicable       = "N/A"
	NeedsManualReview   = "NEEDS_MANUAL_REVIEW"
	ManualReviewMessage = "Properties detected but could not be parsed automatically. Please review the code."
	ManualReviewType    = "object/struct/dict"
)

// Property types inferred from literal values.
const (
	TypeString  = "string"
	TypeBool    = "bool"
	TypeNumber  = "number"
	TypeUnknown = "unknown"
)

// callPrefixes are the method names and receiver chains that introduce a tracking call.
var callPrefixes = []string{
	`track`, `log_event`, `send_event`, `capture`, `gtag`, `logEvent`, `enqueue`, `trackEvent`,
	`firebase\.analytics\(\)\.logEvent`,
	`ga\('send', 'event'`,
	`amplitude\.logEvent`, `Amplitude\.instance\(\)\.logEvent`,
	`mixpanel\.track_pageview`,
	`rudderanalytics\.track`, `Rudder\.sharedInstance\(\)\.track`, `RudderClient\.getInstance\(\)\.track`,
	`mp\.logEvent`, `MParticle\.sharedInstance\(\)\.logEvent`, `MParticle\.logEvent`,
	`posthog\.capture`, `PHGPostHog\.shared\(\)\?\.capture`,
	`pendo\.track`, `PendoManager\.shared\(\)\.track`,
	`heap\.track`, `Heap\.track`,
	`snowplow`, `trackUnstructured`, `SPSnowplow\.track`, `Snowplow\.track`,
}

// callPattern matches "path:line:col:code" where code contains a call with a
// quoted first argument, optionally followed by a properties segment.
var callPattern = regexp.MustCompile(
	`^(?P<filepath>[^:]+):(?P<line>\d+):\d+:(?P<codeline>.*` +
		`(?:` + strings.Join(callPrefixes, "|") + `)` +
		`\s*[\(\{]\s*["'](?P<event_name>[^"']+)["']` +
		`(?:[,\s]*?(?P<properties>\{.*\}|\[.*\]|map\[.*\]|analytics\..*\{|properties:))?` +
		`.*)`,
)

// propertyPattern matches flat key: value pairs.
var propertyPattern = regexp.MustCompile(`([\w'"]+)\s*:\s*([\w'"\.\-\[\]\{\}\(\)]+)`)

var numberPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

var (
	groupFilePath   = callPattern.SubexpIndex("filepath")
	groupLine       = callPattern.SubexpIndex("line")
	groupCodeLine   = callPattern.SubexpIndex("codeline")
	groupEventName  = callPattern.SubexpIndex("event_name")
	groupProperties = callPattern.SubexpIndex("properties")
)

// Parser turns search output lines into tracking call rows.
// It remembers call sites it has already emitted, so the same line fed twice
// (overlapping search patterns) yields rows once.
type Parser struct {
	seen map[string]struct{}
}

// NewParser returns a Parser with an empty dedupe set.
func NewParser() *Parser {
	return &Parser{seen: make(map[string]struct{})}
}

// ParseLine parses one "path:line:col:code" line. It returns nil when the line
// is not a recognised tracking call or was already emitted.
func (p *Parser) ParseLine(line string) []models.TrackingCall {
	m := callPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil
	}

	filePath := m[groupFilePath]
	codeLine := m[groupCodeLine]

	key := filePath + ":" + codeLine
	if _, dup := p.seen[key]; dup {
		return nil
	}
	p.seen[key] = struct{}{}

	lineNumber, _ := strconv.Atoi(m[groupLine])
	base := models.TrackingCall{
		EventName:  m[groupEventName],
		FilePath:   filePath,
		LineNumber: lineNumber,
		CodeLine:   strings.TrimSpace(codeLine),
	}

	properties := m[groupProperties]
	if properties == "" {
		base.PropertyKey = NotApplicable
		base.PropertyDescription = NotApplicable
		base.PropertyType = NotApplicable
		return []models.TrackingCall{base}
	}

	props := parseProperties(properties)
	if len(props) == 0 {
		base.PropertyKey = NeedsManualReview
		base.PropertyDescription = ManualReviewMessage
		base.PropertyType = ManualReviewType
		return []models.TrackingCall{base}
	}

	calls := make([]models.TrackingCall, 0, len(props))
	for _, prop := range props {
		call := base
		call.PropertyKey = prop.key
		call.PropertyDescription = NotApplicable
		call.PropertyType = prop.typ
		calls = append(calls, call)
	}
	return calls
}

// ParseLines parses every line with a fresh Parser.
func ParseLines(lines []string) []models.TrackingCall {
	p := NewParser()
	var calls []models.TrackingCall
	for _, line := range lines {
		calls = append(calls, p.ParseLine(line)...)
	}
	return calls
}

// ParseReader parses newline-separated search output.
func ParseReader(r io.Reader) ([]models.TrackingCall, error) {
	p := NewParser()
	var calls []models.TrackingCall

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		calls = append(calls, p.ParseLine(scanner.Text())...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search output: %w", err)
	}
	return calls, nil
}

type property struct {
	key string
	typ string
}

func parseProperties(raw string) []property {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		s = s[1 : len(s)-1]
	}

	var props []property
	for _, m := range propertyPattern.FindAllStringSubmatch(s, -1) {
		props = append(props, property{
			key: strings.Trim(m[1], `"'`),
			typ: InferType(strings.TrimSpace(m[2])),
		})
	}
	return props
}

// InferType guesses a property type from its literal value.
func InferType(value string) string {
	switch {
	case strings.HasPrefix(value, `"`) || strings.HasPrefix(value, "'"):
		return TypeString
	case value == "true" || value == "false" || value == "True" || value == "False":
		return TypeBool
	case numberPattern.MatchString(value):
		return TypeNumber
	default:
		return TypeUnknown
	}
}
