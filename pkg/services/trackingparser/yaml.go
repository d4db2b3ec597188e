package trackingparser

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// AnalyzeTrackingFile is the YAML document produced by analyze-tracking style static analyzers.
type AnalyzeTrackingFile struct {
	Version int                             `yaml:"version"`
	Source  AnalyzeTrackingSource           `yaml:"source"`
	Events  map[string]AnalyzeTrackingEvent `yaml:"events"`

	hasVersion bool
}

// UnmarshalYAML records whether the version key was present, so version 0 is
// told apart from a missing version.
func (f *AnalyzeTrackingFile) UnmarshalYAML(value *yaml.Node) error {
	type plain AnalyzeTrackingFile
	if err := value.Decode((*plain)(f)); err != nil {
		return err
	}
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			if value.Content[i].Value == "version" {
				f.hasVersion = true
			}
		}
	}
	return nil
}

// AnalyzeTrackingSource identifies the analyzed commit.
type AnalyzeTrackingSource struct {
	Repository string    `yaml:"repository"`
	Commit     string    `yaml:"commit"`
	Timestamp  time.Time `yaml:"timestamp"`
}

// AnalyzeTrackingEvent lists where an event is sent and what it carries.
type AnalyzeTrackingEvent struct {
	Implementations []AnalyzeTrackingImplementation    `yaml:"implementations"`
	Properties      map[string]AnalyzeTrackingProperty `yaml:"properties"`
}

// AnalyzeTrackingImplementation is one call site.
type AnalyzeTrackingImplementation struct {
	Path        string `yaml:"path"`
	Line        int    `yaml:"line"`
	Function    string `yaml:"function"`
	Destination string `yaml:"destination,omitempty"`
}

// AnalyzeTrackingProperty describes one event property.
type AnalyzeTrackingProperty struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

// Context joins implementations as "path:line@function".
func (e AnalyzeTrackingEvent) Context() string {
	parts := make([]string, 0, len(e.Implementations))
	for _, impl := range e.Implementations {
		parts = append(parts, fmt.Sprintf("%s:%d@%s", impl.Path, impl.Line, impl.Function))
	}
	return strings.Join(parts, ",")
}

// Tags returns the unique "destination:X" tags, sorted.
func (e AnalyzeTrackingEvent) Tags() []string {
	seen := make(map[string]struct{})
	tags := []string{}
	for _, impl := range e.Implementations {
		if impl.Destination == "" {
			continue
		}
		tag := "destination:" + impl.Destination
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// ParseAnalyzeTrackingYAML reads and validates an analyze-tracking document.
func ParseAnalyzeTrackingYAML(r io.Reader) (*AnalyzeTrackingFile, error) {
	var doc AnalyzeTrackingFile
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("no data found in tracking yaml")
		}
		return nil, fmt.Errorf("failed to parse tracking yaml: %w", err)
	}

	if !doc.hasVersion {
		return nil, fmt.Errorf("tracking yaml is missing version")
	}
	for name := range doc.Events {
		if name == "" {
			return nil, fmt.Errorf("tracking yaml has an event with no name")
		}
	}
	return &doc, nil
}

// ToTrackingPlan converts the document into events sorted by name.
// FilePath and LineNumber come from the first implementation; an event with
// none has no location.
func (f *AnalyzeTrackingFile) ToTrackingPlan() *models.TrackingPlan {
	names := make([]string, 0, len(f.Events))
	for name := range f.Events {
		names = append(names, name)
	}
	sort.Strings(names)

	plan := &models.TrackingPlan{Data: make([]models.TrackingEvent, 0, len(names))}
	for _, name := range names {
		event := f.Events[name]
		props := make(map[string]string, len(event.Properties))
		for key, prop := range event.Properties {
			props[key] = prop.Type
		}

		te := models.TrackingEvent{
			EventName:  name,
			Properties: props,
			Context:    event.Context(),
			Tags:       event.Tags(),
		}
		if len(event.Implementations) > 0 {
			first := event.Implementations[0]
			te.Location = fmt.Sprintf("%s:%d", first.Path, first.Line)
			te.FilePath = first.Path
			te.LineNumber = first.Line
		}
		plan.Data = append(plan.Data, te)
	}
	return plan
}
