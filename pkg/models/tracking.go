package models

import (
	"fmt"
	"slices"
	"strings"
)

// ============================================================================
// Tracking SDKs and languages
// ============================================================================

// TrackingSDK identifies an analytics library whose call sites we search for.
type TrackingSDK string

const (
	SDKGoogleAnalytics   TrackingSDK = "google_analytics"
	SDKFirebaseAnalytics TrackingSDK = "firebase_analytics"
	SDKGtag              TrackingSDK = "gtag"
	SDKSegment           TrackingSDK = "segment"
	SDKMixpanel          TrackingSDK = "mixpanel"
	SDKAmplitude         TrackingSDK = "amplitude"
	SDKRudderstack       TrackingSDK = "rudderstack"
	SDKMParticle         TrackingSDK = "mparticle"
	SDKPostHog           TrackingSDK = "posthog"
	SDKPendo             TrackingSDK = "pendo"
	SDKHeap              TrackingSDK = "heap"
	SDKSnowplow          TrackingSDK = "snowplow"
)

// TrackingSDKs contains every supported SDK.
var TrackingSDKs = []TrackingSDK{
	SDKGoogleAnalytics, SDKFirebaseAnalytics, SDKGtag, SDKSegment,
	SDKMixpanel, SDKAmplitude, SDKRudderstack, SDKMParticle,
	SDKPostHog, SDKPendo, SDKHeap, SDKSnowplow,
}

// IsValid reports whether s is a supported SDK.
func (s TrackingSDK) IsValid() bool {
	return slices.Contains(TrackingSDKs, s)
}

// Language is a source language the scanner understands.
type Language string

const (
	LanguageJavaScript Language = "javascript"
	LanguageTypeScript Language = "typescript"
	LanguageSwift      Language = "swift"
	LanguageKotlin     Language = "kotlin"
	LanguageRuby       Language = "ruby"
	LanguageGo         Language = "go"
	LanguagePython     Language = "python"
)

// Languages contains every supported language.
var Languages = []Language{
	LanguageJavaScript, LanguageTypeScript, LanguageSwift, LanguageKotlin,
	LanguageRuby, LanguageGo, LanguagePython,
}

// IsValid reports whether l is a supported language.
func (l Language) IsValid() bool {
	return slices.Contains(Languages, l)
}

// ============================================================================
// Pipeline values
// ============================================================================

// DependencyReport is the outcome of dependency reconnaissance.
type DependencyReport struct {
	ProjectPath     string      `json:"project_path"`
	TrackingSDK     TrackingSDK `json:"tracking_sdk"`
	PackageFilePath string      `json:"package_file_path"`
	Language        Language    `json:"language"`
}

// Normalize lower-cases the enum fields so model output like "Segment" still validates.
func (r *DependencyReport) Normalize() {
	r.TrackingSDK = TrackingSDK(strings.ToLower(strings.TrimSpace(string(r.TrackingSDK))))
	r.Language = Language(strings.ToLower(strings.TrimSpace(string(r.Language))))
}

// Validate checks the report against the supported SDK and language sets.
func (r *DependencyReport) Validate() error {
	if !r.TrackingSDK.IsValid() {
		return fmt.Errorf("unsupported tracking sdk %q", r.TrackingSDK)
	}
	if !r.Language.IsValid() {
		return fmt.Errorf("unsupported language %q", r.Language)
	}
	if r.PackageFilePath == "" {
		return fmt.Errorf("package_file_path is required")
	}
	return nil
}

// SearchPattern is one regular expression to search the repo for.
// OutputFile names the bucket matches are grouped under in reports.
type SearchPattern struct {
	Pattern    string `json:"pattern"`
	OutputFile string `json:"output_file"`
}

// TrackingCall is one parsed row: a single property of a single call site.
// Calls without properties produce one row with PropertyKey "N/A".
type TrackingCall struct {
	EventName           string `json:"event_name"`
	PropertyKey         string `json:"property_key"`
	PropertyDescription string `json:"property_description"`
	PropertyType        string `json:"property_type"`
	FilePath            string `json:"file_path"`
	LineNumber          int    `json:"line_number"`
	CodeLine            string `json:"code_line"`
}

// Location returns "path:line".
func (c TrackingCall) Location() string {
	return fmt.Sprintf("%s:%d", c.FilePath, c.LineNumber)
}

// TrackingEvent is a call site with its properties collapsed into a map of name to type.
type TrackingEvent struct {
	EventName  string            `json:"event_name"`
	Properties map[string]string `json:"properties"`
	Context    string            `json:"context"`
	Location   string            `json:"location"`
	FilePath   string            `json:"-"`
	LineNumber int               `json:"-"`
	Tags       []string          `json:"-"`
}

// TrackingPlan is the normalized result of a scan or import.
type TrackingPlan struct {
	Data []TrackingEvent `json:"data"`
}
