// Package search finds candidate tracking call sites in a checked-out repository.
package search

import (
	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

// quote matches either string delimiter after an opening parenthesis.
const quote = `['"]`

// universalPatterns are searched for every SDK.
var universalPatterns = []models.SearchPattern{
	{Pattern: `log_event\(`, OutputFile: "universal"},
	{Pattern: `send_event\(`, OutputFile: "universal"},
	{Pattern: `logEvent\(`, OutputFile: "universal"},
	{Pattern: `trackEvent\(`, OutputFile: "universal"},
}

var sdkPatterns = map[models.TrackingSDK][]string{
	models.SDKGoogleAnalytics: {
		`gtag\(` + quote + `event`, `ga\(` + quote + `send` + quote + `,\s*` + quote + `event`,
		`logEvent\(`, `firebase\.analytics\(\)\.logEvent\(`,
	},
	models.SDKFirebaseAnalytics: {
		`logEvent\(`, `firebase\.analytics\(\)\.logEvent\(`,
	},
	models.SDKGtag: {
		`gtag\(` + quote + `event`, `ga\(` + quote + `send` + quote + `,\s*` + quote + `event`, `logEvent\(`,
	},
	models.SDKSegment: {
		`analytics\.track\(` + quote, `Analytics\.track\(` + quote, `enqueue\s*\(\s*analytics\.Track`,
	},
	models.SDKMixpanel: {
		`mixpanel\.track\(` + quote, `Mixpanel\.mainInstance\(\)\.track\(`,
		`Mixpanel\.logEvent\(` + quote, `mixpanel\.track_pageview\(`,
	},
	models.SDKAmplitude: {
		`amplitude\.logEvent\(` + quote, `Amplitude\.instance\(\)\.logEvent\(` + quote, `amplitude\.Event\{`,
	},
	models.SDKRudderstack: {
		`rudderanalytics\.track\(` + quote, `Rudder\.sharedInstance\(\)\.track\(`, `RudderClient\.getInstance\(\)\.track\(`,
	},
	models.SDKMParticle: {
		`mp\.logEvent\(` + quote, `MParticle\.sharedInstance\(\)\.logEvent\(`, `MParticle\.logEvent\(` + quote,
	},
	models.SDKPostHog: {
		`posthog\.capture\(` + quote, `PHGPostHog\.shared\(\)\?\.capture\(`,
	},
	models.SDKPendo: {
		`pendo\.track\(` + quote, `PendoManager\.shared\(\)\.track\(`,
	},
	models.SDKHeap: {
		`heap\.track\(` + quote, `Heap\.track\(` + quote,
	},
	models.SDKSnowplow: {
		`snowplow\(` + quote, `trackUnstructured\(`, `SPSnowplow\.track\(`, `Snowplow\.track\(`,
	},
}

// PatternsFor returns the universal patterns followed by the patterns for sdk.
// An unknown SDK gets only the universal patterns.
func PatternsFor(sdk models.TrackingSDK) []models.SearchPattern {
	patterns := make([]models.SearchPattern, 0, len(universalPatterns)+len(sdkPatterns[sdk]))
	patterns = append(patterns, universalPatterns...)
	for _, p := range sdkPatterns[sdk] {
		patterns = append(patterns, models.SearchPattern{Pattern: p, OutputFile: string(sdk)})
	}
	return patterns
}
