package trackingparser

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/tracking-engine/pkg/models"
)

func TestParseLine_NoProperties(t *testing.T) {
	p := NewParser()
	got := p.ParseLine(`src/app.js:12:5:  analytics.track("Signed Up");`)

	want := []models.TrackingCall{{
		EventName:           "Signed Up",
		PropertyKey:         NotApplicable,
		PropertyDescription: NotApplicable,
		PropertyType:        NotApplicable,
		FilePath:            "src/app.js",
		LineNumber:          12,
		CodeLine:            `analytics.track("Signed Up");`,
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseLine mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLine_InlineProperties(t *testing.T) {
	p := NewParser()
	got := p.ParseLine(`web/checkout.ts:40:3:analytics.track('Order Completed', { plan: "pro", seats: 3, trial: false, source: ref })`)

	require.Len(t, got, 4)
	types := map[string]string{}
	for _, c := range got {
		assert.Equal(t, "Order Completed", c.EventName)
		assert.Equal(t, "web/checkout.ts:40", c.Location())
		assert.Equal(t, NotApplicable, c.PropertyDescription)
		types[c.PropertyKey] = c.PropertyType
	}

	want := map[string]string{"plan": TypeString, "seats": TypeNumber, "trial": TypeBool, "source": TypeUnknown}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("property types mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLine_QuotedKeys(t *testing.T) {
	p := NewParser()
	got := p.ParseLine(`app.py:7:1:posthog.capture("page_viewed", {"path": "/home"})`)

	require.Len(t, got, 1)
	assert.Equal(t, "path", got[0].PropertyKey)
	assert.Equal(t, TypeString, got[0].PropertyType)
}

func TestParseLine_UnparseablePropertiesNeedReview(t *testing.T) {
	p := NewParser()
	got := p.ParseLine(`Tracker.swift:22:9:Amplitude.instance().logEvent("Tapped", [buildProps()])`)

	require.Len(t, got, 1)
	assert.Equal(t, NeedsManualReview, got[0].PropertyKey)
	assert.Equal(t, ManualReviewMessage, got[0].PropertyDescription)
	assert.Equal(t, ManualReviewType, got[0].PropertyType)
}

func TestParseLine_NotATrackingCall(t *testing.T) {
	p := NewParser()
	assert.Nil(t, p.ParseLine(`src/util.js:1:1:const x = 1;`))
	assert.Nil(t, p.ParseLine(`not search output`))
	assert.Nil(t, p.ParseLine(`src/app.js:3:1:analytics.track(eventName)`))
}

func TestParseLine_DeduplicatesSameCallSite(t *testing.T) {
	p := NewParser()
	line := `src/app.js:12:5:analytics.track("Signed Up");`

	require.Len(t, p.ParseLine(line), 1)
	assert.Nil(t, p.ParseLine(line))

	// Same code in another file is a distinct call site.
	assert.Len(t, p.ParseLine(`src/other.js:12:5:analytics.track("Signed Up");`), 1)
}

func TestParseLine_SDKShapes(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		eventName string
	}{
		{"gtag", `a.js:1:1:gtag('event', 'login')`, "event"},
		{"google analytics positional", `a.js:1:1:ga('send', 'event', 'Video')`, ""},
		{"firebase", `a.kt:1:1:firebase.analytics().logEvent("purchase")`, "purchase"},
		{"mixpanel", `a.js:1:1:mixpanel.track("Played")`, "Played"},
		{"rudderstack", `a.js:1:1:rudderanalytics.track("Clicked")`, "Clicked"},
		{"mparticle", `a.swift:1:1:MParticle.sharedInstance().logEvent("Viewed")`, "Viewed"},
		{"pendo", `a.js:1:1:pendo.track("Guide Seen")`, "Guide Seen"},
		{"heap", `a.js:1:1:heap.track("Added")`, "Added"},
		{"ruby hash", `a.rb:1:1:Analytics.track({ event: 'Signed In' })`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewParser().ParseLine(tt.line)
			if tt.eventName == "" {
				assert.Nil(t, got)
				return
			}
			require.NotEmpty(t, got)
			assert.Equal(t, tt.eventName, got[0].EventName)
		})
	}
}

func TestParseReader(t *testing.T) {
	input := strings.Join([]string{
		`src/a.js:1:1:analytics.track("One")`,
		`src/a.js:1:1:analytics.track("One")`,
		`src/b.js:9:2:analytics.track("Two", {count: 2})`,
		``,
		`garbage`,
	}, "\n")

	calls, err := ParseReader(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "One", calls[0].EventName)
	assert.Equal(t, "count", calls[1].PropertyKey)
	assert.Equal(t, 9, calls[1].LineNumber)
}

func TestInferType(t *testing.T) {
	tests := map[string]string{
		`"x"`:     TypeString,
		`'x'`:     TypeString,
		`true`:    TypeBool,
		`False`:   TypeBool,
		`True`:    TypeBool,
		`TRUE`:    TypeUnknown,
		`tRuE`:    TypeUnknown,
		`42`:      TypeNumber,
		`-1.5`:    TypeNumber,
		`user.id`: TypeUnknown,
		`1.2.3`:   TypeUnknown,
	}
	for in, want := range tests {
		assert.Equal(t, want, InferType(in), in)
	}
}
