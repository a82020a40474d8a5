package toolcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_TTLFor(t *testing.T) {
	p := Policy{
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     time.Hour,
		ToolTTLs: map[string]time.Duration{
			"cdn.":           10 * time.Minute,
			"cdn.analytics.": 2 * time.Hour, // clamped
			"cdn.realtime.":  -1,            // never cached
		},
	}

	assert.Equal(t, 5*time.Minute, p.TTLFor("github.issues.list"))
	assert.Equal(t, 10*time.Minute, p.TTLFor("cdn.zones.list"))
	assert.Equal(t, time.Hour, p.TTLFor("cdn.analytics.report"))
	assert.Zero(t, p.TTLFor("cdn.realtime.stats"))
}

func TestPolicy_Disabled(t *testing.T) {
	var p Policy
	assert.False(t, p.ShouldCache())
	assert.Zero(t, p.TTLFor("anything"))

	d := DefaultPolicy()
	assert.True(t, d.ShouldCache())
	assert.Equal(t, 5*time.Minute, d.TTLFor("anything"))
}
