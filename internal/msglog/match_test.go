package msglog

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	p := pending("local-1", "u-self", "hi", base)
	in := confirmed("m1", "u-self", "hi", base)
	window := 10 * time.Second

	tests := []struct {
		name     string
		pending  model.Message
		incoming model.Message
		arrived  time.Time
		want     bool
	}{
		{"same sender and content", p, in, base.Add(time.Second), true},
		{"arrived at creation", p, in, base, true},
		{"edge of window", p, in, base.Add(window), true},
		{"past window", p, in, base.Add(window + time.Nanosecond), false},
		{"arrived before creation", p, in, base.Add(-time.Second), false},
		{"different sender", p, confirmed("m1", "u-bob", "hi", base), base, false},
		{"different content", p, confirmed("m1", "u-self", "hello", base), base, false},
		{"entry already confirmed", confirmed("m0", "u-self", "hi", base), in, base, false},
		{"incoming still pending", p, pending("local-2", "u-self", "hi", base), base, false},
		{"server clock slightly behind", p, confirmed("m1", "u-self", "hi", base.Add(-3*time.Second)), base.Add(time.Second), true},
		{"record created a day earlier", p, confirmed("m1", "u-self", "hi", base.Add(-24*time.Hour)), base.Add(time.Second), false},
		{"record created past window", p, confirmed("m1", "u-self", "hi", base.Add(window+time.Second)), base.Add(time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.pending, tt.incoming, tt.arrived, window))
		})
	}

	failed := p
	failed.State = model.Failed
	assert.False(t, Matches(failed, in, base, window), "failed entries are excluded")
}
