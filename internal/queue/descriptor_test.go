package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDescriptor_Key(t *testing.T) {
	a, err := NewDescriptor("trending", "trending:refresh", map[string]string{"platform": "YOUTUBE", "region": "US"}, Options{})
	require.NoError(t, err)
	b, err := NewDescriptor("trending", "trending:refresh", map[string]string{"platform": "YOUTUBE", "region": "US"}, Options{Attempts: 5})
	require.NoError(t, err)
	c, err := NewDescriptor("trending", "trending:refresh", map[string]string{"platform": "YOUTUBE", "region": "GB"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key(), "options do not change identity")
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Regexp(t, `^trending:trending:refresh:[0-9a-f]{16}$`, a.Key())

	a.Options.IdempotencyKey = "refresh:YOUTUBE:US"
	assert.Equal(t, "refresh:YOUTUBE:US", a.Key())
}

func TestJobDescriptor_Fingerprint(t *testing.T) {
	base := JobDescriptor{
		Queue:   "stats",
		Name:    "stats:aggregate",
		Options: Options{Attempts: 3, Repeat: &RepeatSpec{Cron: "0 3 * * *"}},
	}
	same := base
	same.Options.Repeat = &RepeatSpec{Cron: "0 3 * * *"}

	moved := base
	moved.Options.Repeat = &RepeatSpec{Cron: "0 4 * * *"}

	moreAttempts := base
	moreAttempts.Options.Attempts = 4

	assert.Equal(t, base.Fingerprint(), same.Fingerprint())
	assert.Equal(t, base.Key(), moved.Key())
	assert.NotEqual(t, base.Fingerprint(), moved.Fingerprint())
	assert.NotEqual(t, base.Fingerprint(), moreAttempts.Fingerprint())
}

func TestJobDescriptor_Validate(t *testing.T) {
	valid := JobDescriptor{Queue: "q", Name: "n", Options: Options{Attempts: 1}}

	tests := []struct {
		name    string
		mutate  func(d *JobDescriptor)
		wantErr bool
	}{
		{name: "valid", mutate: func(*JobDescriptor) {}},
		{name: "missing queue", mutate: func(d *JobDescriptor) { d.Queue = "" }, wantErr: true},
		{name: "missing name", mutate: func(d *JobDescriptor) { d.Name = "" }, wantErr: true},
		{name: "zero attempts", mutate: func(d *JobDescriptor) { d.Options.Attempts = 0 }, wantErr: true},
		{name: "negative backoff", mutate: func(d *JobDescriptor) { d.Options.Backoff.Base = -time.Second }, wantErr: true},
		{name: "cron repeat", mutate: func(d *JobDescriptor) { d.Options.Repeat = &RepeatSpec{Cron: "*/5 * * * *"} }},
		{name: "every repeat", mutate: func(d *JobDescriptor) { d.Options.Repeat = &RepeatSpec{Every: time.Minute} }},
		{name: "bad cron", mutate: func(d *JobDescriptor) { d.Options.Repeat = &RepeatSpec{Cron: "every day"} }, wantErr: true},
		{name: "empty repeat", mutate: func(d *JobDescriptor) { d.Options.Repeat = &RepeatSpec{} }, wantErr: true},
		{
			name:    "both cron and every",
			mutate:  func(d *JobDescriptor) { d.Options.Repeat = &RepeatSpec{Cron: "* * * * *", Every: time.Minute} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJobDescriptor_WithDefaults(t *testing.T) {
	d := JobDescriptor{Queue: "q", Name: "n"}.WithDefaults()
	assert.Equal(t, 1, d.Options.Attempts)
	assert.Equal(t, BackoffExponential, d.Options.Backoff.Kind)
	assert.Equal(t, time.Second, d.Options.Backoff.Base)
	assert.NoError(t, d.Validate())
}

func TestRepeatSpec_Period(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	tests := []struct {
		spec RepeatSpec
		want time.Duration
	}{
		{spec: RepeatSpec{Cron: "0 */6 * * *"}, want: 6 * time.Hour},
		{spec: RepeatSpec{Cron: "0 * * * *"}, want: time.Hour},
		{spec: RepeatSpec{Cron: "30 3 * * *"}, want: 24 * time.Hour},
		{spec: RepeatSpec{Every: 30 * time.Minute}, want: 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.spec.Spec(), func(t *testing.T) {
			got, err := tt.spec.Period(from)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "@every 30m0s", RepeatSpec{Every: 30 * time.Minute}.Spec())
}
