package main

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intelhub/adapters/triggers"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		level   string
		wantErr bool
	}{
		{name: "text info", format: "text", level: "info"},
		{name: "json debug", format: "JSON", level: "debug"},
		{name: "bad level", format: "text", level: "loud", wantErr: true},
		{name: "bad format", format: "xml", level: "info", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := newLogger(&buf, tt.format, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			logger.Info("hello")
			assert.Contains(t, buf.String(), "hello")
		})
	}
}

func TestNewLogger_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
}

func TestBuildEvent(t *testing.T) {
	tests := []struct {
		name    string
		kind    triggers.Kind
		data    string
		title   string
		message string
		want    triggers.Event
		wantErr bool
	}{
		{
			name: "revenue update",
			kind: triggers.KindRevenueUpdate,
			data: `{"amount":500,"period":"2025-07"}`,
			want: triggers.Event{Kind: triggers.KindRevenueUpdate, Data: []byte(`{"amount":500,"period":"2025-07"}`)},
		},
		{
			name: "update without data",
			kind: triggers.KindMetricUpdate,
			want: triggers.Event{Kind: triggers.KindMetricUpdate, Data: []byte(`null`)},
		},
		{
			name:    "invalid json",
			kind:    triggers.KindProcessUpdate,
			data:    `{"id":`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			kind:    "lead_update",
			data:    `{}`,
			wantErr: true,
		},
		{
			name:    "alert",
			kind:    triggers.KindAlert,
			title:   "Payments",
			message: "webhook failing",
			want:    triggers.NewAlertEvent("warning", "Payments", "webhook failing"),
		},
		{
			name:    "empty alert",
			kind:    triggers.KindAlert,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := buildEvent(tt.kind, tt.data, "warning", tt.title, tt.message)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, event)
		})
	}
}

func TestWatchFlags_CapReconnectDelay(t *testing.T) {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	addWatchFlags(flags)

	maxDelay, err := flags.GetDuration("reconnect-max-delay")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, maxDelay)

	require.NoError(t, flags.Parse([]string{"--reconnect-max-delay=0"}))
	maxDelay, err = flags.GetDuration("reconnect-max-delay")
	require.NoError(t, err)
	assert.Zero(t, maxDelay)
}
