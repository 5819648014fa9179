package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/elonfeng/modelwatch/internal/config"
	"github.com/elonfeng/modelwatch/pkg/catalog"
)

func TestSourceKind(t *testing.T) {
	tests := map[string]catalog.SourceKind{
		"github":    catalog.SourceCodeHost,
		" GH ":      catalog.SourceCodeHost,
		"hf":        catalog.SourceModelHub,
		"model-hub": catalog.SourceModelHub,
		"gitlab":    catalog.SourceKind("gitlab"),
	}
	for in, want := range tests {
		assert.Equal(t, want, sourceKind(in), in)
	}
}

func TestSetupLogging(t *testing.T) {
	cfg := config.Default()
	assert.NoError(t, setupLogging(cfg))

	logLevel = "verbose"
	t.Cleanup(func() { logLevel = "" })
	assert.Error(t, setupLogging(cfg))

	logLevel = ""
	cfg.Log.Format = "xml"
	assert.Error(t, setupLogging(cfg))
}

func TestBuildAlertManagerSkipsIncompleteDestinations(t *testing.T) {
	cfg := config.Default()
	assert.False(t, buildAlertManager(cfg).HasNotifiers())

	cfg.Alerts.Slack.Enabled = true
	assert.False(t, buildAlertManager(cfg).HasNotifiers(), "enabled without a URL")

	cfg.Alerts.Slack.WebhookURL = "https://hooks.slack.test/x"
	assert.True(t, buildAlertManager(cfg).HasNotifiers())
}
