package config

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// RunIDKey optionally ties the analytics events of one run together.
const RunIDKey = "CHUNKTRANSFER_RUN_ID"

// TrackerFactory creates a tracker that adds properties to every event.
type TrackerFactory func(properties analytics.Properties) analytics.Tracker

// NewTracker returns nil when analytics are disabled.
func NewTracker(cfg Config, envRepo env.Repository, factory TrackerFactory) analytics.Tracker {
	if !cfg.Analytics {
		return nil
	}

	p := analytics.Properties{
		"backend":     string(cfg.Backend),
		"concurrency": cfg.Concurrency,
		"compress":    cfg.Compress,
	}
	if runID := envRepo.Get(RunIDKey); runID != "" {
		p["run_id"] = runID
	}
	return factory(p)
}

// NewDefaultTracker ...
func NewDefaultTracker(cfg Config, envRepo env.Repository, logger log.Logger) analytics.Tracker {
	return NewTracker(cfg, envRepo, func(p analytics.Properties) analytics.Tracker {
		return analytics.NewDefaultTracker(logger, p)
	})
}
