package workflow

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/capitalexpress/operaciones_backend/models"
)

// StagingReaper periodically deletes staging rows past their TTL. These are
// submissions where a worker never reported back, plus partial rows recreated
// by redeliveries after finalization.
type StagingReaper struct {
	Logger *logrus.Logger

	TTL          time.Duration
	PollInterval time.Duration
}

func NewStagingReaper(logger *logrus.Logger) *StagingReaper {
	ttl := 168 * time.Hour
	if v := os.Getenv("STAGING_TTL_HOURS"); v != "" {
		if hours, err := strconv.Atoi(v); err == nil && hours > 0 {
			ttl = time.Duration(hours) * time.Hour
		}
	}
	return &StagingReaper{
		Logger:       logger,
		TTL:          ttl,
		PollInterval: time.Hour,
	}
}

func (r *StagingReaper) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.reapOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.PollInterval):
		}
	}
}

func (r *StagingReaper) reapOnce(ctx context.Context) {
	removed, err := models.ReapExpiredStaging(ctx, r.TTL)
	if err != nil {
		r.Logger.WithFields(logrus.Fields{"error": err.Error()}).Error("reaper: failed to delete expired staging rows")
		return
	}
	if removed > 0 {
		r.Logger.WithFields(logrus.Fields{
			"removed": removed,
			"ttl":     r.TTL.String(),
		}).Warn("reaper: expired staging rows removed")
	}
}
