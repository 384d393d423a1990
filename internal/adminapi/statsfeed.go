package adminapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"nybot/internal/broker"
	"nybot/internal/events"
	"nybot/internal/storage"
	logx "nybot/pkg/logx"
)

// StatsFeedOff disables the periodic stats push.
const StatsFeedOff = "off"

// StatsFeed periodically publishes stats_updated so open dashboards refresh
// their counters without polling.
type StatsFeed struct {
	schedule string
	store    storage.Reader
	broker   *broker.Broker
	log      logx.Logger
	timeout  time.Duration

	c *cron.Cron
}

var statsParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewStatsFeed validates schedule. It returns nil when the schedule is "off"
// or there is no store to read from.
func NewStatsFeed(schedule string, store storage.Reader, b *broker.Broker, log logx.Logger) (*StatsFeed, error) {
	schedule = strings.TrimSpace(schedule)
	if strings.EqualFold(schedule, StatsFeedOff) || schedule == "" || store == nil {
		return nil, nil
	}
	if b == nil {
		return nil, errors.New("statsfeed: broker is required")
	}
	if _, err := statsParser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("statsfeed: invalid schedule %q: %w", schedule, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &StatsFeed{
		schedule: schedule,
		store:    store,
		broker:   b,
		log:      log.With(logx.String("comp", "statsfeed")),
		timeout:  10 * time.Second,
	}, nil
}

// Tick publishes one stats_updated event. It skips the query when nobody listens.
func (f *StatsFeed) Tick(ctx context.Context) error {
	if f.broker.Len() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	st, err := f.store.Stats(ctx)
	if err != nil {
		return err
	}
	rep := f.broker.Publish(events.New(events.StatsUpdated{
		TotalUsers:     st.TotalUsers,
		TotalGreetings: st.TotalGreetings,
		TotalMessages:  st.TotalMessages,
	}))
	f.log.Debug("stats pushed", logx.Int("delivered", rep.Delivered), logx.Int("dropped", rep.Dropped))
	return nil
}

// Run schedules Tick until ctx is done. A nil feed returns immediately.
func (f *StatsFeed) Run(ctx context.Context) error {
	if f == nil {
		return nil
	}
	f.c = cron.New(cron.WithParser(statsParser), cron.WithLocation(time.UTC))
	_, err := f.c.AddFunc(f.schedule, func() {
		if err := f.Tick(ctx); err != nil && ctx.Err() == nil {
			f.log.Warn("stats push failed", logx.Err(err))
		}
	})
	if err != nil {
		return err
	}
	f.c.Start()
	f.log.Info("stats feed started", logx.String("schedule", f.schedule))

	<-ctx.Done()
	stopped := f.c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		f.log.Warn("stats feed stop timed out")
	}
	return nil
}
