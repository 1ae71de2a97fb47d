package largefile

import (
	"context"
	"time"

	"github.com/mmdatafocus/books_imports/config"
	"github.com/robfig/cron/v3"
)

// Janitor purges expired upload sessions on a cron schedule.
type Janitor struct {
	manager *Manager
	cron    *cron.Cron
}

func NewJanitor(m *Manager) *Janitor {
	return &Janitor{manager: m, cron: cron.New()}
}

// Start schedules the purge; spec is a cron expression or "@every 15m".
func (j *Janitor) Start(spec string) error {
	_, err := j.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := j.manager.PurgeExpired(ctx); err != nil {
			config.LogError(j.manager.Logger, "largefile", "Janitor", spec, nil, err)
		}
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
