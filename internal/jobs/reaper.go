package jobs

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"coderoom/internal/utils"
)

const DefaultReapSchedule = "@every 1m"

// Reaper is the part of the room registry the job drives.
type Reaper interface {
	Reap() int
}

// RoomReaperJob periodically drops rooms that have no members and nothing left to persist.
type RoomReaperJob struct {
	rooms    Reaper
	schedule string
	log      *utils.Logger
	cron     *cron.Cron
}

func NewRoomReaperJob(rooms Reaper, schedule string, log *utils.Logger) *RoomReaperJob {
	if schedule == "" {
		schedule = DefaultReapSchedule
	}
	if log == nil {
		log = utils.NopLogger()
	}
	return &RoomReaperJob{
		rooms:    rooms,
		schedule: schedule,
		log:      log,
		cron:     cron.New(),
	}
}

// Start schedules the job. An invalid schedule is returned as an error.
func (j *RoomReaperJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { j.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule room reaper: %w", err)
	}
	j.cron.Start()
	j.log.Info("room reaper started", "schedule", j.schedule)
	return nil
}

// Stop waits for a running pass to finish.
func (j *RoomReaperJob) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
		j.log.Info("room reaper stopped")
	}
}

// RunOnce performs a single reaping pass.
func (j *RoomReaperJob) RunOnce() int {
	n := j.rooms.Reap()
	if n > 0 {
		j.log.Info("idle rooms reaped", "count", n)
	}
	return n
}
