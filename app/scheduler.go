package app

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

const (
	retentionInterval = time.Hour
	sizeInterval      = 10 * time.Minute
)

// sweeper 定时清理需要的历史记录操作
type sweeper interface {
	EnforceRetention()
	EnforceSizeLimit()
	CleanupOrphans()
}

// scheduler 定时执行保留期限和空间上限清理
type scheduler struct {
	cron gocron.Scheduler
}

func newScheduler(s sweeper) (*scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("创建定时任务失败: %w", err)
	}

	jobs := []struct {
		name     string
		interval time.Duration
		run      func()
	}{
		{"retention", retentionInterval, func() {
			s.EnforceRetention()
			s.CleanupOrphans()
		}},
		{"size-limit", sizeInterval, s.EnforceSizeLimit},
	}
	for _, job := range jobs {
		run := job.run
		name := job.name
		_, err := cron.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(func() {
				logrus.WithField("job", name).Debug("执行定时清理")
				run()
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			cron.Shutdown()
			return nil, fmt.Errorf("注册定时任务 %s 失败: %w", name, err)
		}
	}
	return &scheduler{cron: cron}, nil
}

// Start 启动定时任务
func (s *scheduler) Start() {
	s.cron.Start()
}

// Shutdown 停止定时任务并等待正在执行的任务结束
func (s *scheduler) Shutdown() {
	if err := s.cron.Shutdown(); err != nil {
		logrus.WithError(err).Warn("停止定时任务失败")
	}
}

// JobNames 已注册的任务名
func (s *scheduler) JobNames() []string {
	var names []string
	for _, j := range s.cron.Jobs() {
		names = append(names, j.Name())
	}
	return names
}
