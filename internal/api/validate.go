package api

import (
	"strings"
	"time"

	"github.com/kylemclaren/chat-tasks/internal/db"
	"github.com/kylemclaren/chat-tasks/internal/recurrence"
)

type validationError string

func (e validationError) Error() string { return string(e) }

const (
	errEmptyTitle        validationError = "Title is required"
	errEmptyPrompt       validationError = "Prompt is required"
	errInvalidType       validationError = "Type must be one_time or scheduled"
	errInvalidFrequency  validationError = "Frequency must be once, hourly, daily, weekly or custom"
	errInvalidTime       validationError = "Hour must be 0-23 and minute 0-59"
	errEmptyWeekdays     validationError = "Weekly tasks need at least one day"
	errInvalidWeekday    validationError = "Days must be between 1 (Sunday) and 7 (Saturday)"
	errInvalidCron       validationError = "Invalid cron expression"
	errMissingWhen       validationError = "scheduled_at is required for one-time tasks"
	errInvalidWhen       validationError = "scheduled_at must be an RFC3339 timestamp"
	errCannotEnableOneOf validationError = "A completed one-time task needs a new scheduled_at to be enabled"
)

// validateTaskRequest checks a request before any state changes
func validateTaskRequest(req *TaskRequest) error {
	if strings.TrimSpace(req.Title) == "" {
		return errEmptyTitle
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return errEmptyPrompt
	}

	switch req.Type {
	case db.TaskTypeOneTime:
		if req.ScheduledAt == nil || *req.ScheduledAt == "" {
			return errMissingWhen
		}
		if _, err := time.Parse(time.RFC3339, *req.ScheduledAt); err != nil {
			return errInvalidWhen
		}
		return nil
	case db.TaskTypeScheduled, "":
	default:
		return errInvalidType
	}

	if req.Hour < 0 || req.Hour > 23 || req.Minute < 0 || req.Minute > 59 {
		return errInvalidTime
	}
	switch req.Frequency {
	case recurrence.Daily, recurrence.Hourly:
	case recurrence.Once:
		if req.ScheduledAt != nil && *req.ScheduledAt != "" {
			if _, err := time.Parse(time.RFC3339, *req.ScheduledAt); err != nil {
				return errInvalidWhen
			}
		}
	case recurrence.Weekly:
		if len(req.DaysOfWeek) == 0 {
			return errEmptyWeekdays
		}
		for _, d := range req.DaysOfWeek {
			if d < 1 || d > 7 {
				return errInvalidWeekday
			}
		}
	case recurrence.Custom:
		if _, err := recurrence.ParseCron(req.CronExpr); err != nil {
			return errInvalidCron
		}
	default:
		return errInvalidFrequency
	}
	return nil
}

// applyTaskRequest validates req and copies it onto task. Status only
// changes when Enabled is set.
func applyTaskRequest(task *db.Task, req *TaskRequest) error {
	if err := validateTaskRequest(req); err != nil {
		return err
	}

	task.Title = strings.TrimSpace(req.Title)
	task.Prompt = req.Prompt
	task.Type = req.Type
	if task.Type == "" {
		task.Type = db.TaskTypeScheduled
	}

	task.ScheduledAt = nil
	if req.ScheduledAt != nil && *req.ScheduledAt != "" {
		at, _ := time.Parse(time.RFC3339, *req.ScheduledAt)
		at = at.UTC()
		task.ScheduledAt = &at
	}

	if task.Type == db.TaskTypeOneTime {
		task.Frequency = ""
		task.Hour, task.Minute = 0, 0
		task.DaysOfWeek = nil
		task.CronExpr = ""
	} else {
		task.Frequency = req.Frequency
		task.Hour, task.Minute = req.Hour, req.Minute
		task.DaysOfWeek = nil
		if req.Frequency == recurrence.Weekly {
			task.DaysOfWeek = append([]int(nil), req.DaysOfWeek...)
		}
		task.CronExpr = ""
		if req.Frequency == recurrence.Custom {
			task.CronExpr = strings.TrimSpace(req.CronExpr)
		}
	}

	if req.Enabled != nil {
		switch {
		case *req.Enabled && task.Status == db.TaskStatusCompleted && req.ScheduledAt == nil:
			return errCannotEnableOneOf
		case *req.Enabled:
			task.Status = db.TaskStatusActive
		default:
			task.Status = db.TaskStatusPaused
		}
	}
	return nil
}
