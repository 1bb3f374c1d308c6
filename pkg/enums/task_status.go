package enums

import "fmt"

// TaskStatus maps to the task_status_enum enum in Postgres.
type TaskStatus string

const (
	TaskStatusInProgress    TaskStatus = "in_progress"
	TaskStatusPendingReview TaskStatus = "pending_review"
	TaskStatusApproved      TaskStatus = "approved"
	TaskStatusRejected      TaskStatus = "rejected"
)

var validTaskStatuses = []TaskStatus{
	TaskStatusInProgress,
	TaskStatusPendingReview,
	TaskStatusApproved,
	TaskStatusRejected,
}

func (s TaskStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical task status enum.
func (s TaskStatus) IsValid() bool {
	for _, candidate := range validTaskStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseTaskStatus converts raw input into TaskStatus.
func ParseTaskStatus(value string) (TaskStatus, error) {
	for _, candidate := range validTaskStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid task status %q", value)
}
