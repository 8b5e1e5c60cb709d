package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// UpcomingWindow は期限が「間近」と判定される期間です。
const UpcomingWindow = 48 * time.Hour

// DueDateStatus は期限の状態を表します。
type DueDateStatus int

const (
	DueDateNone DueDateStatus = iota
	DueDateOverdue
	DueDateUpcoming
	DueDateLongTerm
)

var dueDateStatusNames = map[DueDateStatus]string{
	DueDateNone:     "none",
	DueDateOverdue:  "overdue",
	DueDateUpcoming: "upcoming",
	DueDateLongTerm: "long_term",
}

func (s DueDateStatus) String() string {
	if name, ok := dueDateStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("DueDateStatus(%d)", int(s))
}

// MarshalJSON は状態を文字列として出力します。
func (s DueDateStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON は文字列から状態を復元します。
func (s *DueDateStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for status, n := range dueDateStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown due date status %q", name)
}

// DueDateStatusAt は now を基準に期限を分類します。
func DueDateStatusAt(due *time.Time, now time.Time) DueDateStatus {
	switch {
	case due == nil:
		return DueDateNone
	case due.Before(now):
		return DueDateOverdue
	case due.Before(now.Add(UpcomingWindow)):
		return DueDateUpcoming
	default:
		return DueDateLongTerm
	}
}

// StatusOf は現在時刻を基準に期限を分類します。
func StatusOf(due *time.Time) DueDateStatus {
	return DueDateStatusAt(due, time.Now())
}
