package model

import "time"

// QuestType is how often a quest resets.
type QuestType string

const (
	QuestDaily  QuestType = "DAILY"
	QuestWeekly QuestType = "WEEKLY"
)

func (t QuestType) Valid() bool {
	return t == QuestDaily || t == QuestWeekly
}

// QuestStatus is derived from progress; it is not stored.
type QuestStatus string

const (
	QuestInProgress QuestStatus = "in_progress"
	QuestComplete   QuestStatus = "complete"
)

// Defaults applied when a quest is created without them.
const (
	DefaultQuestTotalSteps = 1
	DefaultQuestIcon       = "heart"
)

type Quest struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Points      int       `json:"points"`
	Progress    int       `json:"progress"`
	TotalSteps  int       `json:"totalSteps"`
	IconName    string    `json:"iconName"`
	Type        QuestType `json:"type"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status reports complete once progress reaches the step count.
func (q *Quest) Status() QuestStatus {
	if q.Progress >= q.TotalSteps {
		return QuestComplete
	}
	return QuestInProgress
}

// QuestView is a quest as returned by the list endpoint.
type QuestView struct {
	Quest
	Status QuestStatus `json:"status"`
}

func (q Quest) View() QuestView {
	return QuestView{Quest: q, Status: q.Status()}
}
