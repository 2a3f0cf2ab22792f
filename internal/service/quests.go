package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/quest-platform/internal/apperror"
	"github.com/sakif/quest-platform/internal/model"
	"github.com/sakif/quest-platform/internal/repository"
	"github.com/sakif/quest-platform/internal/validator"
)

// QuestInput is the request body for quests. Progress, TotalSteps and
// IconName are optional on create and required on update.
type QuestInput struct {
	Title       string  `json:"title" validate:"required,max=200"`
	Description string  `json:"description" validate:"required"`
	Points      *int    `json:"points" validate:"required,gte=0"`
	Progress    *int    `json:"progress" validate:"omitnil,gte=0"`
	TotalSteps  *int    `json:"totalSteps" validate:"omitnil,gte=1"`
	IconName    *string `json:"iconName" validate:"omitnil,max=50"`
	Type        string  `json:"type" validate:"required,oneof=DAILY WEEKLY"`
}

type QuestService struct {
	quests repository.QuestRepository
	logger *slog.Logger
}

func NewQuestService(quests repository.QuestRepository, logger *slog.Logger) *QuestService {
	return &QuestService{quests: quests, logger: logger}
}

func (s *QuestService) Create(ctx context.Context, in QuestInput) (*model.Quest, error) {
	if err := validator.Validate(in); err != nil {
		return nil, validator.ToAppError(err)
	}

	quest := &model.Quest{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Points:      *in.Points,
		TotalSteps:  model.DefaultQuestTotalSteps,
		IconName:    model.DefaultQuestIcon,
		Type:        model.QuestType(in.Type),
	}
	if in.Progress != nil {
		quest.Progress = *in.Progress
	}
	if in.TotalSteps != nil {
		quest.TotalSteps = *in.TotalSteps
	}
	if in.IconName != nil && *in.IconName != "" {
		quest.IconName = *in.IconName
	}

	if err := s.quests.Create(ctx, quest); err != nil {
		return nil, fmt.Errorf("service/quests: creating quest: %w", err)
	}

	s.logger.Info("quest created", slog.String("id", quest.ID))
	return quest, nil
}

// List returns every quest with its derived status.
func (s *QuestService) List(ctx context.Context) ([]model.QuestView, error) {
	quests, err := s.quests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/quests: listing quests: %w", err)
	}
	views := make([]model.QuestView, 0, len(quests))
	for _, q := range quests {
		views = append(views, q.View())
	}
	return views, nil
}

// Update replaces every field of quest id.
func (s *QuestService) Update(ctx context.Context, id string, in QuestInput) (*model.Quest, error) {
	if err := validator.Validate(in); err != nil {
		return nil, validator.ToAppError(err)
	}

	var missing []string
	if in.Progress == nil {
		missing = append(missing, "progress")
	}
	if in.TotalSteps == nil {
		missing = append(missing, "totalSteps")
	}
	if in.IconName == nil || *in.IconName == "" {
		missing = append(missing, "iconName")
	}
	if len(missing) > 0 {
		return nil, apperror.ValidationFailed(strings.Join(missing, ","),
			"missing required fields: "+strings.Join(missing, ", ")).WithCode("missing_fields")
	}

	quest := &model.Quest{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Points:      *in.Points,
		Progress:    *in.Progress,
		TotalSteps:  *in.TotalSteps,
		IconName:    *in.IconName,
		Type:        model.QuestType(in.Type),
	}
	if err := s.quests.Update(ctx, quest); err != nil {
		return nil, wrapRepoErr("service/quests: updating quest", err)
	}

	updated, err := s.quests.GetByID(ctx, id)
	if err != nil {
		return nil, wrapRepoErr("service/quests: reloading quest", err)
	}
	s.logger.Info("quest updated", slog.String("id", id))
	return updated, nil
}

func (s *QuestService) Delete(ctx context.Context, id string) error {
	if err := s.quests.Delete(ctx, id); err != nil {
		return wrapRepoErr("service/quests: deleting quest", err)
	}
	s.logger.Info("quest deleted", slog.String("id", id))
	return nil
}
