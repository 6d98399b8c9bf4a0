package rules

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

// minMerchantLenForSuggestion suppresses suggestions for merchants too short
// to be a meaningful match predicate.
const minMerchantLenForSuggestion = 3

// Service owns the rule lifecycle.
type Service struct {
	store service.Storage
}

// NewService creates a rule lifecycle service.
func NewService(store service.Storage) *Service {
	return &Service{store: store}
}

// CreateInput carries the user-supplied fields of a new rule.
type CreateInput struct {
	Name       string
	Priority   *int
	Enabled    *bool
	Conditions model.RuleConditions
	Action     model.RuleAction
	Source     model.RuleSource
}

// Create validates and persists a new rule. Priorities outside the valid
// range are clamped, never rejected. Exceeding the per-owner quota is a
// validation failure.
func (s *Service) Create(ctx context.Context, ownerID string, input CreateInput) (*model.Rule, error) {
	if err := s.validateDefinition(ctx, ownerID, input.Name, input.Conditions, input.Action); err != nil {
		return nil, err
	}

	count, err := s.store.CountRules(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if count >= model.MaxRulesPerOwner {
		return nil, common.Validationf("rule limit of %d reached", model.MaxRulesPerOwner)
	}

	source := input.Source
	if source == "" {
		source = model.RuleSourceUser
	}
	priority := model.DefaultUserPriority
	if source == model.RuleSourceSuggestion {
		priority = model.DefaultSuggestionPriority
	}
	if input.Priority != nil {
		priority = model.ClampPriority(*input.Priority)
	}
	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	rule := &model.Rule{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       input.Name,
		Enabled:    enabled,
		Priority:   priority,
		Conditions: input.Conditions,
		Action:     input.Action,
		Source:     source,
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	slog.Info("Rule created", "ruleId", rule.ID, "priority", rule.Priority, "source", rule.Source)
	return rule, nil
}

// Get retrieves one rule.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*model.Rule, error) {
	return s.store.GetRule(ctx, ownerID, id)
}

// List returns the owner's rules in evaluation order.
func (s *Service) List(ctx context.Context, ownerID string) ([]model.Rule, error) {
	return s.store.ListRules(ctx, ownerID, false)
}

// Update applies a partial update. Changed fields are re-validated the same
// way Create validates them; a changed priority is clamped.
func (s *Service) Update(ctx context.Context, ownerID, id string, update service.RuleUpdate) (*model.Rule, error) {
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, common.Validationf("rule name must not be empty")
	}
	if update.Conditions != nil {
		if err := validateConditions(*update.Conditions); err != nil {
			return nil, err
		}
	}
	if update.Action != nil {
		if err := s.validateAction(ctx, ownerID, *update.Action); err != nil {
			return nil, err
		}
	}
	if update.Priority != nil {
		clamped := model.ClampPriority(*update.Priority)
		update.Priority = &clamped
	}
	return s.store.UpdateRule(ctx, ownerID, id, update)
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	return s.store.DeleteRule(ctx, ownerID, id)
}

// Reorder assigns priorities from the given ordering: the first id gets the
// maximum priority and each following id one less. The batch is atomic; an
// unknown id fails the whole reorder.
func (s *Service) Reorder(ctx context.Context, ownerID string, orderedIDs []string) error {
	if len(orderedIDs) == 0 {
		return common.Validationf("ruleIds must not be empty")
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	priorities := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		if _, dup := seen[id]; dup {
			return common.Validationf("duplicate rule id %q in ordering", id)
		}
		seen[id] = struct{}{}
		priorities[id] = model.ClampPriority(model.MaxRulePriority - i)
	}
	return s.store.SetRulePriorities(ctx, ownerID, priorities)
}

// SuggestOnCorrection builds at most one rule suggestion after a manual
// correction. Suggestions are suppressed for short merchants, for
// merchant/category pairs the owner already dismissed, and when an existing
// rule already covers the merchant.
func (s *Service) SuggestOnCorrection(ctx context.Context, ownerID string, txn *model.Transaction, categoryID string) (*model.RuleSuggestion, error) {
	merchant := txn.MerchantNormalized
	if len(merchant) < minMerchantLenForSuggestion {
		return nil, nil
	}

	dismissed, err := s.store.HasDismissedSuggestion(ctx, ownerID, merchant, categoryID)
	if err != nil {
		return nil, err
	}
	if dismissed {
		return nil, nil
	}

	existing, err := s.store.ListRules(ctx, ownerID, false)
	if err != nil {
		return nil, err
	}
	for _, rule := range existing {
		if coversMerchant(rule.Conditions, merchant) {
			return nil, nil
		}
	}

	category, err := s.store.GetCategory(ctx, ownerID, categoryID)
	if err != nil {
		return nil, err
	}

	contains := merchant
	return &model.RuleSuggestion{
		ID: uuid.NewString(),
		Message: fmt.Sprintf("Always categorize %q as %s?",
			merchant, category.Name),
		Rule: model.RuleTemplate{
			Name:     fmt.Sprintf("%s → %s", merchant, category.Name),
			Priority: model.DefaultSuggestionPriority,
			Conditions: model.RuleConditions{
				MerchantContains: &contains,
			},
			Action: model.RuleAction{CategoryID: categoryID},
		},
	}, nil
}

// Accept turns a suggestion template into a persisted rule.
func (s *Service) Accept(ctx context.Context, ownerID string, template model.RuleTemplate) (*model.Rule, error) {
	priority := template.Priority
	if priority == 0 {
		priority = model.DefaultSuggestionPriority
	}
	return s.Create(ctx, ownerID, CreateInput{
		Name:       template.Name,
		Priority:   &priority,
		Conditions: template.Conditions,
		Action:     template.Action,
		Source:     model.RuleSourceSuggestion,
	})
}

// Dismiss records a declined suggestion so the same merchant/category pair
// never produces another one.
func (s *Service) Dismiss(ctx context.Context, ownerID, merchantNormalized, categoryID string) error {
	return s.store.CreateDismissedSuggestion(ctx, &model.DismissedSuggestion{
		ID:                 uuid.NewString(),
		OwnerID:            ownerID,
		MerchantNormalized: merchantNormalized,
		CategoryID:         categoryID,
		DismissedAt:        time.Now().UTC(),
	})
}

func (s *Service) validateDefinition(ctx context.Context, ownerID, name string, conditions model.RuleConditions, action model.RuleAction) error {
	if strings.TrimSpace(name) == "" {
		return common.Validationf("rule name must not be empty")
	}
	if err := validateConditions(conditions); err != nil {
		return err
	}
	return s.validateAction(ctx, ownerID, action)
}

func (s *Service) validateAction(ctx context.Context, ownerID string, action model.RuleAction) error {
	if action.CategoryID == "" {
		return common.Validationf("rule action requires a categoryId")
	}
	if err := model.ValidateTags(action.AddTags); err != nil {
		return err
	}
	if _, err := s.store.GetCategory(ctx, ownerID, action.CategoryID); err != nil {
		return err
	}
	return nil
}

func validateConditions(c model.RuleConditions) error {
	if !c.HasAny() {
		return common.Validationf("rule requires at least one condition")
	}
	if c.AmountMin != nil && c.AmountMax != nil && *c.AmountMin > *c.AmountMax {
		return common.Validationf("amountMin must not exceed amountMax")
	}
	if c.MerchantRegex != nil {
		if err := common.ValidatePattern(*c.MerchantRegex); err != nil {
			return err
		}
	}
	return nil
}

func coversMerchant(c model.RuleConditions, merchant string) bool {
	if c.MerchantExact != nil && strings.EqualFold(*c.MerchantExact, merchant) {
		return true
	}
	if c.MerchantContains != nil &&
		strings.Contains(strings.ToUpper(merchant), strings.ToUpper(*c.MerchantContains)) {
		return true
	}
	return false
}
