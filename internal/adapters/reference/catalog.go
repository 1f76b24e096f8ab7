package reference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/eleven-am/mesbatch/internal/domain"
)

// Catalog is an in-memory ReferenceCatalog. Workflows and formulas are
// validated on registration, handed out as copies, and never replaced once
// registered: a running batch keeps executing the definition it started with.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]domain.Workflow
	formulas  map[string]domain.Formula
	logger    *slog.Logger
}

func NewCatalog(logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		workflows: make(map[string]domain.Workflow),
		formulas:  make(map[string]domain.Formula),
		logger:    logger.With("component", "catalog", "type", "memory"),
	}
}

func (c *Catalog) RegisterWorkflow(workflow domain.Workflow) error {
	if err := workflow.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.workflows[workflow.ID]; exists {
		return fmt.Errorf("workflow %s already registered: %w", workflow.ID, domain.ErrInvalidInput)
	}
	c.workflows[workflow.ID] = workflow.Clone()
	c.logger.Info("workflow registered", "workflow_id", workflow.ID, "steps", len(workflow.Steps))
	return nil
}

func (c *Catalog) RegisterFormula(formula domain.Formula) error {
	if err := formula.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.formulas[formula.ID]; exists {
		return fmt.Errorf("formula %s already registered: %w", formula.ID, domain.ErrInvalidInput)
	}
	formula.Items = append([]domain.BOMItem(nil), formula.Items...)
	c.formulas[formula.ID] = formula
	c.logger.Info("formula registered", "formula_id", formula.ID, "items", len(formula.Items))
	return nil
}

func (c *Catalog) Workflow(ctx context.Context, id string) (domain.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	workflow, ok := c.workflows[id]
	if !ok {
		return domain.Workflow{}, domain.NewNotFoundError("workflow", id)
	}
	return workflow.Clone(), nil
}

func (c *Catalog) Formula(ctx context.Context, id string) (domain.Formula, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	formula, ok := c.formulas[id]
	if !ok {
		return domain.Formula{}, domain.NewNotFoundError("formula", id)
	}
	formula.Items = append([]domain.BOMItem(nil), formula.Items...)
	return formula, nil
}
