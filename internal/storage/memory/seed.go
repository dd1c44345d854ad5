package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"papelflow/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML fixture format accepted by NewFromFile.
type seedFile struct {
	Accounts []struct {
		ID             string          `yaml:"id"`
		Name           string          `yaml:"name"`
		Kind           string          `yaml:"kind"`
		Currency       string          `yaml:"currency"`
		OpeningBalance decimal.Decimal `yaml:"opening_balance"`
	} `yaml:"accounts"`
	Obligations []struct {
		ID         string          `yaml:"id"`
		Name       string          `yaml:"name"`
		Amount     decimal.Decimal `yaml:"amount"`
		Frequency  string          `yaml:"frequency"`
		NextDue    core.Date       `yaml:"next_due"`
		CategoryID string          `yaml:"category_id"`
		AccountID  string          `yaml:"account_id"`
		Inactive   bool            `yaml:"inactive"`
	} `yaml:"obligations"`
	Budgets []struct {
		CategoryID string          `yaml:"category_id"`
		Amount     decimal.Decimal `yaml:"amount"`
		Month      core.Month      `yaml:"month"`
		Rollover   bool            `yaml:"rollover"`
	} `yaml:"budgets"`
	Goals []struct {
		Name    string          `yaml:"name"`
		Target  decimal.Decimal `yaml:"target"`
		Current decimal.Decimal `yaml:"current"`
	} `yaml:"goals"`
}

// NewFromFile returns a Store seeded from a YAML fixture. A missing file
// yields an empty store.
func NewFromFile(path string) (*Store, error) {
	s := New()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	if err := s.Seed(context.Background(), data); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return s, nil
}

// Seed loads YAML fixtures into the store. Every entity is validated.
func (s *Store) Seed(ctx context.Context, data []byte) error {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	now := time.Now()

	for _, a := range f.Accounts {
		kind, err := core.ParseAccountKind(a.Kind)
		if err != nil {
			return err
		}
		acc := core.Account{
			ID:             a.ID,
			Name:           a.Name,
			Kind:           kind,
			Currency:       a.Currency,
			OpeningBalance: a.OpeningBalance,
			Balance:        a.OpeningBalance,
			Active:         true,
			CreatedAt:      now,
		}
		if acc.ID == "" {
			acc.ID = core.NewID()
		}
		if err := acc.Validate(); err != nil {
			return fmt.Errorf("account %s: %w", a.Name, err)
		}
		if err := s.CreateAccount(ctx, acc); err != nil {
			return err
		}
	}

	for _, o := range f.Obligations {
		freq, err := core.ParseFrequency(o.Frequency)
		if err != nil {
			return err
		}
		ob := core.RecurringObligation{
			ID:         o.ID,
			Name:       o.Name,
			Amount:     o.Amount,
			Frequency:  freq,
			NextDue:    o.NextDue,
			CategoryID: o.CategoryID,
			AccountID:  o.AccountID,
			Active:     !o.Inactive,
			CreatedAt:  now,
		}
		if ob.ID == "" {
			ob.ID = core.NewID()
		}
		if err := ob.Validate(); err != nil {
			return fmt.Errorf("obligation %s: %w", o.Name, err)
		}
		if err := s.CreateObligation(ctx, ob); err != nil {
			return err
		}
	}

	for _, b := range f.Budgets {
		budget := core.Budget{
			ID:         core.NewID(),
			CategoryID: b.CategoryID,
			Amount:     b.Amount,
			Month:      b.Month,
			Rollover:   b.Rollover,
		}
		if err := budget.Validate(); err != nil {
			return fmt.Errorf("budget %s: %w", b.CategoryID, err)
		}
		if err := s.CreateBudget(ctx, budget); err != nil {
			return err
		}
	}

	for _, g := range f.Goals {
		goal := core.Goal{ID: core.NewID(), Name: g.Name, Target: g.Target, Current: g.Current}
		if err := goal.Validate(); err != nil {
			return fmt.Errorf("goal %s: %w", g.Name, err)
		}
		if err := s.CreateGoal(ctx, goal); err != nil {
			return err
		}
	}

	return nil
}
