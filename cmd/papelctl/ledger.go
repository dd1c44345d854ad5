package main

import (
	"context"
	"flag"

	"papelflow/internal/core"

	"github.com/google/subcommands"
)

type accountCmd struct {
	id       string
	name     string
	kind     string
	currency string
	opening  string
}

func (*accountCmd) Name() string     { return "account" }
func (*accountCmd) Synopsis() string { return "open an account" }
func (*accountCmd) Usage() string {
	return `papelctl account -name <name> -kind <kind> -currency <code> [-opening <amount>] [-id <id>]

  Opens an account. Kinds: checking, savings, cash, investment, credit_card, loan.
`
}

func (c *accountCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Account id (generated when empty)")
	f.StringVar(&c.name, "name", "", "Display name")
	f.StringVar(&c.kind, "kind", "checking", "Account kind")
	f.StringVar(&c.currency, "currency", "EUR", "ISO 4217 currency code")
	f.StringVar(&c.opening, "opening", "0", "Opening balance")
}

func (c *accountCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind, err := core.ParseAccountKind(c.kind)
	if err != nil {
		return usageError("%v", err)
	}
	opening, err := core.ParseAmount(c.opening)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		a, err := s.svc.Ledger.CreateAccount(ctx, core.Account{
			ID:             c.id,
			Name:           c.name,
			Kind:           kind,
			Currency:       c.currency,
			OpeningBalance: opening,
		})
		if err != nil {
			return err
		}
		return printJSON(a)
	})
}

type postCmd struct {
	id       string
	kind     string
	amount   string
	date     string
	account  string
	to       string
	category string
	payee    string
	notes    string
}

func (*postCmd) Name() string     { return "post" }
func (*postCmd) Synopsis() string { return "post a transaction to the ledger" }
func (*postCmd) Usage() string {
	return `papelctl post -kind <expense|income|transfer> -amount <amount> -a <account> [-to <account>] [-c <category>] [-d <date>]

  Posts a transaction and applies it to the account balances.
`
}

func (c *postCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.id, "id", "", "Transaction id; replaying an id is rejected")
	f.StringVar(&c.kind, "kind", "expense", "Transaction kind")
	f.StringVar(&c.amount, "amount", "", "Positive amount")
	f.StringVar(&c.date, "d", "", "Value date (defaults to today)")
	f.StringVar(&c.account, "a", "", "Source account id")
	f.StringVar(&c.to, "to", "", "Destination account id for transfers")
	f.StringVar(&c.category, "c", "", "Category id for expenses and income")
	f.StringVar(&c.payee, "payee", "", "Payee")
	f.StringVar(&c.notes, "notes", "", "Free text notes")
}

func (c *postCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	kind, err := core.ParseTransactionKind(c.kind)
	if err != nil {
		return usageError("%v", err)
	}
	amount, err := core.ParseAmount(c.amount)
	if err != nil {
		return usageError("%v", err)
	}
	date, err := dateFlag(c.date)
	if err != nil {
		return usageError("%v", err)
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		tx, err := s.svc.Ledger.PostTransaction(ctx, core.Transaction{
			ID:                   c.id,
			Kind:                 kind,
			Amount:               amount,
			Date:                 date,
			AccountID:            c.account,
			DestinationAccountID: c.to,
			CategoryID:           c.category,
			Payee:                c.payee,
			Notes:                c.notes,
		})
		if err != nil {
			return err
		}
		return printJSON(tx)
	})
}

type deleteCmd struct{}

func (*deleteCmd) Name() string     { return "delete" }
func (*deleteCmd) Synopsis() string { return "delete a transaction and reverse its effects" }
func (*deleteCmd) Usage() string {
	return `papelctl delete <transaction-id>...
`
}
func (*deleteCmd) SetFlags(*flag.FlagSet) {}

func (*deleteCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		return usageError("at least one transaction id is required")
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		for _, id := range f.Args() {
			if err := s.svc.Ledger.DeleteTransaction(ctx, id); err != nil {
				return err
			}
		}
		return printJSON(map[string]any{"deleted": f.Args()})
	})
}

type repairCmd struct{}

func (*repairCmd) Name() string     { return "repair" }
func (*repairCmd) Synopsis() string { return "finish or undo a transaction left pending repair" }
func (*repairCmd) Usage() string {
	return `papelctl repair <transaction-id>
`
}
func (*repairCmd) SetFlags(*flag.FlagSet) {}

func (*repairCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		return usageError("exactly one transaction id is required")
	}
	return withSession(ctx, func(ctx context.Context, s *session) error {
		res, err := s.svc.Ledger.RepairTransaction(ctx, f.Arg(0))
		if err != nil {
			return err
		}
		return printJSON(res)
	})
}

type verifyCmd struct{}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check stored balances against the transaction history" }
func (*verifyCmd) Usage() string {
	return `papelctl verify [<account-id>...]

  Verifies the given accounts, or every account when none is given.
`
}
func (*verifyCmd) SetFlags(*flag.FlagSet) {}

func (*verifyCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return withSession(ctx, func(ctx context.Context, s *session) error {
		ids := f.Args()
		if len(ids) == 0 {
			accounts, err := s.svc.Ledger.ListAccounts(ctx)
			if err != nil {
				return err
			}
			for _, a := range accounts {
				ids = append(ids, a.ID)
			}
		}
		var out []any
		for _, id := range ids {
			v, err := s.svc.Ledger.VerifyAccount(ctx, id)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return printJSON(out)
	})
}
