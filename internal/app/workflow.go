package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/heavensprominence/credparity/internal/approval"
	"github.com/heavensprominence/credparity/internal/parity"
	"github.com/heavensprominence/credparity/internal/storage"
)

// Trigger executes a manual mint or burn on behalf of an operator.
func (a *App) Trigger(ctx context.Context, opts TriggerOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	_, controller := a.newServices(store, nil)

	action, err := controller.Manual(ctx, parity.ManualRequest{
		Currency:   opts.Currency,
		ActionType: storage.ActionType(opts.ActionType),
		Amount:     opts.Amount,
		Reason:     opts.Reason,
		Actor: approval.Actor{
			ID:   opts.ActorID,
			Role: storage.Role(opts.ActorRole),
		},
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "%s %s %s recorded (action %d, transaction %s)\n",
		action.ActionType, action.Amount, action.Currency, action.ID, action.TransactionID)
	return nil
}

// SubmitTx pushes a transaction into the approval workflow.
func (a *App) SubmitTx(ctx context.Context, opts SubmitOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, _ := a.newServices(store, nil)

	req := approval.SubmitRequest{
		Amount:   opts.Amount,
		Currency: opts.Currency,
		Type:     storage.TransactionType(opts.Type),
	}
	if opts.FromWallet != "" {
		req.FromWallet = &opts.FromWallet
	}
	if opts.ToWallet != "" {
		req.ToWallet = &opts.ToWallet
	}

	tx, err := engine.Submit(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "transaction %s created: status=%s level=%s amount=%s %s\n",
		tx.ID, tx.Status, tx.ApprovalLevel, tx.Amount, tx.Currency)
	return nil
}

// DecideTx applies an approve/reject verdict to a pending transaction.
func (a *App) DecideTx(ctx context.Context, opts DecideOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, _ := a.newServices(store, nil)

	tx, err := engine.Decide(ctx, opts.TransactionID, approval.Decision(opts.Decision), approval.Actor{
		ID:   opts.ActorID,
		Role: storage.Role(opts.ActorRole),
	})
	if errors.Is(err, approval.ErrAlreadyDecided) {
		fmt.Fprintf(os.Stdout, "transaction %s was already decided: status=%s\n", tx.ID, tx.Status)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "transaction %s: status=%s\n", tx.ID, tx.Status)
	return nil
}

// EvaluateOnce runs a single on-demand evaluation for one currency.
func (a *App) EvaluateOnce(ctx context.Context, currency string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	_, controller := a.newServices(store, a.newFeed())

	action, err := controller.Evaluate(ctx, currency, time.Now().UTC())
	if err != nil {
		if parity.IsSkip(err) {
			fmt.Fprintf(os.Stdout, "no action: %s\n", err)
			return nil
		}
		return err
	}

	fmt.Fprintf(os.Stdout, "%s %s %s emitted (transaction %s)\n",
		action.ActionType, action.Amount, action.Currency, action.TransactionID)
	return nil
}
