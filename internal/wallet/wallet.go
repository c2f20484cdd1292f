// Package wallet defines the boundary to the external wallet ledger. The
// engine only issues credit instructions; balance consistency, retries and
// the actual money movement belong to the ledger on the other side.
package wallet

import (
	"context"
	"database/sql"
	"fmt"

	"gigline/internal/domain"
)

// Ledger receives credit instructions inside the engine's transaction so an
// instruction exists exactly when the invoice row says paid.
type Ledger interface {
	Credit(ctx context.Context, tx *sql.Tx, instr domain.WalletInstruction) error
}

// Outbox is the default ledger: one durable instruction row per paid invoice,
// consumed by the external ledger at its own pace.
type Outbox struct{}

func (Outbox) Credit(ctx context.Context, tx *sql.Tx, instr domain.WalletInstruction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_instructions(id,invoice_id,project_id,payee_id,amount,created_at) VALUES (?,?,?,?,?,?)`,
		instr.ID, instr.InvoiceID, instr.ProjectID, instr.PayeeID, instr.Amount.String(), instr.CreatedAt)
	if err != nil {
		return fmt.Errorf("record wallet instruction: %w", err)
	}
	return nil
}
