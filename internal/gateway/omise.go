package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"

	"github.com/zbnerd/TutorFlow/internal/money"
)

// Omise adapts the Omise API to PaymentGateway and Disburser.
// Charge ids are the payment references; recipient ids are the payout accounts.
type Omise struct {
	client  *omise.Client
	timeout time.Duration
	log     *slog.Logger
}

// NewOmise creates an Omise client bounded by timeout per call
func NewOmise(publicKey, secretKey string, timeout time.Duration, log *slog.Logger) (*Omise, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create omise client: %w", err)
	}
	c.SetDebug(false)
	return &Omise{client: c, timeout: timeout, log: log}, nil
}

func (o *Omise) VerifyPayment(ctx context.Context, reference string) (Verification, error) {
	ch := &omise.Charge{}
	err := o.do(ctx, func() error {
		return o.client.Do(ch, &operations.RetrieveCharge{ChargeID: reference})
	})
	if err != nil {
		return Verification{}, err
	}

	v := Verification{
		Reference: ch.ID,
		Amount:    money.New(ch.Amount, money.Currency(strings.ToUpper(ch.Currency))),
	}
	// omise statuses: pending / successful / failed / expired / reversed
	switch string(ch.Status) {
	case "successful":
		v.Status = CaptureCaptured
	case "pending":
		v.Status = CapturePending
	default:
		v.Status = CaptureFailed
	}
	return v, nil
}

// Refund refunds part of a charge. The key travels in the refund metadata and a refund
// already carrying it is returned instead of creating another.
func (o *Omise) Refund(ctx context.Context, reference string, amount money.Money, reason, idempotencyKey string) (RefundResult, error) {
	list := &omise.RefundList{}
	err := o.do(ctx, func() error {
		return o.client.Do(list, &operations.ListRefunds{
			ChargeID: reference,
			List:     operations.List{Limit: lookupLimit, Order: omise.ReverseChronological},
		})
	})
	if err != nil {
		return RefundResult{}, err
	}
	for _, existing := range list.Data {
		if hasKey(existing.Metadata, idempotencyKey) {
			o.log.InfoContext(ctx, "refund already exists", "charge_id", reference, "refund_id", existing.ID, "idempotency_key", idempotencyKey)
			return RefundResult{Reference: existing.ID}, nil
		}
	}

	ref := &omise.Refund{}
	req := &operations.CreateRefund{
		ChargeID: reference,
		Amount:   amount.Amount(),
		Metadata: map[string]interface{}{metadataKey: idempotencyKey, "reason": reason},
	}
	if err := o.do(ctx, func() error { return o.client.Do(ref, req) }); err != nil {
		return RefundResult{}, err
	}
	o.log.InfoContext(ctx, "refund created", "charge_id", reference, "refund_id", ref.ID, "amount", amount.Amount(), "reason", reason)
	return RefundResult{Reference: ref.ID}, nil
}

// Disburse creates a transfer to the recipient. Transfers have no native idempotency key,
// so the key is stored in the transfer metadata and recent transfers are searched for it first.
func (o *Omise) Disburse(ctx context.Context, account string, amount money.Money, idempotencyKey string) (Disbursement, error) {
	list := &omise.TransferList{}
	err := o.do(ctx, func() error {
		return o.client.Do(list, &operations.ListTransfers{
			List: operations.List{Limit: lookupLimit, Order: omise.ReverseChronological},
		})
	})
	if err != nil {
		return Disbursement{}, err
	}
	for _, existing := range list.Data {
		if existing.Recipient == account && hasKey(existing.Metadata, idempotencyKey) {
			o.log.InfoContext(ctx, "transfer already exists", "recipient", account, "transfer_id", existing.ID, "idempotency_key", idempotencyKey)
			return Disbursement{ConfirmationID: existing.ID}, nil
		}
	}

	tr := &omise.Transfer{}
	req := &operations.CreateTransfer{
		Amount:    amount.Amount(),
		Recipient: account,
		Metadata:  map[string]interface{}{metadataKey: idempotencyKey},
	}
	if err := o.do(ctx, func() error { return o.client.Do(tr, req) }); err != nil {
		return Disbursement{}, err
	}
	o.log.InfoContext(ctx, "transfer created", "recipient", account, "transfer_id", tr.ID, "idempotency_key", idempotencyKey)
	return Disbursement{ConfirmationID: tr.ID}, nil
}

const (
	metadataKey = "idempotency_key"
	// retries happen within days, well inside the newest page
	lookupLimit = 100
)

func hasKey(metadata map[string]interface{}, key string) bool {
	v, ok := metadata[metadataKey].(string)
	return ok && v == key
}

// do runs one API call and gives up when the timeout or ctx expires first
func (o *Omise) do(ctx context.Context, call func() error) error {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- call()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDeclined, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}
