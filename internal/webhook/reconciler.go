// Package webhook reconciles asynchronous payment notifications with order
// state. Notifications may be duplicated, concurrent, and out of order; the
// reconciler's state machine is pending → paid and pending → cancelled, with
// both targets terminal.
package webhook

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dmereles/vitrine/internal/notify"
	"github.com/dmereles/vitrine/internal/order"
	"github.com/dmereles/vitrine/internal/payment"
)

// TopicPayment is the only notification topic the reconciler acts on.
const TopicPayment = "payment"

// emailTimeout bounds the notification fanout so a slow relay cannot hold
// the webhook request open indefinitely.
const emailTimeout = 10 * time.Second

// Outcome reports what a notification did. Every field is observable so
// tests and logs can tell a no-op acknowledgment from a real transition.
type Outcome struct {
	// Processed is false for foreign topics and unknown orders.
	Processed bool
	// Transitioned is true when the order status actually changed.
	Transitioned bool
	From, To     order.Status
	// EmailErrors collects failed notification sends. Delivery failures
	// never undo the transition.
	EmailErrors []error
}

// Reconciler applies payment notifications to orders.
type Reconciler struct {
	gateway    payment.Gateway
	orders     order.Repository
	mailer     notify.Mailer
	adminEmail string
}

// NewReconciler creates a Reconciler. adminEmail receives the operator copy
// of payment confirmations; when empty, only the customer email is sent.
func NewReconciler(gateway payment.Gateway, orders order.Repository, mailer notify.Mailer, adminEmail string) *Reconciler {
	return &Reconciler{
		gateway:    gateway,
		orders:     orders,
		mailer:     mailer,
		adminEmail: adminEmail,
	}
}

// HandleNotification processes one notification. The returned error is for
// server-side logging only: the HTTP layer acknowledges with 200 regardless,
// per the processor contract, to stop retry storms.
//
// The payment status is always re-fetched from the gateway by resourceID;
// a status embedded in the callback itself is never trusted.
func (r *Reconciler) HandleNotification(ctx context.Context, topic, resourceID string) (Outcome, error) {
	if topic != TopicPayment {
		return Outcome{}, nil
	}

	p, err := r.gateway.GetPayment(ctx, resourceID)
	if err != nil {
		return Outcome{}, errors.Wrapf(err, "fetch payment %s", resourceID)
	}

	o, err := r.orders.GetByID(ctx, p.ExternalReference)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			// A payment we did not create, or a stale reference.
			// Acknowledge and move on.
			zctx.From(ctx).Warn("payment references unknown order",
				zap.String("payment_id", p.ID),
				zap.String("external_reference", p.ExternalReference),
			)
			return Outcome{}, nil
		}
		return Outcome{}, errors.Wrapf(err, "resolve order %s", p.ExternalReference)
	}

	switch p.Status {
	case payment.StatusApproved:
		return r.markPaid(ctx, o)
	case payment.StatusFailure, payment.StatusCancelled, payment.StatusRejected:
		return r.markCancelled(ctx, o)
	default:
		// pending, in_process and friends: nothing to do yet.
		return Outcome{Processed: true, From: o.Status, To: o.Status}, nil
	}
}

// markPaid transitions the order to paid exactly once. The conditional
// update is the idempotence guard: a duplicate or concurrently replayed
// notification loses the compare-and-set and sends no second email pair.
func (r *Reconciler) markPaid(ctx context.Context, o *order.Order) (Outcome, error) {
	out := Outcome{Processed: true, From: o.Status, To: order.StatusPaid}

	updated, err := r.orders.UpdateStatusIfNot(ctx, o.ID, order.StatusPaid, order.StatusCancelled)
	if err != nil {
		return out, errors.Wrapf(err, "mark order %s paid", o.ID)
	}
	if !updated {
		out.To = o.Status
		return out, nil
	}
	out.Transitioned = true

	out.EmailErrors = r.sendConfirmations(ctx, o)
	return out, nil
}

// markCancelled transitions the order to cancelled unless it is already
// paid: a fulfilled payment cannot be retroactively cancelled here.
func (r *Reconciler) markCancelled(ctx context.Context, o *order.Order) (Outcome, error) {
	out := Outcome{Processed: true, From: o.Status, To: order.StatusCancelled}

	updated, err := r.orders.UpdateStatusIfNot(ctx, o.ID, order.StatusCancelled, order.StatusPaid)
	if err != nil {
		return out, errors.Wrapf(err, "mark order %s cancelled", o.ID)
	}
	if !updated {
		out.To = o.Status
		return out, nil
	}
	out.Transitioned = true
	return out, nil
}

// sendConfirmations delivers the admin and customer emails concurrently,
// bounded by emailTimeout. Failures are logged and collected; they never
// fail the notification.
func (r *Reconciler) sendConfirmations(ctx context.Context, o *order.Order) []error {
	sendCtx, cancel := context.WithTimeout(ctx, emailTimeout)
	defer cancel()

	msgs := []notify.Message{notify.PaymentConfirmed(o)}
	if r.adminEmail != "" {
		msgs = append(msgs, notify.PaymentConfirmedAdmin(o, r.adminEmail))
	}

	results := make([]error, len(msgs))
	g, gctx := errgroup.WithContext(sendCtx)
	for i, msg := range msgs {
		g.Go(func() error {
			results[i] = r.mailer.Send(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	lg := zctx.From(ctx)
	for i, err := range results {
		if err != nil {
			lg.Error("payment confirmation email failed",
				zap.String("order_id", o.ID),
				zap.String("to", msgs[i].To),
				zap.Error(err),
			)
			failed = append(failed, err)
		}
	}
	return failed
}
