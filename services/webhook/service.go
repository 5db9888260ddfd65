package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"donorledger/pkg/btcpay"
	"donorledger/pkg/config"
	"donorledger/pkg/db/option"
	"donorledger/pkg/errutil"
	"donorledger/pkg/repository"
	"donorledger/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Processor is the payment processor's query surface the pipeline depends on.
type Processor interface {
	GetRates(ctx context.Context, currencyPair string) ([]btcpay.Rate, error)
	GetInvoicePaymentMethods(ctx context.Context, invoiceID string) ([]btcpay.PaymentMethod, error)
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	processor Processor
	seq       sequence.Generator

	secret string
	fiat   string

	donations  repository.Repository[Donation]
	points     repository.Repository[PointsEntry]
	balances   repository.Repository[PointsBalance]
	deliveries repository.Repository[WebhookDelivery]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Processor Processor
	Sequence  sequence.Generator `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		processor: p.Processor,
		seq:       p.Sequence,

		secret: p.Config.BTCPay.WebhookSecret,
		fiat:   p.Config.BTCPay.FiatCurrency,

		donations:  repository.ProvideStore[Donation](p.DB),
		points:     repository.ProvideStore[PointsEntry](p.DB),
		balances:   repository.ProvideStore[PointsBalance](p.DB),
		deliveries: repository.ProvideStore[WebhookDelivery](p.DB),

		now: time.Now,
	}
}

// Process runs the pipeline for one verified event. Deliberate skips return
// nil: the processor must receive an acknowledgement for them.
func (s *Service) Process(ctx context.Context, event *Event) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("event_type", event.Type),
		zap.String("invoice_id", event.InvoiceID),
	)

	switch event.Type {
	case EventInvoicePaymentSettled:
		// Non-API invoices are booked once, on full settlement.
		if !event.Metadata.APIGenerated() {
			zapLog.Info("skipping payment settlement for non api-generated invoice")
			return nil
		}
		return s.processClaimed(ctx, zapLog, event, s.processPartialSettlement)
	case EventInvoiceSettled:
		// API-generated invoices are already booked per payment.
		if event.Metadata.APIGenerated() {
			zapLog.Info("skipping invoice settlement for api-generated invoice")
			return nil
		}
		return s.processClaimed(ctx, zapLog, event, s.processFullSettlement)
	default:
		zapLog.Debug("ignoring unrecognized event type")
		return nil
	}
}

// processClaimed claims the delivery identifier before running fn, making a
// redelivered event a no-op. The claim is released on failure so the
// processor's retry can reprocess.
func (s *Service) processClaimed(ctx context.Context, zapLog *zap.Logger, event *Event, fn func(context.Context, *Event) error) error {
	claimed, err := s.claimDelivery(ctx, event)
	if err != nil {
		zapLog.Error("failed to record webhook delivery", zap.Error(err))
		return errutil.Internal("failed to record webhook delivery", err)
	}
	if !claimed {
		zapLog.Warn("duplicate webhook delivery, already processed",
			zap.String("delivery_id", event.DedupKey()))
		return nil
	}

	if err := fn(ctx, event); err != nil {
		if relErr := s.releaseDelivery(ctx, event); relErr != nil {
			zapLog.Error("failed to release delivery claim", zap.Error(relErr))
		}
		return err
	}

	return nil
}

func (s *Service) claimDelivery(ctx context.Context, event *Event) (bool, error) {
	key := event.DedupKey()
	if key == "" {
		return true, nil
	}

	meta, _ := json.Marshal(event.Metadata)
	err := s.deliveries.Create(ctx, &WebhookDelivery{
		ID:         s.node.Generate().String(),
		DeliveryID: key,
		InvoiceID:  event.InvoiceID,
		EventType:  event.Type,
		Metadata:   datatypes.JSON(meta),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (s *Service) releaseDelivery(ctx context.Context, event *Event) error {
	key := event.DedupKey()
	if key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("delivery_id = ?", key).Delete(&WebhookDelivery{}).Error
}

// processPartialSettlement books a single incremental payment toward an
// API-generated invoice.
func (s *Service) processPartialSettlement(ctx context.Context, event *Event) error {
	if event.Payment == nil || event.Payment.Value == "" {
		return errutil.BadRequest("payment settlement event carries no payment value", nil)
	}

	value, err := strconv.ParseFloat(event.Payment.Value, 64)
	if err != nil {
		return errutil.BadRequest("malformed payment value", err)
	}

	cryptoCode := CryptoXMR
	if event.PaymentMethod == PaymentMethodBTCOnChain {
		cryptoCode = CryptoBTC
	}

	rate, err := s.spotRate(ctx, cryptoCode)
	if err != nil {
		return err
	}

	return s.writeLeg(ctx, event, partialLeg(cryptoCode, value, rate))
}

// processFullSettlement books every payment method that contributed to a
// fully-settled invoice. Legs are fanned out concurrently and the call
// returns after all complete.
func (s *Service) processFullSettlement(ctx context.Context, event *Event) error {
	methods, err := s.processor.GetInvoicePaymentMethods(ctx, event.InvoiceID)
	if err != nil {
		return errutil.BadGateway("failed to fetch invoice payment methods", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, pm := range methods {
		if pm.Amount == 0 {
			// nothing was actually paid via this method
			continue
		}
		pm := pm
		g.Go(func() error {
			return s.writeLeg(gctx, event, settledLeg(pm, event.Metadata.PointsRequested()))
		})
	}

	return g.Wait()
}

func (s *Service) spotRate(ctx context.Context, cryptoCode string) (float64, error) {
	pair := cryptoCode + "_" + s.fiat
	rates, err := s.processor.GetRates(ctx, pair)
	if err != nil {
		return 0, errutil.BadGateway("failed to fetch exchange rate", err)
	}
	if len(rates) == 0 {
		return 0, errutil.BadGateway(fmt.Sprintf("no exchange rate available for %s", pair), nil)
	}
	return rates[0].Rate, nil
}

// writeLeg persists one donation and, when due, its points-history entry as a
// single transaction. A leg already booked for this (invoice, crypto code)
// pair is a no-op: after a partial fan-out failure the released claim lets the
// processor re-drive the whole invoice, and the committed legs must not book
// again. A duplicate-key conflict on the scope balance means a concurrent leg
// created it first; the transaction is retried once to retake the lock on the
// now-existing row.
func (s *Service) writeLeg(ctx context.Context, event *Event, leg donationLeg) error {
	code := s.donationCode(ctx)

	var userID *string
	if event.Metadata.UserID != "" {
		uid := event.Metadata.UserID
		userID = &uid
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			existing, err := s.donations.WithTrx(tx).FindOne(ctx, &Donation{
				InvoiceID:  event.InvoiceID,
				CryptoCode: leg.CryptoCode,
			})
			if err != nil {
				return err
			}
			if existing != nil {
				zap.L().Info("donation leg already booked, skipping",
					zap.String("invoice_id", event.InvoiceID),
					zap.String("crypto_code", leg.CryptoCode),
				)
				return nil
			}

			donation := &Donation{
				ID:                s.node.Generate().String(),
				Code:              code,
				UserID:            userID,
				InvoiceID:         event.InvoiceID,
				ProjectName:       event.Metadata.ProjectName,
				ProjectSlug:       event.Metadata.ResolvedProjectSlug(),
				FundSlug:          event.Metadata.FundSlug,
				CryptoCode:        leg.CryptoCode,
				GrossCryptoAmount: leg.GrossCrypto,
				GrossFiatAmount:   leg.GrossFiat,
				NetCryptoAmount:   leg.NetCrypto,
				NetFiatAmount:     leg.NetFiat,
				PointsAdded:       leg.Points,
			}
			if event.Metadata.Membership() {
				expires := s.now().AddDate(1, 0, 0)
				donation.MembershipExpiresAt = &expires
			}

			if err := s.donations.WithTrx(tx).Create(ctx, donation); err != nil {
				return err
			}

			if leg.Points <= 0 || userID == nil {
				return nil
			}

			return s.appendPoints(ctx, tx, donation)
		})
		if err == nil || !errors.Is(err, gorm.ErrDuplicatedKey) {
			break
		}
	}
	if err != nil {
		return errutil.Internal("failed to persist donation leg", err)
	}

	return nil
}

// appendPoints chains a new ledger entry onto the donor's running balance for
// the (user, fund, project) scope, under a row lock held for the remainder of
// the enclosing transaction.
func (s *Service) appendPoints(ctx context.Context, tx *gorm.DB, donation *Donation) error {
	scope := &PointsBalance{
		UserID:      *donation.UserID,
		FundSlug:    donation.FundSlug,
		ProjectSlug: donation.ProjectSlug,
	}

	// Explicit conditions rather than a struct query: an empty project slug
	// must match only the empty-slug scope, not every scope.
	balance, err := s.balances.WithTrx(tx).FindOne(ctx, &PointsBalance{},
		option.ApplyOperator(option.Condition{Field: "user_id", Operator: option.EQ, Value: scope.UserID}),
		option.ApplyOperator(option.Condition{Field: "fund_slug", Operator: option.EQ, Value: scope.FundSlug}),
		option.ApplyOperator(option.Condition{Field: "project_slug", Operator: option.EQ, Value: scope.ProjectSlug}),
		option.WithLockingUpdate(),
	)
	if err != nil {
		return err
	}

	var prior int64
	if balance == nil {
		// Seed from the latest positive award so a ledger that predates the
		// balance table keeps its running total.
		last, err := s.latestPointsEntry(ctx, tx, scope)
		if err != nil {
			return err
		}
		if last != nil {
			prior = last.PointsBalance
		}

		balance = &PointsBalance{
			ID:          s.node.Generate().String(),
			UserID:      scope.UserID,
			FundSlug:    scope.FundSlug,
			ProjectSlug: scope.ProjectSlug,
			Balance:     prior,
		}
		if err := s.balances.WithTrx(tx).Create(ctx, balance); err != nil {
			return err
		}
	} else {
		prior = balance.Balance
	}

	entry := &PointsEntry{
		ID:            s.node.Generate().String(),
		DonationID:    donation.ID,
		UserID:        scope.UserID,
		FundSlug:      scope.FundSlug,
		ProjectSlug:   scope.ProjectSlug,
		PointsAdded:   donation.PointsAdded,
		PointsBalance: prior + donation.PointsAdded,
	}
	if err := s.points.WithTrx(tx).Create(ctx, entry); err != nil {
		return err
	}

	return s.balances.WithTrx(tx).Update(ctx, balance.ID, map[string]any{
		"balance":    gorm.Expr("balance + ?", donation.PointsAdded),
		"updated_at": time.Now(),
	})
}

// latestPointsEntry returns the most recent positive-award entry for a scope,
// or nil when the scope has none.
func (s *Service) latestPointsEntry(ctx context.Context, tx *gorm.DB, scope *PointsBalance) (*PointsEntry, error) {
	return s.points.WithTrx(tx).FindOne(ctx, &PointsEntry{},
		option.ApplyOperator(option.Condition{Field: "user_id", Operator: option.EQ, Value: scope.UserID}),
		option.ApplyOperator(option.Condition{Field: "fund_slug", Operator: option.EQ, Value: scope.FundSlug}),
		option.ApplyOperator(option.Condition{Field: "project_slug", Operator: option.EQ, Value: scope.ProjectSlug}),
		option.ApplyOperator(option.Condition{Field: "points_added", Operator: option.GT, Value: 0}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}

func (s *Service) donationCode(ctx context.Context) string {
	if s.seq != nil {
		code, err := s.seq.NextDonationCode(ctx)
		if err == nil {
			return code
		}
		zap.L().Warn("sequence generator unavailable, using fallback code", zap.Error(err))
	}

	code, err := GenerateDonationCode()
	if err != nil {
		return fmt.Sprintf("DON-%s", s.node.Generate())
	}
	return code
}
