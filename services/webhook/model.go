package webhook

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"gorm.io/datatypes"
)

// Settlement event kinds emitted by the payment processor. Anything else is
// acknowledged without action.
const (
	// EventInvoicePaymentSettled fires once per individual payment received
	// toward an invoice. Processed only for API-generated (incremental)
	// invoices.
	EventInvoicePaymentSettled = "InvoicePaymentSettled"

	// EventInvoiceSettled fires once when an invoice is fully paid. Processed
	// only for invoices that are NOT API-generated, which the partial path
	// already covers.
	EventInvoiceSettled = "InvoiceSettled"
)

const (
	PaymentMethodBTCOnChain = "BTC-OnChain"

	CryptoBTC = "BTC"
	CryptoXMR = "XMR"
)

// Event is the inbound webhook payload. Untrusted until the signature over the
// raw body has been verified.
type Event struct {
	DeliveryID         string        `json:"deliveryId"`
	OriginalDeliveryID string        `json:"originalDeliveryId"`
	IsRedelivery       bool          `json:"isRedelivery"`
	Type               string        `json:"type"`
	StoreID            string        `json:"storeId"`
	InvoiceID          string        `json:"invoiceId"`
	Metadata           EventMetadata `json:"metadata"`

	// Present only on partial-settlement events.
	PaymentMethod string   `json:"paymentMethod"`
	Payment       *Payment `json:"payment"`
}

type Payment struct {
	Value string `json:"value"`
}

// DedupKey identifies a delivery across processor-side redeliveries: a
// redelivered event carries a fresh deliveryId but keeps originalDeliveryId.
func (e *Event) DedupKey() string {
	if e.OriginalDeliveryID != "" {
		return e.OriginalDeliveryID
	}
	return e.DeliveryID
}

// EventMetadata is the invoice metadata attached by the donation frontend.
// Boolean flags arrive as strings; they are parsed here, at the boundary, once.
type EventMetadata struct {
	StaticGeneratedForAPI string `json:"staticGeneratedForApi"`
	ProjectName           string `json:"projectName"`
	ProjectSlug           string `json:"projectSlug"`
	FundSlug              string `json:"fundSlug"`
	UserID                string `json:"userId"`
	GivePointsBack        string `json:"givePointsBack"`
	IsMembership          string `json:"isMembership"`
}

func parseFlag(s string) bool {
	return strings.EqualFold(s, "true")
}

// APIGenerated reports whether the invoice was generated through the API for
// incremental funding. It decides which settlement path owns the invoice.
func (m EventMetadata) APIGenerated() bool {
	return parseFlag(m.StaticGeneratedForAPI)
}

// PointsRequested reports whether the donor opted into the fee-for-points
// tradeoff.
func (m EventMetadata) PointsRequested() bool {
	return parseFlag(m.GivePointsBack)
}

// Membership reports whether this donation purchases a one-year membership.
func (m EventMetadata) Membership() bool {
	return parseFlag(m.IsMembership)
}

// ResolvedProjectSlug falls back to a slug derived from the project name when
// the invoice metadata carries none.
func (m EventMetadata) ResolvedProjectSlug() string {
	if m.ProjectSlug != "" {
		return m.ProjectSlug
	}
	return slug.Make(m.ProjectName)
}

// Donation is the durable financial record, one per qualifying payment leg.
// Append-only: never updated or deleted by this pipeline. At most one row may
// exist per (invoice, crypto code) pair, so a re-driven delivery cannot book
// a leg twice.
type Donation struct {
	ID                  string     `gorm:"column:id;primaryKey"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
	Code                string     `gorm:"column:code;uniqueIndex"`
	UserID              *string    `gorm:"column:user_id;index"`
	InvoiceID           string     `gorm:"column:invoice_id;uniqueIndex:idx_donation_leg;not null"`
	ProjectName         string     `gorm:"column:project_name"`
	ProjectSlug         string     `gorm:"column:project_slug;index"`
	FundSlug            string     `gorm:"column:fund_slug;index"`
	CryptoCode          string     `gorm:"column:crypto_code;uniqueIndex:idx_donation_leg;not null"`
	GrossCryptoAmount   float64    `gorm:"column:gross_crypto_amount"`
	GrossFiatAmount     float64    `gorm:"column:gross_fiat_amount"`
	NetCryptoAmount     float64    `gorm:"column:net_crypto_amount"`
	NetFiatAmount       float64    `gorm:"column:net_fiat_amount"`
	PointsAdded         int64      `gorm:"column:points_added;default:0"`
	MembershipExpiresAt *time.Time `gorm:"column:membership_expires_at"`
}

// PointsEntry is one row of the append-only loyalty ledger. PointsBalance is
// the running total for the (UserID, FundSlug, ProjectSlug) scope as of this
// entry; entries are never edited.
type PointsEntry struct {
	ID            string    `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	DonationID    string    `gorm:"column:donation_id;index;not null"`
	UserID        string    `gorm:"column:user_id;index;not null"`
	FundSlug      string    `gorm:"column:fund_slug;index"`
	ProjectSlug   string    `gorm:"column:project_slug;index"`
	PointsAdded   int64     `gorm:"column:points_added;not null"`
	PointsBalance int64     `gorm:"column:points_balance;not null"`
}

// PointsBalance holds the current total per scope. It exists so concurrent
// legs can serialize on a row lock; the composite unique index makes the
// first-creator race detectable as a duplicate-key conflict.
type PointsBalance struct {
	ID          string    `gorm:"column:id;primaryKey"`
	UserID      string    `gorm:"column:user_id;uniqueIndex:idx_points_scope;not null"`
	FundSlug    string    `gorm:"column:fund_slug;uniqueIndex:idx_points_scope;not null"`
	ProjectSlug string    `gorm:"column:project_slug;uniqueIndex:idx_points_scope;not null"`
	Balance     int64     `gorm:"column:balance;not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

// WebhookDelivery records each processed delivery identifier so processor-side
// redelivery becomes a no-op instead of double-booking.
type WebhookDelivery struct {
	ID         string         `gorm:"column:id;primaryKey"`
	DeliveryID string         `gorm:"column:delivery_id;uniqueIndex;not null"`
	InvoiceID  string         `gorm:"column:invoice_id;index"`
	EventType  string         `gorm:"column:event_type"`
	Metadata   datatypes.JSON `gorm:"column:metadata"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
}

// GenerateDonationCode builds a fallback reference code when the sequence
// generator is unavailable.
func GenerateDonationCode() (string, error) {
	datePart := time.Now().UTC().Format("20060102")

	r := make([]byte, 3)
	if _, err := rand.Read(r); err != nil {
		return "", err
	}

	return fmt.Sprintf("DON-%s-%s", datePart, strings.ToUpper(fmt.Sprintf("%x", r))), nil
}
