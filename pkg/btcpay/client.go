package btcpay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"donorledger/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("btcpay", fx.Provide(NewClient))

// Rate is one spot-rate quote for a currency pair, e.g. XMR_USD.
type Rate struct {
	CurrencyPair string
	Rate         float64
}

// PaymentMethod is one settlement leg of an invoice: the currency used, the
// fiat rate at settlement time and the amount paid in crypto units.
type PaymentMethod struct {
	PaymentMethod string
	CryptoCode    string
	Rate          float64
	Amount        float64
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	storeID    string
}

type Params struct {
	fx.In
	Config *config.Config
}

func NewClient(p Params) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    p.Config.BTCPay.BaseURL,
		apiKey:     p.Config.BTCPay.APIKey,
		storeID:    p.Config.BTCPay.StoreID,
	}
}

// The processor reports monetary values as JSON strings.
type rateResponse struct {
	CurrencyPair string `json:"currencyPair"`
	Rate         string `json:"rate"`
}

type paymentMethodResponse struct {
	PaymentMethod string `json:"paymentMethod"`
	CryptoCode    string `json:"cryptoCode"`
	Rate          string `json:"rate"`
	Amount        string `json:"amount"`
}

// GetRates fetches the current spot rate(s) for a currency pair such as
// BTC_USD. The caller uses the first entry.
func (c *Client) GetRates(ctx context.Context, currencyPair string) ([]Rate, error) {
	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/rates?currencyPair=%s",
		c.baseURL, c.storeID, url.QueryEscape(currencyPair))

	var raw []rateResponse
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	rates := make([]Rate, 0, len(raw))
	for _, r := range raw {
		rate, err := strconv.ParseFloat(r.Rate, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed rate %q for %s: %w", r.Rate, r.CurrencyPair, err)
		}
		rates = append(rates, Rate{CurrencyPair: r.CurrencyPair, Rate: rate})
	}

	return rates, nil
}

// GetInvoicePaymentMethods fetches the settlement breakdown for an invoice.
func (c *Client) GetInvoicePaymentMethods(ctx context.Context, invoiceID string) ([]PaymentMethod, error) {
	endpoint := fmt.Sprintf("%s/api/v1/stores/%s/invoices/%s/payment-methods",
		c.baseURL, c.storeID, url.PathEscape(invoiceID))

	var raw []paymentMethodResponse
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, err
	}

	methods := make([]PaymentMethod, 0, len(raw))
	for _, m := range raw {
		rate, err := strconv.ParseFloat(m.Rate, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed rate %q for invoice %s: %w", m.Rate, invoiceID, err)
		}
		amount, err := strconv.ParseFloat(m.Amount, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed amount %q for invoice %s: %w", m.Amount, invoiceID, err)
		}
		methods = append(methods, PaymentMethod{
			PaymentMethod: m.PaymentMethod,
			CryptoCode:    m.CryptoCode,
			Rate:          rate,
			Amount:        amount,
		})
	}

	return methods, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("btcpay request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("btcpay responded %d for %s", resp.StatusCode, endpoint)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
