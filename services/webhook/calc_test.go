package webhook

import (
	"testing"

	"donorledger/pkg/btcpay"

	"github.com/stretchr/testify/require"
)

func TestPartialLeg(t *testing.T) {
	leg := partialLeg(CryptoXMR, 12.3456789, 162.0)

	require.Equal(t, CryptoXMR, leg.CryptoCode)
	require.Equal(t, 12.3456789, leg.GrossCrypto)
	require.Equal(t, 2000.0, leg.GrossFiat)
	require.Equal(t, leg.GrossCrypto, leg.NetCrypto)
	require.Equal(t, leg.GrossFiat, leg.NetFiat)
	require.Zero(t, leg.Points)
}

func TestSettledLegWithoutPoints(t *testing.T) {
	leg := settledLeg(btcpay.PaymentMethod{
		PaymentMethod: PaymentMethodBTCOnChain,
		CryptoCode:    CryptoBTC,
		Rate:          50000,
		Amount:        0.123456,
	}, false)

	require.Equal(t, CryptoBTC, leg.CryptoCode)
	require.Equal(t, 0.12, leg.GrossCrypto)
	require.Equal(t, 6172.8, leg.GrossFiat)
	require.Equal(t, leg.GrossCrypto, leg.NetCrypto)
	require.Equal(t, leg.GrossFiat, leg.NetFiat)
	require.Zero(t, leg.Points)
}

func TestSettledLegWithPoints(t *testing.T) {
	leg := settledLeg(btcpay.PaymentMethod{
		PaymentMethod: "XMR",
		CryptoCode:    CryptoXMR,
		Rate:          199.9,
		Amount:        0.1,
	}, true)

	require.Equal(t, 0.1, leg.GrossCrypto)
	require.Equal(t, 19.99, leg.GrossFiat)
	require.Equal(t, 0.09, leg.NetCrypto)
	require.InDelta(t, 0.09*199.9, leg.NetFiat, 1e-9)
	require.Equal(t, int64(1999), leg.Points)
}

func TestSettledLegPointsAreRoundedFiatCents(t *testing.T) {
	// Awkward float products must still land on exact cents.
	leg := settledLeg(btcpay.PaymentMethod{
		CryptoCode: CryptoBTC,
		Rate:       29.07,
		Amount:     1.0,
	}, true)

	require.Equal(t, 29.07, leg.GrossFiat)
	require.Equal(t, int64(2907), leg.Points)
}

func TestLegCryptoCodeFallback(t *testing.T) {
	require.Equal(t, CryptoBTC, legCryptoCode(btcpay.PaymentMethod{PaymentMethod: PaymentMethodBTCOnChain}))
	require.Equal(t, CryptoXMR, legCryptoCode(btcpay.PaymentMethod{PaymentMethod: "XMR"}))
	require.Equal(t, "LTC", legCryptoCode(btcpay.PaymentMethod{PaymentMethod: "BTC-OnChain", CryptoCode: "LTC"}))
}
