package webhook

import (
	"math"
	"strings"

	"donorledger/pkg/btcpay"
)

// pointsFeeFactor is the share of the gross amount kept by the donor when
// they opt into points: a 10% fee is retained in exchange for the award.
const pointsFeeFactor = 0.9

// donationLeg is the computed monetary outcome for one payment leg.
type donationLeg struct {
	CryptoCode  string
	GrossCrypto float64
	GrossFiat   float64
	NetCrypto   float64
	NetFiat     float64
	Points      int64
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// partialLeg prices a single incremental payment. The crypto value is taken
// as given; fiat is rounded at derivation. No fee, no points on this path.
func partialLeg(cryptoCode string, value, rate float64) donationLeg {
	fiat := round2(value * rate)
	return donationLeg{
		CryptoCode:  cryptoCode,
		GrossCrypto: value,
		GrossFiat:   fiat,
		NetCrypto:   value,
		NetFiat:     fiat,
	}
}

// settledLeg prices one payment method of a fully-settled invoice. When the
// donor requested points, the net amounts carry the fee and the award is the
// rounded gross fiat amount in integer cents.
func settledLeg(pm btcpay.PaymentMethod, pointsRequested bool) donationLeg {
	leg := donationLeg{
		CryptoCode:  legCryptoCode(pm),
		GrossCrypto: round2(pm.Amount),
		GrossFiat:   round2(pm.Amount * pm.Rate),
	}
	leg.NetCrypto = leg.GrossCrypto
	leg.NetFiat = leg.GrossFiat

	if pointsRequested {
		leg.NetCrypto = round2(leg.GrossCrypto * pointsFeeFactor)
		// Derived from the already-discounted crypto amount, deliberately not
		// re-rounded.
		leg.NetFiat = leg.NetCrypto * pm.Rate
		leg.Points = int64(math.Round(leg.GrossFiat * 100))
	}

	return leg
}

func legCryptoCode(pm btcpay.PaymentMethod) string {
	if pm.CryptoCode != "" {
		return pm.CryptoCode
	}
	if strings.HasPrefix(pm.PaymentMethod, CryptoBTC) {
		return CryptoBTC
	}
	return CryptoXMR
}
