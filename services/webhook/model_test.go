package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetadataFlagParsing(t *testing.T) {
	cases := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"True", true},
		{"TRUE", true},
		{"false", false},
		{"", false},
		{"1", false},
		{"yes", false},
	}

	for _, tc := range cases {
		m := EventMetadata{
			StaticGeneratedForAPI: tc.value,
			GivePointsBack:        tc.value,
			IsMembership:          tc.value,
		}
		require.Equal(t, tc.want, m.APIGenerated(), "APIGenerated(%q)", tc.value)
		require.Equal(t, tc.want, m.PointsRequested(), "PointsRequested(%q)", tc.value)
		require.Equal(t, tc.want, m.Membership(), "Membership(%q)", tc.value)
	}
}

func TestResolvedProjectSlug(t *testing.T) {
	m := EventMetadata{ProjectName: "Tor Project", ProjectSlug: "tor"}
	require.Equal(t, "tor", m.ResolvedProjectSlug())

	m = EventMetadata{ProjectName: "Tor Project"}
	require.Equal(t, "tor-project", m.ResolvedProjectSlug())

	m = EventMetadata{}
	require.Equal(t, "", m.ResolvedProjectSlug())
}

func TestDedupKeyPrefersOriginalDelivery(t *testing.T) {
	e := &Event{DeliveryID: "d-2", OriginalDeliveryID: "d-1", IsRedelivery: true}
	require.Equal(t, "d-1", e.DedupKey())

	e = &Event{DeliveryID: "d-2"}
	require.Equal(t, "d-2", e.DedupKey())

	e = &Event{}
	require.Equal(t, "", e.DedupKey())
}

func TestEventDecoding(t *testing.T) {
	payload := []byte(`{
		"deliveryId": "del-1",
		"originalDeliveryId": "del-1",
		"isRedelivery": false,
		"type": "InvoicePaymentSettled",
		"storeId": "store-1",
		"invoiceId": "inv-1",
		"metadata": {
			"staticGeneratedForApi": "true",
			"projectName": "Monero General Fund",
			"fundSlug": "monero",
			"userId": "user-1",
			"givePointsBack": "false"
		},
		"paymentMethod": "BTC-OnChain",
		"payment": {"value": "0.05"}
	}`)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))

	require.Equal(t, EventInvoicePaymentSettled, event.Type)
	require.Equal(t, "inv-1", event.InvoiceID)
	require.True(t, event.Metadata.APIGenerated())
	require.False(t, event.Metadata.PointsRequested())
	require.Equal(t, "monero-general-fund", event.Metadata.ResolvedProjectSlug())
	require.NotNil(t, event.Payment)
	require.Equal(t, "0.05", event.Payment.Value)
}

func TestGenerateDonationCode(t *testing.T) {
	code, err := GenerateDonationCode()
	require.NoError(t, err)
	require.Regexp(t, `^DON-\d{8}-[0-9A-Z]{6}$`, code)

	other, err := GenerateDonationCode()
	require.NoError(t, err)
	require.NotEqual(t, code, other)
}
