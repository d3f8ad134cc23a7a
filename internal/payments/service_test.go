package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tippic/tippic_server/internal/apperr"
	"github.com/tippic/tippic_server/internal/identity"
	"github.com/tippic/tippic_server/internal/ledger"
	"github.com/tippic/tippic_server/internal/logging"
	"github.com/tippic/tippic_server/internal/notification"
)

type fixture struct {
	svc      *Service
	ids      *identity.Service
	ledger   ledger.Ledger
	notifier *notification.Recorder
}

func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		ids:      identity.NewService(identity.NewMemoryRepository(), identity.Policy{}, logging.Discard()),
		ledger:   ledger.NewInMemory(),
		notifier: &notification.Recorder{},
	}
	f.svc = NewService(f.ledger, f.ids, f.notifier, policy, logging.Discard())
	return f
}

func (f *fixture) user(t *testing.T, phone, address string) identity.User {
	t.Helper()
	ctx := context.Background()
	u, _, err := f.ids.Register(ctx, identity.Registration{
		UserID:      uuid.NewString(),
		OS:          identity.OSIOS,
		DeviceModel: "iPhone",
		TimeZone:    "+02:00",
		AppVersion:  "2.0",
	})
	require.NoError(t, err)
	if phone != "" {
		require.NoError(t, f.ids.VerifyPhone(ctx, u.ID, phone))
	}
	if address != "" {
		_, err = f.ids.MarkOnboarded(ctx, u.ID, address)
		require.NoError(t, err)
	}
	u, err = f.ids.Get(ctx, u.ID)
	require.NoError(t, err)
	return u
}

func TestReport_InsertedThenDuplicatePreservesFirst(t *testing.T) {
	f := newFixture(t, Policy{P2PMinAmount: 300, P2PMaxAmount: 12500})
	ctx := context.Background()
	sender := f.user(t, "+111", "EQ-sender")
	receiver := f.user(t, "+222", "EQ-receiver")

	out, err := f.svc.Report(ctx, ReportInput{TxHash: "h1", IdentityID: sender.ID, ToAddress: "EQ-receiver", Amount: 500, Purpose: ledger.PurposeP2P})
	require.NoError(t, err)
	assert.Equal(t, ledger.Inserted, out)

	out, err = f.svc.Report(ctx, ReportInput{TxHash: "h1", IdentityID: sender.ID, ToAddress: "EQ-elsewhere", Amount: 900, Purpose: ledger.PurposeP2P})
	require.NoError(t, err)
	assert.Equal(t, ledger.Duplicate, out)

	entry, err := f.ledger.Get(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), entry.Amount)
	assert.Equal(t, "EQ-receiver", entry.Counterparty)

	msgs := f.notifier.Messages(notification.KindP2PTransfer)
	require.Len(t, msgs, 1)
	assert.Equal(t, receiver.ID, msgs[0].Destination)

	totals, err := f.svc.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(500), totals.FromPublic)
}

func TestReport_Validation(t *testing.T) {
	f := newFixture(t, Policy{PhoneVerificationRequired: true, P2PMinAmount: 300, P2PMaxAmount: 12500})
	ctx := context.Background()
	verified := f.user(t, "+333", "")
	unverified := f.user(t, "", "")

	cases := []struct {
		name string
		in   ReportInput
		code string
	}{
		{"p2p below minimum", ReportInput{TxHash: "a", IdentityID: verified.ID, ToAddress: "EQ", Amount: 10, Purpose: ledger.PurposeP2P}, "invalid_amount"},
		{"p2p above maximum", ReportInput{TxHash: "b", IdentityID: verified.ID, ToAddress: "EQ", Amount: 20000, Purpose: ledger.PurposeP2P}, "invalid_amount"},
		{"server purpose", ReportInput{TxHash: "c", IdentityID: verified.ID, ToAddress: "EQ", Amount: 10, Purpose: ledger.PurposeOnboardReward}, "invalid_purpose"},
		{"missing hash", ReportInput{IdentityID: verified.ID, ToAddress: "EQ", Amount: 10, Purpose: ledger.PurposeTip}, "invalid_tx_hash"},
		{"unknown user", ReportInput{TxHash: "d", IdentityID: uuid.NewString(), ToAddress: "EQ", Amount: 10, Purpose: ledger.PurposeTip}, "unknown_identity"},
		{"phone not verified", ReportInput{TxHash: "e", IdentityID: unverified.ID, ToAddress: "EQ", Amount: 10, Purpose: ledger.PurposeTip}, "phone_not_verified"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Report(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}

	entries, err := f.svc.List(ctx, verified.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIncomingTipsExcludeOwnReports(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()
	artist := f.user(t, "+1", "EQ-artist")
	fan := f.user(t, "+2", "EQ-fan")

	_, err := f.svc.Report(ctx, ReportInput{TxHash: "t1", IdentityID: fan.ID, ToAddress: "EQ-artist", Amount: 5, Purpose: ledger.PurposeTip, ItemID: "pic-1"})
	require.NoError(t, err)
	_, err = f.svc.Report(ctx, ReportInput{TxHash: "t2", IdentityID: artist.ID, ToAddress: "EQ-artist", Amount: 5, Purpose: ledger.PurposeTip})
	require.NoError(t, err)

	tips, err := f.svc.IncomingTips(ctx, artist.ID, 10)
	require.NoError(t, err)
	require.Len(t, tips, 1)
	assert.Equal(t, "t1", tips[0].TxHash)
	assert.Len(t, f.notifier.Messages(notification.KindTip), 1)
}
