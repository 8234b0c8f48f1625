package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theboatscanner/boatscanner/internal/normalize"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeStore is an in-memory Store that counts calls.
type fakeStore struct {
	balance    CreditState
	debitOK    bool
	debitErr   error
	fetchErr   error
	debitCalls int
	fetchCalls int
}

func (s *fakeStore) FetchBalance(_ context.Context, _ string) (CreditState, error) {
	s.fetchCalls++
	if s.fetchErr != nil {
		return CreditState{}, s.fetchErr
	}
	return s.balance, nil
}

func (s *fakeStore) DebitOneCredit(_ context.Context, _ string) (bool, error) {
	s.debitCalls++
	if s.debitErr != nil {
		return false, s.debitErr
	}
	if !s.debitOK {
		return false, nil
	}
	s.balance = s.balance.Debited()
	return true, nil
}

// fakeMatcher returns a canned payload or error and counts calls.
type fakeMatcher struct {
	payload any
	err     error
	calls   int
}

func (m *fakeMatcher) Match(_ context.Context, _ Image) (any, error) {
	m.calls++
	return m.payload, m.err
}

func jsonPayload(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func newTestCoordinator(store Store, matcher Matcher, opts ...Option) (*Coordinator, *bytes.Buffer) {
	var logs bytes.Buffer
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(log.New(&logs, "", 0)),
	}, opts...)
	return NewCoordinator(store, matcher, opts...), &logs
}

func timePtr(t time.Time) *time.Time { return &t }

var testImage = Image{Filename: "boat.jpg", MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}}

func TestCreditState(t *testing.T) {
	s := CreditState{FreeCredits: 1, PaidCredits: 2}
	require.Equal(t, uint(3), s.Total())
	require.False(t, s.HasActiveSubscription(fixedNow))

	s.SubscribedUntil = timePtr(fixedNow.Add(time.Hour))
	require.True(t, s.HasActiveSubscription(fixedNow))

	s.SubscribedUntil = timePtr(fixedNow)
	require.False(t, s.HasActiveSubscription(fixedNow), "expiry equal to now is not active")
}

func TestCreditState_Debited(t *testing.T) {
	tests := []struct {
		name string
		in   CreditState
		want CreditState
	}{
		{"free first", CreditState{FreeCredits: 2, PaidCredits: 5}, CreditState{FreeCredits: 1, PaidCredits: 5}},
		{"paid when free exhausted", CreditState{PaidCredits: 5}, CreditState{PaidCredits: 4}},
		{"empty stays empty", CreditState{}, CreditState{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.Debited())
		})
	}
}

func TestAttemptSearch_BlockedMakesNoCalls(t *testing.T) {
	store := &fakeStore{debitOK: true}
	matcher := &fakeMatcher{payload: jsonPayload(t, `[]`)}
	c, _ := newTestCoordinator(store, matcher)

	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{})

	require.False(t, got.Allowed)
	require.Nil(t, got.Outcome)
	require.Nil(t, got.Ledger)
	require.Equal(t, PhaseIdle, got.Phase)
	require.Equal(t, 0, matcher.calls)
	require.Equal(t, 0, store.debitCalls)
	require.Equal(t, 0, store.fetchCalls)
}

func TestAttemptSearch_ExpiredSubscriptionWithoutCreditsIsBlocked(t *testing.T) {
	store := &fakeStore{debitOK: true}
	matcher := &fakeMatcher{}
	c, _ := newTestCoordinator(store, matcher)

	state := CreditState{SubscribedUntil: timePtr(fixedNow.Add(-time.Minute))}
	got := c.AttemptSearch(context.Background(), "u1", testImage, state)

	require.False(t, got.Allowed)
	require.Equal(t, 0, matcher.calls)
}

func TestAttemptSearch_SubscribedNeverDebits(t *testing.T) {
	outcomes := map[string]*fakeMatcher{
		"success":   {payload: jsonPayload(t, `[{"url": "http://a"}]`)},
		"not boat":  {payload: jsonPayload(t, `{"not_boat": true}`)},
		"empty":     {payload: jsonPayload(t, `[]`)},
		"transport": {err: fmt.Errorf("dial tcp: connection refused")},
	}

	for name, matcher := range outcomes {
		t.Run(name, func(t *testing.T) {
			store := &fakeStore{debitOK: true}
			c, _ := newTestCoordinator(store, matcher)

			state := CreditState{SubscribedUntil: timePtr(fixedNow.Add(24 * time.Hour))}
			got := c.AttemptSearch(context.Background(), "u1", testImage, state)

			require.True(t, got.Allowed)
			require.False(t, got.Charged)
			require.Equal(t, 0, store.debitCalls)
			require.Equal(t, state, *got.Ledger)
		})
	}
}

func TestAttemptSearch_SuccessDebitsExactlyOnce(t *testing.T) {
	store := &fakeStore{debitOK: true, balance: CreditState{FreeCredits: 1}}
	matcher := &fakeMatcher{payload: jsonPayload(t, `[{"url": "http://a", "user_short_description": "d"}]`)}
	c, _ := newTestCoordinator(store, matcher)

	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{FreeCredits: 1})

	require.True(t, got.Allowed)
	require.Equal(t, normalize.KindSuccess, got.Outcome.Kind)
	require.Len(t, got.Outcome.Matches, 1)
	require.True(t, got.Charged)
	require.NoError(t, got.DebitErr)
	require.Equal(t, 1, store.debitCalls)
	require.Equal(t, 1, store.fetchCalls, "balance is refreshed after the debit")
	require.Equal(t, CreditState{}, *got.Ledger)
	require.Equal(t, 1, matcher.calls)
}

func TestAttemptSearch_TransportFailureNeverDebits(t *testing.T) {
	store := &fakeStore{debitOK: true, balance: CreditState{FreeCredits: 3}}
	matcher := &fakeMatcher{err: fmt.Errorf("upstream returned status 500")}
	c, _ := newTestCoordinator(store, matcher)

	state := CreditState{FreeCredits: 3}
	got := c.AttemptSearch(context.Background(), "u1", testImage, state)

	require.True(t, got.Allowed)
	require.Equal(t, normalize.KindFailure, got.Outcome.Kind)
	require.Contains(t, got.Outcome.Reason, "status 500")
	require.False(t, got.Charged)
	require.Equal(t, 0, store.debitCalls)
	require.Equal(t, state, *got.Ledger)
}

func TestAttemptSearch_NotBoatIsChargeable(t *testing.T) {
	store := &fakeStore{debitOK: true, balance: CreditState{FreeCredits: 2}}
	matcher := &fakeMatcher{payload: jsonPayload(t, `{"body":[{"not_boat":true, "not_boat_user_message":"Upload a boat"}]}`)}
	c, _ := newTestCoordinator(store, matcher)

	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{FreeCredits: 2})

	require.Equal(t, normalize.NotBoat("Upload a boat"), *got.Outcome)
	require.Equal(t, 1, store.debitCalls)
	require.Equal(t, uint(1), got.Ledger.Total())
}

func TestAttemptSearch_DebitFailureDecrementsLocally(t *testing.T) {
	tests := []struct {
		name  string
		store *fakeStore
	}{
		{"store error", &fakeStore{debitErr: fmt.Errorf("connection reset"), balance: CreditState{FreeCredits: 2}}},
		{"store declined", &fakeStore{debitOK: false, balance: CreditState{FreeCredits: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := &fakeMatcher{payload: jsonPayload(t, `[{"url": "http://a"}]`)}
			c, logs := newTestCoordinator(tt.store, matcher)

			got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{FreeCredits: 2})

			require.True(t, got.Charged)
			require.Error(t, got.DebitErr)
			require.Equal(t, 1, tt.store.debitCalls, "a failed debit is not retried")
			require.Equal(t, 0, tt.store.fetchCalls, "reconciliation waits for the next fetch")
			require.Equal(t, CreditState{FreeCredits: 1}, *got.Ledger)
			require.Contains(t, logs.String(), "debit failed")
		})
	}
}

func TestAttemptSearch_DeclinedDebitReportsErrNoDebit(t *testing.T) {
	store := &fakeStore{debitOK: false}
	matcher := &fakeMatcher{payload: jsonPayload(t, `[]`)}
	c, _ := newTestCoordinator(store, matcher)

	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{PaidCredits: 1})
	require.ErrorIs(t, got.DebitErr, ErrNoDebit)
}

func TestAttemptSearch_RefreshFailureKeepsOptimisticState(t *testing.T) {
	store := &fakeStore{debitOK: true, balance: CreditState{PaidCredits: 4}, fetchErr: fmt.Errorf("timeout")}
	matcher := &fakeMatcher{payload: jsonPayload(t, `[]`)}
	c, logs := newTestCoordinator(store, matcher)

	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{PaidCredits: 4})

	require.NoError(t, got.DebitErr)
	require.Equal(t, 1, store.debitCalls)
	require.Equal(t, CreditState{PaidCredits: 3}, *got.Ledger)
	require.Contains(t, logs.String(), "refresh failed")
}

func TestAttemptSearch_RepeatedAttemptsDebitOncePerAttempt(t *testing.T) {
	store := &fakeStore{debitOK: true, balance: CreditState{FreeCredits: 2}}
	matcher := &fakeMatcher{payload: jsonPayload(t, `[{"url": "http://a"}]`)}
	c, _ := newTestCoordinator(store, matcher)

	state := CreditState{FreeCredits: 2}
	for i := 0; i < 2; i++ {
		got := c.AttemptSearch(context.Background(), "u1", testImage, state)
		require.True(t, got.Allowed)
		state = *got.Ledger
	}
	require.Equal(t, 2, store.debitCalls)
	require.Equal(t, CreditState{}, state)

	got := c.AttemptSearch(context.Background(), "u1", testImage, state)
	require.False(t, got.Allowed)
	require.Equal(t, 2, store.debitCalls)
}

func TestAttemptSearch_PhaseTransitions(t *testing.T) {
	var phases []Phase
	observer := WithObserver(func(p Phase) { phases = append(phases, p) })

	store := &fakeStore{debitOK: true, balance: CreditState{FreeCredits: 1}}
	c, _ := newTestCoordinator(store, &fakeMatcher{payload: jsonPayload(t, `[]`)}, observer)
	got := c.AttemptSearch(context.Background(), "u1", testImage, CreditState{FreeCredits: 1})
	require.Equal(t, PhaseSettled, got.Phase)
	require.Equal(t, []Phase{PhaseChecking, PhaseInFlight, PhaseSettled}, phases)

	phases = nil
	got = c.AttemptSearch(context.Background(), "u1", testImage, CreditState{})
	require.Equal(t, PhaseIdle, got.Phase)
	require.Equal(t, []Phase{PhaseChecking, PhaseIdle}, phases)
}
