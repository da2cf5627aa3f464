package registry

import (
	"errors"
	"testing"

	"TradeWarden/internal/model"
	"TradeWarden/internal/store"
)

const testToken = "41a614f803b6fd780986a42c78ec9c7f77e6ded13c"

func smaSub() model.Subscription {
	return model.Subscription{
		Token:     testToken,
		Indicator: model.IndicatorSMA,
		Fast:      9,
		Slow:      21,
		Timeframe: "1h",
	}
}

func TestAdd_AssignsIDAndPersists(t *testing.T) {
	st := store.NewMemoryStore()
	r := New(st)

	sub, err := r.Add(smaSub())
	if err != nil {
		t.Fatal(err)
	}
	if sub.ID == "" {
		t.Error("expected generated ID")
	}
	if sub.CreatedAt.IsZero() {
		t.Error("expected creation time")
	}

	listed, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 || listed[0].Key() != sub.Key() {
		t.Errorf("expected persisted subscription, got %+v", listed)
	}
}

func TestAdd_Duplicate(t *testing.T) {
	r := New(store.NewMemoryStore())
	if _, err := r.Add(smaSub()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Add(smaSub()); !errors.Is(err, ErrDuplicateSubscription) {
		t.Errorf("expected ErrDuplicateSubscription, got %v", err)
	}
}

func TestAdd_SameTokenDifferentParams(t *testing.T) {
	r := New(store.NewMemoryStore())
	if _, err := r.Add(smaSub()); err != nil {
		t.Fatal(err)
	}
	other := smaSub()
	other.Fast, other.Slow = 5, 10
	if _, err := r.Add(other); err != nil {
		t.Errorf("different parameters are a different subscription: %v", err)
	}
	rsi := model.Subscription{Token: testToken, Indicator: model.IndicatorRSI, Period: 14, Timeframe: "1h"}
	if _, err := r.Add(rsi); err != nil {
		t.Errorf("different indicator is a different subscription: %v", err)
	}
}

func TestAdd_Validation(t *testing.T) {
	r := New(store.NewMemoryStore())

	cases := []struct {
		name string
		mut  func(*model.Subscription)
	}{
		{"missing token", func(s *model.Subscription) { s.Token = "" }},
		{"missing timeframe", func(s *model.Subscription) { s.Timeframe = "" }},
		{"fast >= slow", func(s *model.Subscription) { s.Fast, s.Slow = 21, 9 }},
		{"fast == slow", func(s *model.Subscription) { s.Fast, s.Slow = 9, 9 }},
		{"zero fast", func(s *model.Subscription) { s.Fast = 0 }},
		{"unknown indicator", func(s *model.Subscription) { s.Indicator = "ema" }},
	}
	for _, tc := range cases {
		sub := smaSub()
		tc.mut(&sub)
		if _, err := r.Add(sub); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	rsi := model.Subscription{Token: testToken, Indicator: model.IndicatorRSI, Period: 0, Timeframe: "1h"}
	if _, err := r.Add(rsi); err == nil {
		t.Error("zero rsi period: expected validation error")
	}
}

func TestRemove(t *testing.T) {
	r := New(store.NewMemoryStore())
	sub, err := r.Add(smaSub())
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Remove(sub.Key()); err != nil {
		t.Fatal(err)
	}
	if listed, _ := r.List(); len(listed) != 0 {
		t.Errorf("expected empty registry, got %+v", listed)
	}
	if err := r.Remove(sub.Key()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
