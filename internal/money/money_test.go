package money

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

// roundHalfEvenReference computes round_half_even(amount * num / den) with big integers
func roundHalfEvenReference(amount, num, den int64) int64 {
	n := new(big.Int).Mul(big.NewInt(amount), big.NewInt(num))
	d := big.NewInt(den)
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	twice := new(big.Int).Mul(r, big.NewInt(2))
	switch twice.Cmp(d) {
	case 1:
		q.Add(q, big.NewInt(1))
	case 0:
		if q.Bit(0) == 1 {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}

func TestSplitPropertyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(20240220))

	for i := 0; i < 10000; i++ {
		amount := rng.Int63n(1_000_000_000_000)
		den := int64(10000)
		if i%3 == 0 {
			den = 1_000_000
		}
		num := rng.Int63n(den + 1)
		rate := decimal.New(num, -4)
		if den == 1_000_000 {
			rate = decimal.New(num, -6)
		}

		gross := New(amount, KRW)
		fee, net := gross.Split(rate)

		if fee.Amount()+net.Amount() != gross.Amount() {
			t.Fatalf("case %d: fee %d + net %d != gross %d", i, fee.Amount(), net.Amount(), gross.Amount())
		}
		want := roundHalfEvenReference(amount, num, den)
		if fee.Amount() != want {
			t.Fatalf("case %d: amount=%d rate=%s: expected fee %d, got %d", i, amount, rate, want, fee.Amount())
		}
		if fee.Currency() != KRW || net.Currency() != KRW {
			t.Fatalf("case %d: currency not preserved", i)
		}
	}
}

func TestApplyRateBankersRounding(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		rate   string
		want   int64
	}{
		{"exact", 500000, "0.05", 25000},
		{"half rounds to even down", 10, "0.25", 2},
		{"half rounds to even up", 30, "0.25", 8},
		{"above half", 11, "0.25", 3},
		{"zero rate", 12345, "0", 0},
		{"full rate", 12345, "1", 12345},
		{"pg fee", 1_234_567, "0.03", 37037},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := ParseRate(tt.rate)
			if err != nil {
				t.Fatalf("ParseRate: %v", err)
			}
			got := New(tt.amount, KRW).ApplyRate(rate)
			if got.Amount() != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got.Amount())
			}
		})
	}
}

func TestDivideEvenly(t *testing.T) {
	per, rem, err := New(500000, KRW).DivideEvenly(10)
	if err != nil {
		t.Fatalf("DivideEvenly: %v", err)
	}
	if per.Amount() != 50000 || rem.Amount() != 0 {
		t.Errorf("Expected 50000/0, got %d/%d", per.Amount(), rem.Amount())
	}

	per, rem, _ = New(100000, KRW).DivideEvenly(3)
	if per.Amount() != 33333 || rem.Amount() != 1 {
		t.Errorf("Expected 33333/1, got %d/%d", per.Amount(), rem.Amount())
	}
	if per.Amount()*3+rem.Amount() != 100000 {
		t.Error("Expected parts to sum to the original amount")
	}

	if _, _, err := New(1, KRW).DivideEvenly(0); !errors.Is(err, ErrInvalidDivisor) {
		t.Errorf("Expected ErrInvalidDivisor, got %v", err)
	}
}

func TestArithmeticCurrencyMismatch(t *testing.T) {
	if _, err := New(1, KRW).Add(New(1, USD)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Expected ErrCurrencyMismatch from Add, got %v", err)
	}
	if _, err := New(1, KRW).Sub(New(1, USD)); !errors.Is(err, ErrCurrencyMismatch) {
		t.Errorf("Expected ErrCurrencyMismatch from Sub, got %v", err)
	}

	sum, err := New(700, KRW).Add(New(300, KRW))
	if err != nil || sum.Amount() != 1000 {
		t.Errorf("Expected 1000, got %v (err %v)", sum, err)
	}
	if got := New(50000, KRW).Times(7); got.Amount() != 350000 {
		t.Errorf("Expected 350000, got %d", got.Amount())
	}
}

func TestParseRateRejectsOutOfRange(t *testing.T) {
	for _, s := range []string{"-0.01", "1.5", "abc"} {
		if _, err := ParseRate(s); err == nil {
			t.Errorf("Expected error for rate %q", s)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	b, err := New(350000, KRW).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `{"amount":350000,"currency":"KRW"}` {
		t.Errorf("Unexpected JSON %s", b)
	}
	var m Money
	if err := m.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !m.Equal(New(350000, KRW)) {
		t.Errorf("Expected 350000 KRW, got %v", m)
	}
}
