package domain

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money хранит сумму в минимальных единицах (центах), как amount_minor в БД.
type Money int64

const moneyScale = 2

var hundred = decimal.NewFromInt(100)

// MoneyFromDecimal переводит десятичное значение в центы.
// Больше двух знаков после запятой считается ошибкой, округления нет.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	cents := d.Mul(hundred)
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), moneyScale)
	}
	if cents.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return Money(cents.IntPart()), nil
}

// ParseMoney разбирает строку вида "10.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return MoneyFromDecimal(d)
}

// MustMoney: для констант и тестов.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Cents возвращает сумму в минимальных единицах.
func (m Money) Cents() int64 {
	return int64(m)
}

// Decimal возвращает сумму как decimal с двумя знаками.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// MulQty умножает цену за единицу на количество с проверкой переполнения.
func (m Money) MulQty(qty int) (Money, error) {
	if qty < 0 {
		return 0, fmt.Errorf("negative quantity %d", qty)
	}
	if qty != 0 && int64(m) > math.MaxInt64/int64(qty) {
		return 0, fmt.Errorf("amount overflow: %s x %d", m, qty)
	}
	return m * Money(qty), nil
}

// Add складывает суммы с проверкой переполнения.
func (m Money) Add(other Money) (Money, error) {
	if other > 0 && m > math.MaxInt64-other {
		return 0, fmt.Errorf("amount overflow: %s + %s", m, other)
	}
	return m + other, nil
}

// MarshalJSON пишет сумму числом с двумя знаками: 30.00.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON принимает как число, так и строку.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("decode amount: %w", err)
		}
		data = []byte(s)
	}
	parsed, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
