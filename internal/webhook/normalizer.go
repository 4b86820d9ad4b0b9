package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// ErrEventIgnored возвращается для событий, не означающих успешную оплату.
// Такие уведомления подтверждаются ответом 200, чтобы провайдер не повторял их.
var ErrEventIgnored = errors.New("event ignored")

// AmountUnit описывает, в каких единицах провайдер сообщает сумму.
type AmountUnit string

const (
	// UnitInferred: целое значение считается суммой в минимальных единицах, дробное в основных.
	UnitInferred AmountUnit = "inferred"
	UnitMinor    AmountUnit = "minor"
	UnitMajor    AmountUnit = "major"
)

// ParseAmountUnit разбирает единицы суммы из строки конфигурации.
func ParseAmountUnit(s string) (AmountUnit, error) {
	switch u := AmountUnit(strings.ToLower(strings.TrimSpace(s))); u {
	case "":
		return UnitInferred, nil
	case UnitInferred, UnitMinor, UnitMajor:
		return u, nil
	default:
		return "", fmt.Errorf("unknown amount unit %q", s)
	}
}

type requiredFields struct {
	Email             string `json:"email" validate:"required"`
	OrderID           string `json:"order_id" validate:"required"`
	CheckoutID        string `json:"checkout_id" validate:"required"`
	ProductExternalID string `json:"product_external_id" validate:"required"`
}

// Normalizer извлекает нормализованный кортеж из уведомлений провайдеров.
type Normalizer struct {
	units    map[string]AmountUnit
	validate *validator.Validate
}

// NewNormalizer создаёт нормализатор с объявленными провайдерами единицами сумм.
// Для провайдеров без объявления используется UnitInferred.
func NewNormalizer(units map[string]AmountUnit) *Normalizer {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	u := make(map[string]AmountUnit, len(units))
	for k, unit := range units {
		u[k] = unit
	}

	return &Normalizer{units: u, validate: v}
}

// Normalize разбирает тело уведомления провайдера.
// Для неуспешных событий возвращает ErrEventIgnored, для неполных *model.MissingFieldError.
func (n *Normalizer) Normalize(provider string, body []byte) (*model.PaymentEvent, error) {
	v, ok := variants[provider]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", model.ErrValidation, provider)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var envelope map[string]any
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", model.ErrValidation, err)
	}

	data := map[string]any{}
	for _, key := range v.dataKeys {
		if m, ok := envelope[key].(map[string]any); ok {
			data = m
			break
		}
	}

	eventType := ""
	for _, key := range v.eventTypeKeys {
		if s := asString(envelope[key]); s != "" {
			eventType = s
			break
		}
	}

	if _, ok := v.successEvents[eventType]; !ok {
		return nil, fmt.Errorf("%w: %s event %q", ErrEventIgnored, provider, eventType)
	}
	if v.statusPath != nil {
		if status := asString(lookup(envelope, data, *v.statusPath)); status != "" && status != v.successStatus {
			return nil, fmt.Errorf("%w: %s status %q", ErrEventIgnored, provider, status)
		}
	}

	ev := &model.PaymentEvent{
		Provider:          provider,
		EventType:         eventType,
		Email:             firstString(envelope, data, v.email),
		OrderID:           firstString(envelope, data, v.orderID),
		CheckoutID:        firstString(envelope, data, v.checkoutID),
		ProductExternalID: firstString(envelope, data, v.productID),
		Currency:          strings.ToUpper(firstString(envelope, data, v.currency)),
		ReferralCode:      referralCode(envelope, data, v.metadata),
	}

	if err := n.checkRequired(ev); err != nil {
		return nil, err
	}

	ev.Amount = n.amount(provider, envelope, data, v.amount)

	return ev, nil
}

func (n *Normalizer) checkRequired(ev *model.PaymentEvent) error {
	err := n.validate.Struct(requiredFields{
		Email:             ev.Email,
		OrderID:           ev.OrderID,
		CheckoutID:        ev.CheckoutID,
		ProductExternalID: ev.ProductExternalID,
	})
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return &model.MissingFieldError{Fields: missing}
}

func (n *Normalizer) amount(provider string, envelope, data map[string]any, paths []fieldPath) *decimal.Decimal {
	unit, ok := n.units[provider]
	if !ok {
		unit = UnitInferred
	}

	for _, p := range paths {
		raw := lookup(envelope, data, p)
		if raw == nil {
			continue
		}
		amount, ok := NormalizeAmount(raw, unit)
		if ok {
			return &amount
		}
	}
	return nil
}

// NormalizeAmount переводит сумму провайдера в основные единицы валюты с округлением до двух знаков.
// Принимает json.Number, числа и числовые строки.
func NormalizeAmount(raw any, unit AmountUnit) (decimal.Decimal, bool) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		s = strconv.FormatInt(v, 10)
	case int:
		s = strconv.Itoa(v)
	default:
		return decimal.Zero, false
	}
	if s == "" {
		return decimal.Zero, false
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}

	switch unit {
	case UnitMinor:
		amount = amount.Shift(-2)
	case UnitMajor:
	default:
		if amount.IsInteger() {
			amount = amount.Shift(-2)
		}
	}

	return amount.Round(2), true
}

func referralCode(envelope, data map[string]any, paths []fieldPath) string {
	for _, p := range paths {
		meta, ok := lookup(envelope, data, p).(map[string]any)
		if !ok {
			continue
		}
		for _, key := range referralKeys {
			if s, ok := meta[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func firstString(envelope, data map[string]any, paths []fieldPath) string {
	for _, p := range paths {
		if s := asString(lookup(envelope, data, p)); s != "" {
			return s
		}
	}
	return ""
}

func lookup(envelope, data map[string]any, p fieldPath) any {
	var cur any = data
	if p.fromEnvelope {
		cur = envelope
	}

	for _, key := range p.keys {
		switch node := cur.(type) {
		case map[string]any:
			cur = node[key]
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return nil
			}
			cur = node[i]
		default:
			return nil
		}
	}
	return cur
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case json.Number:
		return s.String()
	default:
		return ""
	}
}
