// Package webhook нормализует уведомления платёжных провайдеров в model.PaymentEvent.
package webhook

// Поддерживаемые провайдеры.
const (
	ProviderDodo   = "dodo"
	ProviderPaddle = "paddle"
)

// fieldPath описывает путь к значению внутри уведомления.
// Путь отсчитывается от объекта data, либо от корня конверта при fromEnvelope.
type fieldPath struct {
	fromEnvelope bool
	keys         []string
}

func d(keys ...string) fieldPath { return fieldPath{keys: keys} }

func e(keys ...string) fieldPath { return fieldPath{fromEnvelope: true, keys: keys} }

// variant описывает форму уведомления одного провайдера: где лежит каждое поле
// во всех известных исторических вариантах. Пути перебираются по порядку, побеждает первый непустой.
type variant struct {
	eventTypeKeys []string
	dataKeys      []string
	successEvents map[string]struct{}
	// statusPath, если задан, должен содержать successStatus либо отсутствовать.
	statusPath    *fieldPath
	successStatus string

	email      []fieldPath
	orderID    []fieldPath
	checkoutID []fieldPath
	productID  []fieldPath
	amount     []fieldPath
	currency   []fieldPath
	metadata   []fieldPath
}

var referralKeys = []string{"referral_code", "referral_id", "ref", "affiliate"}

var dodoStatus = d("status")

var variants = map[string]variant{
	ProviderDodo: {
		eventTypeKeys: []string{"type", "eventType"},
		dataKeys:      []string{"data", "payload"},
		successEvents: events("payment.succeeded", "checkout.completed"),
		statusPath:    &dodoStatus,
		successStatus: "succeeded",
		email:         []fieldPath{d("customer", "email"), d("customer_email"), d("email")},
		orderID:       []fieldPath{d("payment_id"), d("id")},
		checkoutID:    []fieldPath{d("checkout_session_id"), d("session_id"), e("id")},
		productID:     []fieldPath{d("product_cart", "0", "product_id"), d("product_id")},
		amount:        []fieldPath{d("settlement_amount"), d("total_amount")},
		currency:      []fieldPath{d("settlement_currency"), d("currency")},
		metadata:      []fieldPath{d("metadata")},
	},
	ProviderPaddle: {
		eventTypeKeys: []string{"event_type", "eventType", "type"},
		dataKeys:      []string{"data"},
		successEvents: events("transaction.completed", "transaction.paid"),
		email:         []fieldPath{d("customer", "email"), d("user_email")},
		orderID:       []fieldPath{d("invoice_id"), d("id")},
		checkoutID:    []fieldPath{d("checkout", "id"), d("id")},
		productID:     []fieldPath{d("items", "0", "price", "product_id"), d("items", "0", "product_id")},
		amount:        []fieldPath{d("details", "totals", "grand_total"), d("details", "totals", "total")},
		currency:      []fieldPath{d("currency_code")},
		metadata:      []fieldPath{d("custom_data"), d("metadata")},
	},
}

func events(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

// SupportedProvider сообщает, известна ли форма уведомлений провайдера.
func SupportedProvider(provider string) bool {
	_, ok := variants[provider]
	return ok
}
