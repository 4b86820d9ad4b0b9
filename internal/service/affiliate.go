package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// CommissionOutcome описывает результат попытки начислить комиссию.
type CommissionOutcome string

const (
	// CommissionSkipped: реферального кода нет.
	CommissionSkipped CommissionOutcome = "skipped"
	// CommissionNoAffiliate: код не соответствует ни одному партнёру. Это не ошибка.
	CommissionNoAffiliate CommissionOutcome = "no_affiliate"
	CommissionRecorded    CommissionOutcome = "recorded"
	// CommissionDuplicate: комиссия для пары (партнёр, покупка) уже записана.
	CommissionDuplicate CommissionOutcome = "duplicate"
)

// CommissionResult содержит итог начисления комиссии.
type CommissionResult struct {
	Outcome   CommissionOutcome
	Affiliate *model.Affiliate
	Amount    decimal.Decimal
}

// CommissionAmount вычисляет комиссию как round(settled * rate, 2).
func CommissionAmount(settled decimal.Decimal, product *model.Product) decimal.Decimal {
	return settled.Mul(product.CommissionRate()).Round(2)
}

// AttributeCommission начисляет партнёру комиссию за покупку не более одного раза.
// Ключом идемпотентности служит внутренний идентификатор покупки, поэтому вызывается после записи покупки.
func (s *Service) AttributeCommission(ctx context.Context, referralCode string, purchaseID int64, product *model.Product, settled decimal.Decimal, currency, source string) (*CommissionResult, error) {
	referralCode = strings.TrimSpace(referralCode)
	if referralCode == "" {
		return &CommissionResult{Outcome: CommissionSkipped}, nil
	}

	affiliate, err := s.repo.GetAffiliateByCode(ctx, referralCode)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return &CommissionResult{Outcome: CommissionNoAffiliate}, nil
		}
		return nil, err
	}

	amount := CommissionAmount(settled, product)
	inserted, err := s.repo.InsertCommission(ctx, &model.AffiliateCommission{
		AffiliateID:  affiliate.ID,
		PurchaseID:   purchaseID,
		ProductID:    product.ID,
		Amount:       amount,
		Currency:     currency,
		Status:       model.CommissionStatusPending,
		ReferralCode: referralCode,
		Source:       source,
	})
	if err != nil {
		return nil, err
	}

	res := &CommissionResult{Outcome: CommissionDuplicate, Affiliate: affiliate, Amount: amount}
	if inserted {
		res.Outcome = CommissionRecorded
	}
	return res, nil
}
