package ledger

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/rift_backend/identity"
	"github.com/mmdatafocus/rift_backend/models"
	"github.com/mmdatafocus/rift_backend/repository"
)

type ProfileInput struct {
	PhoneNumber     string
	PhoneRegion     string
	DefaultCurrency string
}

func (s *Service) PayoutProfile(ctx context.Context, actor models.Actor, userId string) (*models.PayoutProfile, error) {
	if err := requireSelfOrAdmin(actor, userId, "GetPayoutProfile"); err != nil {
		return nil, err
	}
	return s.Store.GetPayoutProfile(ctx, userId)
}

// UpdatePayoutProfile stores the caller's payout contact details. The phone number is kept in E.164.
// A profile the payout provider rejected stays rejected; changing details does not reset it.
func (s *Service) UpdatePayoutProfile(ctx context.Context, actor models.Actor, in ProfileInput) (*models.PayoutProfile, error) {
	if actor.Role != models.RoleUser || actor.UserId == "" {
		return nil, &models.UnauthorizedError{Operation: "UpdatePayoutProfile"}
	}
	var phone, region string
	if strings.TrimSpace(in.PhoneNumber) != "" {
		var err error
		phone, region, err = identity.NormalizePhoneNumber(strings.TrimSpace(in.PhoneNumber), strings.TrimSpace(in.PhoneRegion))
		if err != nil {
			return nil, models.NewValidationError("phone_number", err.Error())
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(in.DefaultCurrency))
	if currency != "" && !currencyPattern.MatchString(currency) {
		return nil, models.NewValidationError("default_currency", "must be a 3-letter ISO code")
	}

	var out *models.PayoutProfile
	err := s.Store.WithinTx(ctx, func(r repository.Repo) error {
		p, err := r.LockPayoutProfile(ctx, actor.UserId)
		if err != nil {
			return err
		}
		if phone != "" {
			p.PhoneNumber = phone
			p.PhoneRegion = region
		}
		if currency != "" {
			p.DefaultCurrency = currency
		}
		if p.PayoutAccountStatus == models.PayoutAccountStatusNone && p.PhoneNumber != "" {
			p.PayoutAccountStatus = models.PayoutAccountStatusPending
		}
		if err := r.SavePayoutProfile(ctx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"field":   "ledger",
		"user_id": out.UserId,
		"status":  out.PayoutAccountStatus,
	}).Info("payout profile updated")
	return out, nil
}
