package settlement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

// NewRepository creates an order store backed by GORM over the listings and
// advertisements tables.
func NewRepository(db *gorm.DB) OrderStore {
	return &gormStore{db: db}
}

func tableFor(kind entitlements.Kind) (string, error) {
	switch kind {
	case entitlements.KindListing:
		return models.Listing{}.TableName(), nil
	case entitlements.KindBanner:
		return models.Advertisement{}.TableName(), nil
	default:
		return "", fmt.Errorf("%w: unknown order kind %q", ErrInvalidRequest, kind)
	}
}

func orderFromState(ref OrderRef, userID uint, p models.PaymentState) *Order {
	o := &Order{
		Ref:    ref,
		UserID: userID,
		Status: p.PaymentStatus,
		Method: p.PaymentMethod,
		Amount: p.Amount,
		Link:   p.GatewayLink,
		Entitlement: Entitlement{
			Tier: entitlements.Tier(p.EntitlementTier),
			Days: p.EntitlementDays,
		},
		EntitlementAppliedAt: p.EntitlementAppliedAt,
		UpdatedAt:            p.PaymentUpdatedAt,
	}
	if p.GatewayToken != nil {
		o.Token = *p.GatewayToken
	}
	if o.Status == "" {
		o.Status = models.PaymentStatusNone
	}
	return o
}

func listingOrder(l *models.Listing) *Order {
	return orderFromState(OrderRef{Kind: entitlements.KindListing, ID: l.ID}, l.UserID, l.Payment)
}

func advertisementOrder(a *models.Advertisement) *Order {
	return orderFromState(OrderRef{Kind: entitlements.KindBanner, ID: a.ID}, a.UserID, a.Payment)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, what)
	}
	return err
}

func (r *gormStore) FindOrderByCorrelationID(ctx context.Context, id string) (*Order, error) {
	ref, err := ParseCorrelationID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return r.find(ctx, ref)
}

func (r *gormStore) find(ctx context.Context, ref OrderRef) (*Order, error) {
	db := r.db.WithContext(ctx)
	switch ref.Kind {
	case entitlements.KindListing:
		var l models.Listing
		if err := db.First(&l, ref.ID).Error; err != nil {
			return nil, notFound(err, ref.CorrelationID())
		}
		return listingOrder(&l), nil
	case entitlements.KindBanner:
		var a models.Advertisement
		if err := db.First(&a, ref.ID).Error; err != nil {
			return nil, notFound(err, ref.CorrelationID())
		}
		return advertisementOrder(&a), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, ref.CorrelationID())
	}
}

func (r *gormStore) FindOrderByToken(ctx context.Context, token string) (*Order, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrOrderNotFound)
	}
	db := r.db.WithContext(ctx)

	var listings []models.Listing
	if err := db.Where("gateway_token = ?", token).Limit(2).Find(&listings).Error; err != nil {
		return nil, err
	}
	var ads []models.Advertisement
	if err := db.Where("gateway_token = ?", token).Limit(2).Find(&ads).Error; err != nil {
		return nil, err
	}

	switch {
	case len(listings)+len(ads) == 0:
		return nil, fmt.Errorf("%w: token %s", ErrOrderNotFound, token)
	case len(listings)+len(ads) > 1:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousToken, token)
	case len(listings) == 1:
		return listingOrder(&listings[0]), nil
	default:
		return advertisementOrder(&ads[0]), nil
	}
}

func (r *gormStore) UpdateStatus(ctx context.Context, ref OrderRef, from []models.PaymentStatus, to models.PaymentStatus, token string) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status", ErrInvalidTransition)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"payment_status":     to,
		"payment_updated_at": now,
		"updated_at":         now,
	}
	q := r.db.WithContext(ctx).Table(table).Where("id = ? AND payment_status IN ?", ref.ID, from)
	if token != "" {
		q = q.Where("(gateway_token IS NULL OR gateway_token = ?)", token)
		updates["gateway_token"] = token
	}

	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s -> %s", ErrStatusConflict, ref.CorrelationID(), to)
	}
	return nil
}

func (r *gormStore) ApplyEntitlement(ctx context.Context, ref OrderRef, ent Entitlement, now time.Time) (bool, error) {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return false, err
	}
	now = now.UTC()
	applied := false

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"entitlement_tier":       string(ent.Tier),
			"entitlement_days":       ent.Days,
			"entitlement_applied_at": now,
			"updated_at":             now,
		}

		locked := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		switch ref.Kind {
		case entitlements.KindListing:
			var l models.Listing
			if err := locked.First(&l, ref.ID).Error; err != nil {
				return notFound(err, ref.CorrelationID())
			}
			if l.Payment.PaymentStatus != models.PaymentStatusPaid || l.Payment.EntitlementAppliedAt != nil {
				return nil
			}
			if ent.Tier != "" && ent.Days > 0 {
				updates["tier"] = string(ent.Tier)
				updates["tier_expires_at"] = entitlements.Expiry(now, entitlements.Tier(l.Tier), l.TierExpiresAt, ent.Tier, ent.Days)
			}
		case entitlements.KindBanner:
			var a models.Advertisement
			if err := locked.First(&a, ref.ID).Error; err != nil {
				return notFound(err, ref.CorrelationID())
			}
			if a.Payment.PaymentStatus != models.PaymentStatusPaid || a.Payment.EntitlementAppliedAt != nil {
				return nil
			}
			if ent.Tier != "" && ent.Days > 0 {
				if a.ActiveUntil == nil || !a.ActiveUntil.After(now) {
					updates["active_from"] = now
				}
				updates["package"] = string(ent.Tier)
				updates["active_until"] = entitlements.Expiry(now, entitlements.Tier(a.Package), a.ActiveUntil, ent.Tier, ent.Days)
			}
		}

		res := tx.Table(table).
			Where("id = ? AND payment_status = ? AND entitlement_applied_at IS NULL", ref.ID, models.PaymentStatusPaid).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1
		return nil
	})
	return applied, err
}

func (r *gormStore) RecordCheckout(ctx context.Context, ref OrderRef, rec CheckoutRecord) error {
	table, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"payment_status":     models.PaymentStatusPending,
		"payment_method":     rec.Method,
		"amount":             rec.Amount,
		"gateway_link":       rec.Link,
		"entitlement_tier":   string(rec.Entitlement.Tier),
		"entitlement_days":   rec.Entitlement.Days,
		"payment_updated_at": now,
		"updated_at":         now,
	}
	if rec.Token != "" {
		updates["gateway_token"] = rec.Token
	}

	res := r.db.WithContext(ctx).Table(table).
		Where("id = ? AND (payment_status = ? OR (payment_status = ? AND gateway_token IS NULL))",
			ref.ID, models.PaymentStatusNone, models.PaymentStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: checkout on %s", ErrStatusConflict, ref.CorrelationID())
	}
	return nil
}

func (r *gormStore) ListPending(ctx context.Context, limit int) ([]Order, error) {
	return r.listPending(ctx, func(db *gorm.DB) *gorm.DB { return db }, limit)
}

func (r *gormStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	return r.listPending(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("gateway_token IS NOT NULL AND payment_updated_at < ?", before.UTC())
	}, limit)
}

func (r *gormStore) listPending(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	db := r.db.WithContext(ctx)

	var listings []models.Listing
	if err := scope(db.Where("payment_status = ?", models.PaymentStatusPending)).
		Order("payment_updated_at ASC").Limit(limit).Find(&listings).Error; err != nil {
		return nil, err
	}
	var ads []models.Advertisement
	if err := scope(db.Where("payment_status = ?", models.PaymentStatusPending)).
		Order("payment_updated_at ASC").Limit(limit).Find(&ads).Error; err != nil {
		return nil, err
	}

	out := make([]Order, 0, len(listings)+len(ads))
	for i := range listings {
		out = append(out, *listingOrder(&listings[i]))
	}
	for i := range ads {
		out = append(out, *advertisementOrder(&ads[i]))
	}
	sortByUpdated(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortByUpdated(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i].UpdatedAt, orders[j].UpdatedAt
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
}

func (r *gormStore) RecordCallback(ctx context.Context, rec CallbackRecord) (bool, error) {
	event := &models.PaymentCallbackEvent{
		DeliveryID:     rec.DeliveryID,
		Channel:        rec.Channel,
		GatewayToken:   rec.Token,
		CorrelationID:  rec.CorrelationID,
		PayloadJSON:    rec.PayloadJSON,
		SignatureValid: rec.SignatureValid,
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "delivery_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormStore) MarkCallbackProcessed(ctx context.Context, deliveryID string, outcome Outcome, gatewayStatus, note string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"processed_at":    &now,
		"outcome":         string(outcome),
		"gateway_status":  gatewayStatus,
		"processing_note": note,
	}
	return r.db.WithContext(ctx).Model(&models.PaymentCallbackEvent{}).
		Where("delivery_id = ?", deliveryID).Updates(updates).Error
}

func (r *gormStore) Transaction(ctx context.Context, fn func(store OrderStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormStore{db: tx})
	})
}
