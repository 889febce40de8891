package subscriptions

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository is the MySQL-backed Store plus the plan and renewal
// operations the payment flow needs.
type Repository struct {
	db *sql.DB
}

// execer is the subset of *sql.DB and *sql.Tx the writer paths run on, so
// the same statements work standalone and inside a purchase transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const subscriptionColumns = `user_id, tier, messages_used, messages_limit, premium_messages_used, premium_messages_limit,
	message_credits, premium_message_credits, current_period_start, current_period_end, auto_renew`

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.UserID, &s.Tier, &s.MessagesUsed, &s.MessagesLimit, &s.PremiumMessagesUsed, &s.PremiumMessagesLimit,
		&s.MessageCredits, &s.PremiumMessageCredits, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.AutoRenew)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Subscription returns the user's record without locking it.
func (r *Repository) Subscription(ctx context.Context, userID int) (*Subscription, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id=? LIMIT 1`, userID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, r.missingErr(ctx, userID)
	}
	return sub, err
}

// WithSubscription runs fn against the row locked FOR UPDATE and persists
// the mutated counters plus the returned usage record in one transaction.
// The lock makes the read-check-mutate cycle atomic per user, so two
// concurrent deductions can never both spend the last unit of a pool.
func (r *Repository) WithSubscription(ctx context.Context, userID int, fn func(*Subscription) (*UsageRecord, error)) (*Subscription, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id=? FOR UPDATE`, userID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, r.missingErr(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	rec, err := fn(sub)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `UPDATE subscriptions SET messages_used=?, premium_messages_used=?, message_credits=?, premium_message_credits=?, updated_at=NOW() WHERE user_id=?`,
		sub.MessagesUsed, sub.PremiumMessagesUsed, sub.MessageCredits, sub.PremiumMessageCredits, userID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		_, err = tx.ExecContext(ctx, `INSERT INTO usage_records (id, user_id, model, amount, estimated_cost, date, created_at) VALUES (?,?,?,?,?,?,?)`,
			rec.ID, rec.UserID, rec.Model, rec.Amount, rec.EstimatedCost, rec.Date, rec.CreatedAt)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return sub, nil
}

// missingErr distinguishes a missing account from an account without a
// subscription row.
func (r *Repository) missingErr(ctx context.Context, userID int) error {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE id=?`, userID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return ErrNoSubscription
}

// EnsureSubscription creates a subscription on the given tier if the user
// has none yet. Used at signup and as a backfill for legacy accounts.
func (r *Repository) EnsureSubscription(ctx context.Context, userID int, tier Tier) error {
	return r.ensureSubscription(ctx, r.db, userID, tier)
}

func (r *Repository) ensureSubscription(ctx context.Context, ex execer, userID int, tier Tier) error {
	var count int
	if err := ex.QueryRowContext(ctx, `SELECT COUNT(1) FROM subscriptions WHERE user_id=?`, userID).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	plan, err := r.GetPlanByTier(ctx, tier)
	if err != nil {
		return err
	}
	now := time.Now()
	_, err = ex.ExecContext(ctx, `INSERT INTO subscriptions (user_id, tier, messages_used, messages_limit, premium_messages_used, premium_messages_limit, message_credits, premium_message_credits, current_period_start, current_period_end, auto_renew)
		VALUES (?,?,0,?,0,?,0,0,?,?,0)`,
		userID, plan.Tier, plan.MessagesLimit, plan.PremiumMessagesLimit, now.UnixMilli(), now.AddDate(0, 0, 30).UnixMilli())
	return err
}

// RenewSubscription moves the user onto tier for a fresh 30-day period:
// used counters reset, limits come from the plan, purchased credits are
// untouched. This is the payment flow's writer path; deductions never
// touch period boundaries.
func (r *Repository) RenewSubscription(ctx context.Context, userID int, tier Tier) (*Subscription, error) {
	if err := r.renewSubscription(ctx, r.db, userID, tier); err != nil {
		return nil, err
	}
	return r.Subscription(ctx, userID)
}

func (r *Repository) renewSubscription(ctx context.Context, ex execer, userID int, tier Tier) error {
	plan, err := r.GetPlanByTier(ctx, tier)
	if err != nil {
		return err
	}
	now := time.Now()
	res, err := ex.ExecContext(ctx, `UPDATE subscriptions SET tier=?, messages_used=0, messages_limit=?, premium_messages_used=0, premium_messages_limit=?, current_period_start=?, current_period_end=?, auto_renew=1, updated_at=NOW() WHERE user_id=?`,
		plan.Tier, plan.MessagesLimit, plan.PremiumMessagesLimit, now.UnixMilli(), now.AddDate(0, 0, 30).UnixMilli(), userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.ensureSubscription(ctx, ex, userID, tier)
	}
	return nil
}

// addCredits tops up the purchased credit balances. Credits persist
// across period rollovers and are only ever spent by the ledger.
func (r *Repository) addCredits(ctx context.Context, ex execer, userID, standard, premium int) error {
	_, err := ex.ExecContext(ctx, `UPDATE subscriptions SET message_credits=message_credits+?, premium_message_credits=premium_message_credits+?, updated_at=NOW() WHERE user_id=?`,
		standard, premium, userID)
	return err
}

// ApplyCreditPurchase tops up purchased credits for a paid checkout
// session, at most once per session id. See applyOnce.
func (r *Repository) ApplyCreditPurchase(ctx context.Context, sessionID string, userID, standard, premium int) (bool, error) {
	return r.applyOnce(ctx, sessionID, func(ex execer) error {
		return r.addCredits(ctx, ex, userID, standard, premium)
	})
}

// ApplyPlanPurchase renews the subscription onto tier for a paid checkout
// session, at most once per session id. See applyOnce.
func (r *Repository) ApplyPlanPurchase(ctx context.Context, sessionID string, userID int, tier Tier) (bool, error) {
	return r.applyOnce(ctx, sessionID, func(ex execer) error {
		return r.renewSubscription(ctx, ex, userID, tier)
	})
}

// applyOnce records the session id and runs mutate in one transaction, so
// a session is marked processed only when its mutation committed. A
// failed mutation rolls the marker back and the webhook retry gets a
// clean attempt; a session already applied returns false without
// mutating anything. Dedupes the webhook against the client's
// confirm-session race.
func (r *Repository) applyOnce(ctx context.Context, sessionID string, mutate func(execer) error) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT IGNORE INTO stripe_sessions (session_id) VALUES (?)`, sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if err := mutate(tx); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RecentUsage returns the newest audit entries for a user.
func (r *Repository) RecentUsage(ctx context.Context, userID, limit int) ([]UsageRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, model, amount, estimated_cost, date, created_at FROM usage_records WHERE user_id=? ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []UsageRecord{}
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Model, &rec.Amount, &rec.EstimatedCost, &rec.Date, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanPlan(scan func(dest ...any) error) (*Plan, error) {
	var p Plan
	err := scan(&p.ID, &p.Tier, &p.Name, &p.Currency, &p.Price, &p.MessagesLimit, &p.PremiumMessagesLimit, &p.StripeProductID, &p.StripePriceID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) GetPlans(ctx context.Context) ([]Plan, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, tier, name, currency, price, messages_limit, premium_messages_limit, IFNULL(stripe_product_id,''), IFNULL(stripe_price_id,'') FROM subscription_plans ORDER BY price ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	plans := []Plan{}
	for rows.Next() {
		p, err := scanPlan(rows.Scan)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (r *Repository) GetPlanByID(ctx context.Context, id int) (*Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, tier, name, currency, price, messages_limit, premium_messages_limit, IFNULL(stripe_product_id,''), IFNULL(stripe_price_id,'') FROM subscription_plans WHERE id=? LIMIT 1`, id)
	p, err := scanPlan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *Repository) GetPlanByTier(ctx context.Context, tier Tier) (*Plan, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, tier, name, currency, price, messages_limit, premium_messages_limit, IFNULL(stripe_product_id,''), IFNULL(stripe_price_id,'') FROM subscription_plans WHERE tier=? LIMIT 1`, tier)
	p, err := scanPlan(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no plan for tier %s", tier)
	}
	return p, err
}

func (r *Repository) CreatePlan(ctx context.Context, p *Plan) error {
	res, err := r.db.ExecContext(ctx, `INSERT INTO subscription_plans (tier, name, currency, price, messages_limit, premium_messages_limit, stripe_product_id, stripe_price_id) VALUES (?,?,?,?,?,?,?,?)`,
		p.Tier, p.Name, p.Currency, p.Price, p.MessagesLimit, p.PremiumMessagesLimit, p.StripeProductID, p.StripePriceID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = int(id)
	return nil
}

func (r *Repository) UpdatePlan(ctx context.Context, id int, p *Plan) error {
	_, err := r.db.ExecContext(ctx, `UPDATE subscription_plans SET tier=?, name=?, currency=?, price=?, messages_limit=?, premium_messages_limit=?, stripe_product_id=?, stripe_price_id=? WHERE id=?`,
		p.Tier, p.Name, p.Currency, p.Price, p.MessagesLimit, p.PremiumMessagesLimit, p.StripeProductID, p.StripePriceID, id)
	return err
}

func (r *Repository) DeletePlan(ctx context.Context, id int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscription_plans WHERE id=?`, id)
	return err
}
