package quotations

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const defaultCountryCode = "MX"

type OrderReader interface {
	ReadShipping(ctx context.Context, orderID string) (models.OrderShipping, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	orders   OrderReader
	creds    auth.Provider
	client   aggregator.Client
	sender   models.Address
	policy   PollPolicy
	validate *validator.Validate

	cache    cache.BytesCache
	cacheTTL time.Duration

	rl          Limiter
	rlPerMinute int64

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

type Option func(*Service)

func WithPollPolicy(p PollPolicy) Option {
	return func(s *Service) { s.policy = p.normalize() }
}

// WithCache keeps quotation snapshots so GET /quotations/{id} survives a failing aggregator.
func WithCache(c cache.BytesCache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

func WithRateLimiter(l Limiter, perMinute int64) Option {
	return func(s *Service) { s.rl, s.rlPerMinute = l, perMinute }
}

// New builds the quotation workflow. sender is the default origin used when a
// request does not carry its own.
func New(orders OrderReader, creds auth.Provider, client aggregator.Client, sender models.Address, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		creds:    creds,
		client:   client,
		sender:   sender,
		policy:   DefaultPollPolicy(),
		validate: validator.New(),
		sleep:    sleepCtx,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateQuotationInput struct {
	OrderID string
	Package models.PackageSpec
	Sender  *models.Address
}

func (s *Service) CreateQuotation(ctx context.Context, in CreateQuotationInput) (models.Quotation, error) {
	if strings.TrimSpace(in.OrderID) == "" {
		return models.Quotation{}, shiperr.Validation("order_id is required")
	}
	if err := s.validate.Struct(in.Package); err != nil {
		return models.Quotation{}, shiperr.Validation("package dimensions must be positive: %s", fieldList(err))
	}

	order, err := s.orders.ReadShipping(ctx, in.OrderID)
	if err != nil {
		return models.Quotation{}, err
	}
	to := order.Address.Address()
	if missing := missingQuotingFields(to); len(missing) > 0 {
		return models.Quotation{}, shiperr.Validation("shipping address is incomplete: missing %s", strings.Join(missing, ", "))
	}

	headers, err := s.creds.AuthHeaders(ctx)
	if err != nil {
		return models.Quotation{}, err
	}

	if !s.admit(ctx) {
		return models.Quotation{}, shiperr.RateLimited("aggregator rate limit of %d calls per minute reached, retry later", s.rlPerMinute)
	}
	doc, err := s.client.CreateQuotation(ctx, headers, aggregator.QuotationRequest{
		Quotation: aggregator.Quotation{
			OrderID:     in.OrderID,
			AddressFrom: quotingAddress(s.senderFor(in.Sender)),
			AddressTo:   quotingAddress(to),
			Parcels: []aggregator.Parcel{{
				Length: in.Package.Length,
				Width:  in.Package.Width,
				Height: in.Package.Height,
				Weight: in.Package.Weight,
			}},
		},
	})
	if err != nil {
		return models.Quotation{}, providerErr("create quotation", err)
	}

	id, ok := extract.QuotationID(doc)
	if !ok {
		body, _ := json.Marshal(doc)
		return models.Quotation{}, shiperr.Unreachable("quotation response has no id", errors.New(string(body)))
	}

	q := models.Quotation{
		ID:        id,
		OrderID:   in.OrderID,
		Completed: extract.QuotationCompleted(doc),
		Rates:     extract.Rates(doc),
	}
	if err := s.poll(ctx, headers, &q); err != nil {
		return models.Quotation{}, err
	}

	q.FetchedAt = s.now().UTC()
	if q.Rates == nil {
		q.Rates = []models.RateOffer{}
	}
	s.remember(ctx, q)

	slog.Info("quotation ready", "order_id", in.OrderID, "quotation_id", q.ID,
		"completed", q.Completed, "attempts", q.Attempts, "rates", len(q.Rates))
	return q, nil
}

// poll re-reads the quotation until the aggregator marks it completed or the
// attempt budget runs out. A failing GET is logged and does not end the loop.
func (s *Service) poll(ctx context.Context, headers http.Header, q *models.Quotation) error {
	for !q.Completed && q.Attempts < s.policy.MaxAttempts {
		if err := s.sleep(ctx, s.policy.Interval); err != nil {
			return errors.Wrap(err, "poll quotation")
		}
		q.Attempts++

		// опрос уже начатой котировки не тормозим: только учитываем вызов
		s.admit(ctx)
		doc, err := s.client.GetQuotation(ctx, headers, q.ID)
		if err != nil {
			slog.Warn("poll quotation failed", "quotation_id", q.ID, "attempt", q.Attempts, "err", err)
			continue
		}
		q.Completed = extract.QuotationCompleted(doc)
		if rates := extract.Rates(doc); len(rates) > 0 {
			q.Rates = rates
		}
	}
	return nil
}

// RefreshQuotation does a single GET for a known quotation. When the aggregator
// fails and a snapshot is cached, the snapshot is returned instead.
func (s *Service) RefreshQuotation(ctx context.Context, quotationID string) (models.Quotation, error) {
	if strings.TrimSpace(quotationID) == "" {
		return models.Quotation{}, shiperr.Validation("quotation_id is required")
	}
	prev, cached := s.cached(ctx, quotationID)

	headers, err := s.creds.AuthHeaders(ctx)
	if err != nil {
		return models.Quotation{}, err
	}

	if !s.admit(ctx) {
		if cached {
			slog.Warn("aggregator rate limit reached, serving cached snapshot", "quotation_id", quotationID)
			return prev, nil
		}
		return models.Quotation{}, shiperr.RateLimited("aggregator rate limit of %d calls per minute reached, retry later", s.rlPerMinute)
	}
	doc, err := s.client.GetQuotation(ctx, headers, quotationID)
	if err != nil {
		if cached {
			slog.Warn("refresh quotation failed, serving cached snapshot", "quotation_id", quotationID, "err", err)
			return prev, nil
		}
		return models.Quotation{}, providerErr("get quotation", err)
	}

	q := models.Quotation{
		ID:        quotationID,
		OrderID:   prev.OrderID,
		Completed: extract.QuotationCompleted(doc),
		Attempts:  prev.Attempts + 1,
		Rates:     extract.Rates(doc),
		FetchedAt: s.now().UTC(),
	}
	if len(q.Rates) == 0 {
		q.Rates = prev.Rates
	}
	if q.Rates == nil {
		q.Rates = []models.RateOffer{}
	}
	s.remember(ctx, q)
	return q, nil
}

// admit counts one aggregator call against the per-minute budget and reports
// whether the budget still allows it. It never waits. A broken limiter admits.
func (s *Service) admit(ctx context.Context) bool {
	if s.rl == nil || s.rlPerMinute <= 0 {
		return true
	}
	key := fmt.Sprintf("rl:aggregator:%s", s.now().UTC().Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, key, s.rlPerMinute, 70*time.Second)
	if err != nil {
		slog.Warn("rate limiter unavailable", "err", err)
		return true
	}
	if !allowed {
		slog.Warn("aggregator rate limit exceeded", "count", n, "limit", s.rlPerMinute)
	}
	return allowed
}

func (s *Service) cached(ctx context.Context, id string) (models.Quotation, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return models.Quotation{}, false
	}
	b, ok, err := s.cache.Get(ctx, cacheKey(id))
	if err != nil || !ok {
		return models.Quotation{}, false
	}
	var q models.Quotation
	if json.Unmarshal(b, &q) != nil {
		return models.Quotation{}, false
	}
	return q, true
}

func (s *Service) remember(ctx context.Context, q models.Quotation) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(q)
	if err != nil {
		slog.Warn("quotation snapshot marshal failed", "quotation_id", q.ID, "err", err)
		return
	}
	if err := s.cache.Set(ctx, cacheKey(q.ID), b, s.cacheTTL); err != nil {
		slog.Warn("quotation snapshot cache set failed", "quotation_id", q.ID, "err", err)
	}
}

func (s *Service) senderFor(override *models.Address) models.Address {
	if override != nil {
		return *override
	}
	return s.sender
}

func quotingAddress(a models.Address) aggregator.QuotingAddress {
	cc := a.CountryCode
	if cc == "" {
		cc = defaultCountryCode
	}
	return aggregator.QuotingAddress{
		CountryCode: cc,
		PostalCode:  a.PostalCode,
		AreaLevel1:  a.State,
		AreaLevel2:  a.City,
		AreaLevel3:  a.Neighborhood,
	}
}

func missingQuotingFields(a models.Address) []string {
	var missing []string
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if strings.TrimSpace(a.State) == "" {
		missing = append(missing, "state")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	return missing
}

func fieldList(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, strings.ToLower(fe.Field()))
	}
	return strings.Join(names, ", ")
}

// providerErr keeps taxonomy errors as they are and marks anything else as an
// unreachable aggregator.
func providerErr(op string, err error) error {
	if _, ok := shiperr.As(err); ok {
		return err
	}
	return shiperr.Unreachable(op, err)
}

func cacheKey(id string) string {
	return "quotation:" + id
}
