package quotations

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cachemocks "github.com/BearBump/ShipBox/internal/cache/mocks"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	aggmocks "github.com/BearBump/ShipBox/internal/integrations/aggregator/mocks"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type fakeOrders struct {
	orders map[string]models.OrderShipping
	reads  int
}

func (f *fakeOrders) ReadShipping(_ context.Context, orderID string) (models.OrderShipping, error) {
	f.reads++
	o, ok := f.orders[orderID]
	if !ok {
		return models.OrderShipping{}, shiperr.NotFound("order %s not found", orderID)
	}
	return o, nil
}

type ServiceSuite struct {
	suite.Suite

	orders *fakeOrders
	client *aggmocks.MockClient
	svc    *Service
	sleeps []time.Duration
}

var sender = models.Address{Name: "Warehouse", PostalCode: "64000", City: "Monterrey", State: "Nuevo León", CountryCode: "MX"}

func doc(raw string) extract.Document { return extract.Decode([]byte(raw)) }

func (s *ServiceSuite) SetupTest() {
	s.orders = &fakeOrders{orders: map[string]models.OrderShipping{
		"o-1": {
			OrderID: "o-1",
			Address: models.ParseShippingAddress([]byte(`{"postal_code":"06700","state":"CDMX","city":"Cuauhtémoc","neighborhood":"Roma Norte"}`)),
		},
		// адрес приходит строкой
		"o-str": {
			OrderID: "o-str",
			Address: models.ParseShippingAddress([]byte(`"{\"postal_code\":\"06700\",\"state\":\"CDMX\",\"city\":\"Cuauhtémoc\"}"`)),
		},
		"o-nocity": {
			OrderID: "o-nocity",
			Address: models.ParseShippingAddress([]byte(`{"postal_code":"06700","state":"CDMX"}`)),
		},
	}}
	s.client = &aggmocks.MockClient{}
	s.sleeps = nil
	s.svc = New(s.orders, auth.Static("tok"), s.client, sender)
	s.svc.sleep = func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	}
}

func validInput(orderID string) CreateQuotationInput {
	return CreateQuotationInput{
		OrderID: orderID,
		Package: models.PackageSpec{Weight: 1.5, Length: 20, Width: 15, Height: 10},
	}
}

func (s *ServiceSuite) TestCreateQuotation_CompletedImmediately_OnePOSTNoPolling() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.MatchedBy(func(req aggregator.QuotationRequest) bool {
		q := req.Quotation
		return q.OrderID == "o-1" &&
			q.AddressTo.PostalCode == "06700" && q.AddressTo.AreaLevel1 == "CDMX" &&
			q.AddressTo.AreaLevel2 == "Cuauhtémoc" && q.AddressTo.AreaLevel3 == "Roma Norte" &&
			q.AddressTo.CountryCode == "MX" && q.AddressFrom.PostalCode == "64000" &&
			len(q.Parcels) == 1 && q.Parcels[0].Weight == 1.5
	})).Return(doc(`{"data":{"id":"q-1","attributes":{"is_completed":true}},"rates":[{"id":"r1","total":200}]}`), nil).Once()

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().NoError(err)
	s.Require().Equal("q-1", q.ID)
	s.Require().True(q.Completed)
	s.Require().Equal(0, q.Attempts)
	s.Require().Len(q.Rates, 1)
	s.Require().True(q.Rates[0].Amount.Equal(decimal.NewFromInt(200)))
	s.Require().Empty(s.sleeps)

	s.client.AssertNumberOfCalls(s.T(), "CreateQuotation", 1)
	s.client.AssertNotCalled(s.T(), "GetQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateQuotation_PollsAtMostThreeTimesWithTwoSecondSleeps() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"data":{"id":"q-2"}}`), nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-2").
		Return(doc(`{"data":{"id":"q-2","attributes":{"is_completed":false}}}`), nil)

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().NoError(err)
	s.Require().False(q.Completed)
	s.Require().Equal(3, q.Attempts)
	s.Require().Empty(q.Rates)
	s.Require().NotNil(q.Rates)
	s.Require().Equal([]time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, s.sleeps)
	s.client.AssertNumberOfCalls(s.T(), "GetQuotation", 3)
}

func (s *ServiceSuite) TestCreateQuotation_StopsWhenCompleted_KeepsRatesWhenLaterPollEmpty() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"data":{"id":"q-3"}}`), nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-3").
		Return(doc(`{"data":{"id":"q-3"},"included":[{"type":"rates","attributes":{"success":true,"total":150}}]}`), nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-3").
		Return(doc(`{"data":{"id":"q-3","attributes":{"is_completed":true}}}`), nil).Once()

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().NoError(err)
	s.Require().True(q.Completed)
	s.Require().Equal(2, q.Attempts)
	s.Require().Len(q.Rates, 1)
	s.Require().True(q.Rates[0].Amount.Equal(decimal.NewFromInt(150)))
	s.client.AssertNumberOfCalls(s.T(), "GetQuotation", 2)
}

func (s *ServiceSuite) TestCreateQuotation_FailedPollIsAbsorbed() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"id":"q-4","is_completed":false}`), nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-4").
		Return(nil, shiperr.Provider("get quotation", 502, []byte("bad gateway"))).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-4").
		Return(doc(`{"id":"q-4","is_completed":true,"rates":[{"id":"r","total":99}]}`), nil).Once()

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-str"))
	s.Require().NoError(err)
	s.Require().True(q.Completed)
	s.Require().Equal(2, q.Attempts)
	s.Require().Len(q.Rates, 1)
}

func (s *ServiceSuite) TestCreateQuotation_ValidationErrorsMakeNoNetworkCalls() {
	_, err := s.svc.CreateQuotation(context.Background(), validInput("o-nocity"))
	s.Require().True(shiperr.IsKind(err, shiperr.KindValidation))
	s.Require().Contains(err.Error(), "city")

	in := validInput("o-1")
	in.Package.Height = 0
	_, err = s.svc.CreateQuotation(context.Background(), in)
	s.Require().True(shiperr.IsKind(err, shiperr.KindValidation))
	s.Require().Contains(err.Error(), "height")

	_, err = s.svc.CreateQuotation(context.Background(), validInput(" "))
	s.Require().True(shiperr.IsKind(err, shiperr.KindValidation))

	s.client.AssertNotCalled(s.T(), "CreateQuotation", mock.Anything, mock.Anything, mock.Anything)
	s.client.AssertNotCalled(s.T(), "GetQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateQuotation_UnknownOrder() {
	_, err := s.svc.CreateQuotation(context.Background(), validInput("nope"))
	s.Require().True(shiperr.IsKind(err, shiperr.KindNotFound))
	s.client.AssertNotCalled(s.T(), "CreateQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateQuotation_AuthErrorStopsBeforePOST() {
	s.svc.creds = auth.New(auth.Credentials{}, nil)
	_, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().True(shiperr.IsKind(err, shiperr.KindAuth))
	s.client.AssertNotCalled(s.T(), "CreateQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateQuotation_ProviderErrorOnPOST() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, shiperr.Provider("create quotation", 400, []byte(`{"error":"zip"}`))).Once()

	_, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	e, ok := shiperr.As(err)
	s.Require().True(ok)
	s.Require().Equal(shiperr.KindProvider, e.Kind)
	s.Require().Equal(`{"error":"zip"}`, e.Body)
}

func (s *ServiceSuite) TestCreateQuotation_TransportErrorBecomesProviderKind() {
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("dial tcp: refused")).Once()

	_, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().True(shiperr.IsKind(err, shiperr.KindProvider))
}

func (s *ServiceSuite) TestCreateQuotation_SenderOverride() {
	override := &models.Address{PostalCode: "44100", City: "Guadalajara", State: "Jalisco"}
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.MatchedBy(func(req aggregator.QuotationRequest) bool {
		return req.Quotation.AddressFrom.PostalCode == "44100" && req.Quotation.AddressFrom.CountryCode == "MX"
	})).Return(doc(`{"data":{"id":"q","attributes":{"is_completed":true}}}`), nil).Once()

	in := validInput("o-1")
	in.Sender = override
	_, err := s.svc.CreateQuotation(context.Background(), in)
	s.Require().NoError(err)
	s.client.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreateQuotation_CancelledDuringSleep() {
	s.svc.sleep = sleepCtx
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"data":{"id":"q"}}`), nil).Once()

	_, err := s.svc.CreateQuotation(ctx, validInput("o-1"))
	s.Require().ErrorIs(err, context.Canceled)
	s.client.AssertNotCalled(s.T(), "GetQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestRefreshQuotation_CachesAndFallsBack() {
	c := &cachemocks.MockBytesCache{}
	WithCache(c, time.Minute)(s.svc)

	prev := models.Quotation{ID: "q-9", OrderID: "o-1", Attempts: 3, Rates: []models.RateOffer{{ID: "old", Amount: decimal.NewFromInt(1), Success: true}}}
	prevJSON, _ := json.Marshal(prev)

	// 1) aggregator ok, no rates yet -> keep cached rates, store snapshot
	c.On("Get", mock.Anything, "quotation:q-9").Return(prevJSON, true, nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-9").
		Return(doc(`{"data":{"id":"q-9","attributes":{"is_completed":true}}}`), nil).Once()
	c.On("Set", mock.Anything, "quotation:q-9", mock.Anything, time.Minute).Return(nil).Once()

	q, err := s.svc.RefreshQuotation(context.Background(), "q-9")
	s.Require().NoError(err)
	s.Require().True(q.Completed)
	s.Require().Equal(4, q.Attempts)
	s.Require().Equal("o-1", q.OrderID)
	s.Require().Len(q.Rates, 1)
	s.Require().Equal("old", q.Rates[0].ID)

	// 2) aggregator down -> cached snapshot
	c.On("Get", mock.Anything, "quotation:q-9").Return(prevJSON, true, nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-9").
		Return(nil, errors.New("timeout")).Once()

	q, err = s.svc.RefreshQuotation(context.Background(), "q-9")
	s.Require().NoError(err)
	s.Require().Equal(3, q.Attempts)

	// 3) aggregator down, nothing cached -> provider error
	c.On("Get", mock.Anything, "quotation:q-x").Return(nil, false, nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-x").
		Return(nil, shiperr.Provider("get quotation", 404, []byte("nope"))).Once()

	_, err = s.svc.RefreshQuotation(context.Background(), "q-x")
	s.Require().True(shiperr.IsKind(err, shiperr.KindProvider))

	c.AssertExpectations(s.T())
}

type refusingLimiter struct{ calls int }

func (l *refusingLimiter) Allow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	l.calls++
	return false, int64(l.calls), nil
}

func (s *ServiceSuite) TestCreateQuotation_OverRateLimit_NoPOSTNoWait() {
	rl := &refusingLimiter{}
	WithRateLimiter(rl, 60)(s.svc)

	_, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().True(shiperr.IsKind(err, shiperr.KindRateLimited))
	s.Require().Equal(1, rl.calls)
	s.Require().Empty(s.sleeps)
	s.client.AssertNotCalled(s.T(), "CreateQuotation", mock.Anything, mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestCreateQuotation_LimitHitDuringPoll_KeepsPollCadence() {
	// бюджет кончается сразу после POST: опрос идёт в прежнем темпе
	rl := &countingLimiter{}
	WithRateLimiter(rl, 1)(s.svc)

	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"data":{"id":"q-rl"}}`), nil).Once()
	s.client.On("GetQuotation", mock.Anything, mock.Anything, "q-rl").
		Return(doc(`{"data":{"id":"q-rl","attributes":{"is_completed":false}}}`), nil)

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().NoError(err)
	s.Require().Equal(3, q.Attempts)
	s.Require().Equal([]time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, s.sleeps)
	s.Require().Equal(int64(4), rl.n)
	s.client.AssertNumberOfCalls(s.T(), "GetQuotation", 3)
}

func (s *ServiceSuite) TestRefreshQuotation_OverRateLimit() {
	c := &cachemocks.MockBytesCache{}
	WithCache(c, time.Minute)(s.svc)
	WithRateLimiter(&refusingLimiter{}, 60)(s.svc)

	prev := models.Quotation{ID: "q-7", OrderID: "o-1", Attempts: 2, Rates: []models.RateOffer{}}
	prevJSON, _ := json.Marshal(prev)
	c.On("Get", mock.Anything, "quotation:q-7").Return(prevJSON, true, nil).Once()
	c.On("Get", mock.Anything, "quotation:q-8").Return(nil, false, nil).Once()

	q, err := s.svc.RefreshQuotation(context.Background(), "q-7")
	s.Require().NoError(err)
	s.Require().Equal(2, q.Attempts)

	_, err = s.svc.RefreshQuotation(context.Background(), "q-8")
	s.Require().True(shiperr.IsKind(err, shiperr.KindRateLimited))

	s.Require().Empty(s.sleeps)
	s.client.AssertNotCalled(s.T(), "GetQuotation", mock.Anything, mock.Anything, mock.Anything)
	c.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestCreateQuotation_CacheWriteFailureIsNotFatal() {
	c := &cachemocks.MockBytesCache{}
	WithCache(c, time.Minute)(s.svc)

	s.client.On("CreateQuotation", mock.Anything, mock.Anything, mock.Anything).
		Return(doc(`{"data":{"id":"q-c","attributes":{"is_completed":true}}}`), nil).Once()
	c.On("Set", mock.Anything, "quotation:q-c", mock.Anything, time.Minute).
		Return(errors.New("redis: connection refused")).Once()

	q, err := s.svc.CreateQuotation(context.Background(), validInput("o-1"))
	s.Require().NoError(err)
	s.Require().Equal("q-c", q.ID)
	c.AssertExpectations(s.T())
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
