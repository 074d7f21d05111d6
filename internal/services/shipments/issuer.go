package shipments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/auth"
	"github.com/BearBump/ShipBox/internal/integrations/aggregator/extract"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/google/uuid"
)

// idempotencyNamespace scopes the UUIDv5 keys sent with shipment purchases.
var idempotencyNamespace = uuid.MustParse("b3c1f6a2-1d0e-5f57-9a3e-7c2d4e8f9012")

type OrderStore interface {
	ReadShipping(ctx context.Context, orderID string) (models.OrderShipping, error)
	WriteShipping(ctx context.Context, orderID string, addr models.ShippingAddress, status string) error
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Guard interface {
	Begin(ctx context.Context, orderID string) (int64, error)
	Abort(ctx context.Context, orderID string) error
	Release(ctx context.Context, orderID string) error
	Complete(ctx context.Context, orderID, trackingNumber string) error
}

type Issuer struct {
	orders OrderStore
	creds  auth.Provider
	client aggregator.Client
	sender models.Address

	pub   Publisher
	topic string
	guard Guard

	now func() time.Time
}

type Option func(*Issuer)

func WithPublisher(p Publisher, topic string) Option {
	return func(i *Issuer) {
		i.pub = p
		i.topic = topic
		if i.topic == "" {
			i.topic = messages.TopicShipmentPurchased
		}
	}
}

func WithGuard(g Guard) Option {
	return func(i *Issuer) { i.guard = g }
}

func New(orders OrderStore, creds auth.Provider, client aggregator.Client, sender models.Address, opts ...Option) *Issuer {
	i := &Issuer{
		orders: orders,
		creds:  creds,
		client: client,
		sender: sender,
		now:    time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

type IssueShipmentInput struct {
	OrderID     string
	QuotationID string
	RateID      string
	Sender      *models.Address
}

func (i *Issuer) IssueShipment(ctx context.Context, in IssueShipmentInput) (models.Shipment, error) {
	if err := validate(in); err != nil {
		return models.Shipment{}, err
	}

	order, err := i.orders.ReadShipping(ctx, in.OrderID)
	if err != nil {
		return models.Shipment{}, err
	}
	if tn := order.Address.TrackingNumber(); tn != "" {
		return models.Shipment{}, shiperr.Conflict("order %s already shipped with tracking %s", in.OrderID, tn)
	}

	headers, err := i.creds.AuthHeaders(ctx)
	if err != nil {
		return models.Shipment{}, err
	}

	var attempt int64
	if i.guard != nil {
		if attempt, err = i.guard.Begin(ctx, in.OrderID); err != nil {
			return models.Shipment{}, err
		}
	}

	sender := i.sender
	if in.Sender != nil {
		sender = *in.Sender
	}
	req := aggregator.ShipmentRequest{
		Shipment: aggregator.Shipment{
			QuotationID: in.QuotationID,
			RateID:      in.RateID,
			Format:      labelFormat,
			AddressFrom: senderBlock(sender),
			AddressTo:   recipientBlock(order.Address.Address(), order.Email),
			Packages:    defaultPackages(),
		},
	}
	if attempt > 0 {
		req.IdempotencyKey = IdempotencyKey(in.OrderID, attempt)
	}

	doc, err := i.client.CreateShipment(ctx, headers, req)
	if err != nil {
		i.settle(ctx, in.OrderID, err)
		if _, ok := shiperr.As(err); !ok {
			err = shiperr.Unreachable("create shipment", err)
		}
		slog.Error("create shipment", "order_id", in.OrderID, "quotation_id", in.QuotationID, "err", err)
		return models.Shipment{}, err
	}

	sh := models.Shipment{
		OrderID:     in.OrderID,
		QuotationID: in.QuotationID,
		RateID:      in.RateID,
	}
	var ok bool
	if sh.TrackingNumber, ok = extract.TrackingNumber(doc); !ok {
		sh.TrackingNumber = models.TrackingNumberPending
	}
	sh.LabelURL, _ = extract.LabelURL(doc)
	sh.ID, _ = extract.ShipmentID(doc)

	if i.guard != nil {
		if err := i.guard.Complete(ctx, in.OrderID, sh.TrackingNumber); err != nil {
			slog.Warn("shipment guard complete failed", "order_id", in.OrderID, "err", err)
		}
	}
	i.publish(ctx, sh, attempt)

	if err := i.orders.WriteShipping(ctx, in.OrderID, order.Address.WithShipment(sh), models.OrderStatusShipped); err != nil {
		slog.Error("label purchased but order not updated",
			"order_id", in.OrderID, "tracking_number", sh.TrackingNumber, "shipment_id", sh.ID, "err", err)
		if _, ok := shiperr.As(err); ok {
			return sh, err
		}
		return sh, shiperr.Persistence(fmt.Sprintf("label %s purchased but order %s was not updated", sh.TrackingNumber, in.OrderID), err)
	}

	slog.Info("shipment issued", "order_id", in.OrderID, "tracking_number", sh.TrackingNumber, "shipment_id", sh.ID)
	return sh, nil
}

// IdempotencyKey is stable for one purchase attempt of one order.
func IdempotencyKey(orderID string, attempt int64) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(fmt.Sprintf("shipment:%s:%d", orderID, attempt))).String()
}

// settle frees the order after a failed purchase. Only a 4xx from the
// aggregator proves no label was bought; after a timeout or a 5xx the next try
// must send the same idempotency key.
func (i *Issuer) settle(ctx context.Context, orderID string, cause error) {
	if i.guard == nil {
		return
	}
	var err error
	if rejected(cause) {
		err = i.guard.Abort(ctx, orderID)
	} else {
		err = i.guard.Release(ctx, orderID)
	}
	if err != nil {
		slog.Warn("shipment guard release failed", "order_id", orderID, "err", err)
	}
}

func rejected(err error) bool {
	e, ok := shiperr.As(err)
	return ok && e.Kind == shiperr.KindProvider && e.StatusCode >= 400 && e.StatusCode < 500
}

func (i *Issuer) publish(ctx context.Context, sh models.Shipment, attempt int64) {
	if i.pub == nil {
		return
	}
	err := i.pub.PublishJSON(ctx, i.topic, sh.OrderID, messages.ShipmentPurchased{
		OrderID:     sh.OrderID,
		QuotationID: sh.QuotationID,
		RateID:      sh.RateID,
		ShipmentID:  sh.ID,
		Tracking:    sh.TrackingNumber,
		LabelURL:    sh.LabelURL,
		Attempt:     attempt,
		PurchasedAt: i.now().UTC(),
	})
	if err != nil {
		slog.Warn("publish shipment purchased", "order_id", sh.OrderID, "err", err)
	}
}

func validate(in IssueShipmentInput) error {
	var missing []string
	if strings.TrimSpace(in.OrderID) == "" {
		missing = append(missing, "order_id")
	}
	if strings.TrimSpace(in.QuotationID) == "" {
		missing = append(missing, "quotation_id")
	}
	if strings.TrimSpace(in.RateID) == "" {
		missing = append(missing, "rate_id")
	}
	if len(missing) > 0 {
		return shiperr.Validation("missing %s", strings.Join(missing, ", "))
	}
	return nil
}
