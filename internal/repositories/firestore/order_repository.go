package firestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/meridianware/charaiveti-api/internal/domain"
	pfirestore "github.com/meridianware/charaiveti-api/internal/platform/firestore"
	"github.com/meridianware/charaiveti-api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection)
	return &OrderRepository{provider: provider, orders: base}, nil
}

// Insert writes a new order document, failing if the id already exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order insert: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return wrapOrderError("orders.insert", err)
	}
	if _, err := ref.Create(ctx, newOrderDocument(order)); err != nil {
		return wrapOrderError("orders.insert", err)
	}
	return nil
}

// Update overwrites the full order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("order update: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return wrapOrderError("orders.update", err)
	}
	if _, err := ref.Set(ctx, newOrderDocument(order)); err != nil {
		return wrapOrderError("orders.update", err)
	}
	return nil
}

// Delete removes the order document. Missing documents are not an error.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return errors.New("order delete: order id is required")
	}

	ref, err := r.orders.DocumentRef(ctx, id)
	if err != nil {
		return wrapOrderError("orders.delete", err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return wrapOrderError("orders.delete", err)
	}
	return nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, errors.New("order find: order id is required")
	}

	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, wrapOrderError("orders.findByID", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIntentID resolves the order holding the given gateway intent.
func (r *OrderRepository) FindByIntentID(ctx context.Context, intentID string) (domain.Order, error) {
	return r.findOneByField(ctx, "orders.findByIntentID", "gateway.intentId", intentID)
}

// FindByShippingLinkID resolves the order holding the given shipping payment link.
func (r *OrderRepository) FindByShippingLinkID(ctx context.Context, linkID string) (domain.Order, error) {
	return r.findOneByField(ctx, "orders.findByShippingLinkID", "shippingPayment.linkId", linkID)
}

func (r *OrderRepository) findOneByField(ctx context.Context, op, field, value string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return domain.Order{}, fmt.Errorf("%s: lookup value is required", op)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, wrapOrderError(op, err)
	}

	iter := client.Collection(ordersCollection).Where(field, "==", trimmed).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return domain.Order{}, wrapOrderError(op, status.Errorf(codes.NotFound, "order with %s %s not found", field, trimmed))
	}
	if err != nil {
		return domain.Order{}, wrapOrderError(op, err)
	}

	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
	}
	return doc.toDomain(snap.Ref.ID), nil
}

// List pages through orders matching the filter, most recent first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
	}

	query := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	if statuses := trimmedValues(filter.Status); len(statuses) > 0 {
		query = query.Where("status", "in", statuses)
	}
	if statuses := trimmedValues(filter.PaymentStatus); len(statuses) > 0 {
		query = query.Where("paymentStatus", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy("number", firestore.Desc).Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		decoded, err := decodeOrderPageToken(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		query = query.StartAfter(decoded.CreatedAt, decoded.Number)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		encoded, err := encodeOrderPageToken(orderPageToken{CreatedAt: last.CreatedAt, Number: last.Number})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrderError("orders.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.Order]{
		Items:         orders,
		NextPageToken: nextToken,
	}, nil
}

type orderPageToken struct {
	CreatedAt time.Time
	Number    string
}

func encodeOrderPageToken(token orderPageToken) (string, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	if err := enc.Encode(token); err != nil {
		return "", fmt.Errorf("encode order page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSpace(buf.Bytes())), nil
}

func decodeOrderPageToken(encoded string) (*orderPageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode order page token: %w", err)
	}
	var token orderPageToken
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("decode order page token json: %w", err)
	}
	return &token, nil
}

func trimmedValues(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type orderDocument struct {
	Number          string                   `firestore:"number"`
	UserID          string                   `firestore:"userId"`
	Status          string                   `firestore:"status"`
	PaymentStatus   string                   `firestore:"paymentStatus"`
	PaymentMethod   string                   `firestore:"paymentMethod"`
	Currency        string                   `firestore:"currency"`
	Items           []orderItemDocument      `firestore:"items"`
	Totals          orderTotalsDocument      `firestore:"totals"`
	GST             *gstSnapshotDocument     `firestore:"gst,omitempty"`
	ShippingAddress addressDocument          `firestore:"shippingAddress"`
	BillingAddress  *addressDocument         `firestore:"billingAddress,omitempty"`
	Gateway         *gatewayIntentDocument   `firestore:"gateway,omitempty"`
	StockCommitted  bool                     `firestore:"stockCommitted"`
	ShippingPayment *shippingPaymentDocument `firestore:"shippingPayment,omitempty"`
	Packages        []packageDocument        `firestore:"packages,omitempty"`
	CancelReason    *string                  `firestore:"cancelReason,omitempty"`
	Metadata        map[string]any           `firestore:"metadata,omitempty"`
	CreatedAt       time.Time                `firestore:"createdAt"`
	UpdatedAt       time.Time                `firestore:"updatedAt"`
	PaidAt          *time.Time               `firestore:"paidAt,omitempty"`
	ConfirmedAt     *time.Time               `firestore:"confirmedAt,omitempty"`
	ShippedAt       *time.Time               `firestore:"shippedAt,omitempty"`
	DeliveredAt     *time.Time               `firestore:"deliveredAt,omitempty"`
	CancelledAt     *time.Time               `firestore:"cancelledAt,omitempty"`
}

type orderItemDocument struct {
	ProductID    string `firestore:"productId"`
	SKU          string `firestore:"sku"`
	Name         string `firestore:"name"`
	ImageURL     string `firestore:"imageUrl,omitempty"`
	RequestedQty int    `firestore:"requestedQty"`
	Quantity     int    `firestore:"quantity"`
	UnitPrice    int64  `firestore:"unitPrice"`
	Subtotal     int64  `firestore:"subtotal"`
	HSNCode      string `firestore:"hsnCode,omitempty"`
}

type orderTotalsDocument struct {
	Subtotal   int64   `firestore:"subtotal"`
	Tax        int64   `firestore:"tax"`
	TaxPercent float64 `firestore:"taxPercent"`
	Shipping   int64   `firestore:"shipping"`
	Discount   int64   `firestore:"discount"`
	Total      int64   `firestore:"total"`
}

type gstSnapshotDocument struct {
	TaxID            string    `firestore:"taxId"`
	LegalName        string    `firestore:"legalName"`
	PlaceOfSupply    string    `firestore:"placeOfSupply"`
	TaxPercent       float64   `firestore:"taxPercent"`
	TaxBase          int64     `firestore:"taxBase"`
	TaxAmount        int64     `firestore:"taxAmount"`
	InvoiceRequested bool      `firestore:"invoiceRequested"`
	CapturedAt       time.Time `firestore:"capturedAt"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city,omitempty"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode,omitempty"`
	Country    string  `firestore:"country,omitempty"`
	Phone      *string `firestore:"phone,omitempty"`
}

type gatewayIntentDocument struct {
	Provider  string    `firestore:"provider"`
	IntentID  string    `firestore:"intentId"`
	Amount    int64     `firestore:"amount"`
	Currency  string    `firestore:"currency"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type shippingPaymentDocument struct {
	LinkID     string                           `firestore:"linkId"`
	ShortURL   string                           `firestore:"shortUrl"`
	Amount     int64                            `firestore:"amount"`
	AmountPaid int64                            `firestore:"amountPaid"`
	Status     string                           `firestore:"status"`
	Receipts   []shippingPaymentReceiptDocument `firestore:"receipts,omitempty"`
	Note       string                           `firestore:"note,omitempty"`
	CreatedAt  time.Time                        `firestore:"createdAt"`
	UpdatedAt  time.Time                        `firestore:"updatedAt"`
	ExpiresAt  *time.Time                       `firestore:"expiresAt,omitempty"`
}

type shippingPaymentReceiptDocument struct {
	PaymentID  string    `firestore:"paymentId"`
	Amount     int64     `firestore:"amount"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

type packageDocument struct {
	ID          string    `firestore:"id"`
	LengthCm    float64   `firestore:"lengthCm"`
	WidthCm     float64   `firestore:"widthCm"`
	HeightCm    float64   `firestore:"heightCm"`
	WeightGrams int       `firestore:"weightGrams"`
	PhotoURLs   []string  `firestore:"photoUrls,omitempty"`
	RecordedBy  string    `firestore:"recordedBy"`
	RecordedAt  time.Time `firestore:"recordedAt"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, len(order.Items))
	for i, item := range order.Items {
		items[i] = orderItemDocument{
			ProductID:    item.ProductID,
			SKU:          item.SKU,
			Name:         item.Name,
			ImageURL:     item.ImageURL,
			RequestedQty: item.RequestedQty,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Subtotal:     item.Subtotal,
			HSNCode:      item.HSNCode,
		}
	}

	doc := orderDocument{
		Number:        order.Number,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		PaymentMethod: string(order.PaymentMethod),
		Currency:      order.Currency,
		Items:         items,
		Totals: orderTotalsDocument{
			Subtotal:   order.Totals.Subtotal,
			Tax:        order.Totals.Tax,
			TaxPercent: order.Totals.TaxPercent,
			Shipping:   order.Totals.Shipping,
			Discount:   order.Totals.Discount,
			Total:      order.Totals.Total,
		},
		ShippingAddress: newAddressDocument(order.ShippingAddress),
		StockCommitted:  order.StockCommitted,
		CancelReason:    order.CancelReason,
		Metadata:        order.Metadata,
		CreatedAt:       order.CreatedAt.UTC(),
		UpdatedAt:       order.UpdatedAt.UTC(),
		PaidAt:          utcPtr(order.PaidAt),
		ConfirmedAt:     utcPtr(order.ConfirmedAt),
		ShippedAt:       utcPtr(order.ShippedAt),
		DeliveredAt:     utcPtr(order.DeliveredAt),
		CancelledAt:     utcPtr(order.CancelledAt),
	}

	if order.GST != nil {
		doc.GST = &gstSnapshotDocument{
			TaxID:            order.GST.TaxID,
			LegalName:        order.GST.LegalName,
			PlaceOfSupply:    order.GST.PlaceOfSupply,
			TaxPercent:       order.GST.TaxPercent,
			TaxBase:          order.GST.TaxBase,
			TaxAmount:        order.GST.TaxAmount,
			InvoiceRequested: order.GST.InvoiceRequested,
			CapturedAt:       order.GST.CapturedAt.UTC(),
		}
	}
	if order.BillingAddress != nil {
		billing := newAddressDocument(*order.BillingAddress)
		doc.BillingAddress = &billing
	}
	if order.Gateway != nil {
		doc.Gateway = &gatewayIntentDocument{
			Provider:  order.Gateway.Provider,
			IntentID:  order.Gateway.IntentID,
			Amount:    order.Gateway.Amount,
			Currency:  order.Gateway.Currency,
			CreatedAt: order.Gateway.CreatedAt.UTC(),
		}
	}
	if order.ShippingPayment != nil {
		doc.ShippingPayment = newShippingPaymentDocument(*order.ShippingPayment)
	}
	if len(order.Packages) > 0 {
		doc.Packages = make([]packageDocument, len(order.Packages))
		for i, pkg := range order.Packages {
			doc.Packages[i] = packageDocument{
				ID:          pkg.ID,
				LengthCm:    pkg.LengthCm,
				WidthCm:     pkg.WidthCm,
				HeightCm:    pkg.HeightCm,
				WeightGrams: pkg.WeightGrams,
				PhotoURLs:   pkg.PhotoURLs,
				RecordedBy:  pkg.RecordedBy,
				RecordedAt:  pkg.RecordedAt.UTC(),
			}
		}
	}
	return doc
}

func newAddressDocument(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func newShippingPaymentDocument(sp domain.ShippingPayment) *shippingPaymentDocument {
	doc := &shippingPaymentDocument{
		LinkID:     sp.LinkID,
		ShortURL:   sp.ShortURL,
		Amount:     sp.Amount,
		AmountPaid: sp.AmountPaid,
		Status:     string(sp.Status),
		Note:       sp.Note,
		CreatedAt:  sp.CreatedAt.UTC(),
		UpdatedAt:  sp.UpdatedAt.UTC(),
		ExpiresAt:  utcPtr(sp.ExpiresAt),
	}
	if len(sp.Receipts) > 0 {
		doc.Receipts = make([]shippingPaymentReceiptDocument, len(sp.Receipts))
		for i, receipt := range sp.Receipts {
			doc.Receipts[i] = shippingPaymentReceiptDocument{
				PaymentID:  receipt.PaymentID,
				Amount:     receipt.Amount,
				ReceivedAt: receipt.ReceivedAt.UTC(),
			}
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderItem{
			ProductID:    item.ProductID,
			SKU:          item.SKU,
			Name:         item.Name,
			ImageURL:     item.ImageURL,
			RequestedQty: item.RequestedQty,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			Subtotal:     item.Subtotal,
			HSNCode:      item.HSNCode,
		}
	}

	order := domain.Order{
		ID:            id,
		Number:        d.Number,
		UserID:        d.UserID,
		Status:        domain.OrderStatus(d.Status),
		PaymentStatus: domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod: domain.PaymentMethod(d.PaymentMethod),
		Currency:      d.Currency,
		Items:         items,
		Totals: domain.OrderTotals{
			Subtotal:   d.Totals.Subtotal,
			Tax:        d.Totals.Tax,
			TaxPercent: d.Totals.TaxPercent,
			Shipping:   d.Totals.Shipping,
			Discount:   d.Totals.Discount,
			Total:      d.Totals.Total,
		},
		ShippingAddress: d.ShippingAddress.toDomain(),
		StockCommitted:  d.StockCommitted,
		CancelReason:    d.CancelReason,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		PaidAt:          d.PaidAt,
		ConfirmedAt:     d.ConfirmedAt,
		ShippedAt:       d.ShippedAt,
		DeliveredAt:     d.DeliveredAt,
		CancelledAt:     d.CancelledAt,
	}

	if d.GST != nil {
		order.GST = &domain.GSTSnapshot{
			TaxID:            d.GST.TaxID,
			LegalName:        d.GST.LegalName,
			PlaceOfSupply:    d.GST.PlaceOfSupply,
			TaxPercent:       d.GST.TaxPercent,
			TaxBase:          d.GST.TaxBase,
			TaxAmount:        d.GST.TaxAmount,
			InvoiceRequested: d.GST.InvoiceRequested,
			CapturedAt:       d.GST.CapturedAt,
		}
	}
	if d.BillingAddress != nil {
		billing := d.BillingAddress.toDomain()
		order.BillingAddress = &billing
	}
	if d.Gateway != nil {
		order.Gateway = &domain.GatewayIntent{
			Provider:  d.Gateway.Provider,
			IntentID:  d.Gateway.IntentID,
			Amount:    d.Gateway.Amount,
			Currency:  d.Gateway.Currency,
			CreatedAt: d.Gateway.CreatedAt,
		}
	}
	if d.ShippingPayment != nil {
		order.ShippingPayment = d.ShippingPayment.toDomain()
	}
	if len(d.Packages) > 0 {
		order.Packages = make([]domain.ShippingPackage, len(d.Packages))
		for i, pkg := range d.Packages {
			order.Packages[i] = domain.ShippingPackage{
				ID:          pkg.ID,
				LengthCm:    pkg.LengthCm,
				WidthCm:     pkg.WidthCm,
				HeightCm:    pkg.HeightCm,
				WeightGrams: pkg.WeightGrams,
				PhotoURLs:   pkg.PhotoURLs,
				RecordedBy:  pkg.RecordedBy,
				RecordedAt:  pkg.RecordedAt,
			}
		}
	}
	return order
}

func (d addressDocument) toDomain() domain.Address {
	return domain.Address{
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
	}
}

func (d shippingPaymentDocument) toDomain() *domain.ShippingPayment {
	sp := &domain.ShippingPayment{
		LinkID:     d.LinkID,
		ShortURL:   d.ShortURL,
		Amount:     d.Amount,
		AmountPaid: d.AmountPaid,
		Status:     domain.ShippingPaymentStatus(d.Status),
		Note:       d.Note,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		ExpiresAt:  d.ExpiresAt,
	}
	if len(d.Receipts) > 0 {
		sp.Receipts = make([]domain.ShippingPaymentReceipt, len(d.Receipts))
		for i, receipt := range d.Receipts {
			sp.Receipts[i] = domain.ShippingPaymentReceipt{
				PaymentID:  receipt.PaymentID,
				Amount:     receipt.Amount,
				ReceivedAt: receipt.ReceivedAt,
			}
		}
	}
	return sp
}

func utcPtr(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	utc := ts.UTC()
	return &utc
}

func wrapOrderError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return err
	}
	return pfirestore.WrapError(op, err)
}
