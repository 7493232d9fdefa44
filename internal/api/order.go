package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/xenking/checkout/internal/domain/catalog"
	"github.com/xenking/checkout/internal/domain/fault"
	"github.com/xenking/checkout/internal/domain/order"
	"github.com/xenking/checkout/internal/domain/pricing"
)

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a addressPayload) toDomain() order.Address {
	return order.Address{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func toAddressPayload(a order.Address) addressPayload {
	return addressPayload{
		Recipient:  a.Recipient,
		Phone:      a.Phone,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		Region:     a.Region,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type createOrderRequest struct {
	CartID          string             `json:"cartId"`
	CustomerID      string             `json:"customerId"`
	Items           []orderItemRequest `json:"items"`
	ShippingAddress addressPayload     `json:"shippingAddress"`
	BillingAddress  addressPayload     `json:"billingAddress"`
	ShippingMethod  string             `json:"shippingMethod"`
	PaymentMethod   string             `json:"paymentMethod"`
	CouponCode      string             `json:"couponCode"`
	PointsUsed      int64              `json:"pointsUsed"`
}

type orderItemRequest struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId"`
	Quantity    int    `json:"quantity"`
}

type orderResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	CustomerID  string `json:"customerId"`

	Status         order.Status         `json:"status"`
	PaymentStatus  order.PaymentStatus  `json:"paymentStatus"`
	ShippingStatus order.ShippingStatus `json:"shippingStatus"`

	Subtotal    int64 `json:"subtotal"`
	Tax         int64 `json:"tax"`
	ShippingFee int64 `json:"shippingFee"`
	Discount    int64 `json:"discount"`
	PointsValue int64 `json:"pointsValue"`
	Total       int64 `json:"total"`

	CouponCode   string `json:"couponCode,omitempty"`
	PointsEarned int64  `json:"pointsEarned"`
	PointsUsed   int64  `json:"pointsUsed"`

	ShippingMethod  string         `json:"shippingMethod"`
	PaymentMethod   string         `json:"paymentMethod"`
	ShippingAddress addressPayload `json:"shippingAddress"`
	BillingAddress  addressPayload `json:"billingAddress"`

	Items []orderItemResponse `json:"items"`

	OrderDate   time.Time  `json:"orderDate"`
	PaidAt      *time.Time `json:"paidAt,omitempty"`
	ShippedAt   *time.Time `json:"shippedAt,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`
}

type orderItemResponse struct {
	ID          string             `json:"id"`
	ProductID   string             `json:"productId"`
	VariationID string             `json:"variationId,omitempty"`
	Name        string             `json:"name"`
	SKU         string             `json:"sku"`
	Image       string             `json:"image,omitempty"`
	Attributes  catalog.Attributes `json:"attributes,omitempty"`
	UnitPrice   int64              `json:"unitPrice"`
	Quantity    int                `json:"quantity"`
	TotalPrice  int64              `json:"totalPrice"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		ShippingStatus:  o.ShippingStatus,
		Subtotal:        o.Subtotal,
		Tax:             o.Tax,
		ShippingFee:     o.ShippingFee,
		Discount:        o.Discount,
		PointsValue:     o.PointsValue,
		Total:           o.Total,
		CouponCode:      o.CouponCode,
		PointsEarned:    o.PointsEarned,
		PointsUsed:      o.PointsUsed,
		ShippingMethod:  string(o.ShippingMethod),
		PaymentMethod:   o.PaymentMethod,
		ShippingAddress: toAddressPayload(o.ShippingAddress),
		BillingAddress:  toAddressPayload(o.BillingAddress),
		Items:           make([]orderItemResponse, len(o.Items)),
		OrderDate:       o.OrderDate,
		PaidAt:          o.PaidAt,
		ShippedAt:       o.ShippedAt,
		DeliveredAt:     o.DeliveredAt,
		CancelledAt:     o.CancelledAt,
		RefundedAt:      o.RefundedAt,
	}
	for i, it := range o.Items {
		resp.Items[i] = orderItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Name:        it.Name,
			SKU:         it.SKU,
			Image:       it.Image,
			Attributes:  it.Attributes,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			TotalPrice:  it.TotalPrice,
		}
	}
	return resp
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]order.RequestItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.RequestItem{
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
		}
	}

	o, err := h.factory.CreateOrder(r.Context(), order.CreateRequest{
		CartID:          req.CartID,
		CustomerID:      req.CustomerID,
		Items:           items,
		ShippingAddress: req.ShippingAddress.toDomain(),
		BillingAddress:  req.BillingAddress.toDomain(),
		ShippingMethod:  pricing.ShippingMethod(req.ShippingMethod),
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      req.CouponCode,
		PointsUsed:      req.PointsUsed,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetByID(r.Context(), r.PathValue("orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	orders, total, err := h.orders.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := listOrdersResponse{
		Orders: make([]orderResponse, len(orders)),
		Total:  total,
		Page:   f.Page,
		Limit:  f.Limit,
	}
	for i := range orders {
		resp.Orders[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseListFilter(r *http.Request) (order.ListFilter, error) {
	q := r.URL.Query()
	f := order.ListFilter{
		CustomerID: q.Get("customerId"),
		Search:     q.Get("search"),
		Sort:       q.Get("sort"),
	}

	if v := q.Get("status"); v != "" {
		s := order.Status(v)
		f.Status = &s
	}
	if v := q.Get("paymentStatus"); v != "" {
		s := order.PaymentStatus(v)
		f.PaymentStatus = &s
	}
	if v := q.Get("shippingStatus"); v != "" {
		s := order.ShippingStatus(v)
		f.ShippingStatus = &s
	}

	for name, dst := range map[string]**time.Time{"from": &f.From, "to": &f.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fault.Validation("%s: expected RFC 3339 timestamp", name)
		}
		*dst = &t
	}

	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, fault.Validation("%s: expected integer", name)
		}
		*dst = n
	}

	return f, nil
}

type updateOrderStatusRequest struct {
	Status         *order.Status         `json:"status"`
	PaymentStatus  *order.PaymentStatus  `json:"paymentStatus"`
	ShippingStatus *order.ShippingStatus `json:"shippingStatus"`
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == nil && req.PaymentStatus == nil && req.ShippingStatus == nil {
		writeError(w, r, fault.Validation("at least one status field required"))
		return
	}

	o, err := h.orders.UpdateStatus(r.Context(), r.PathValue("orderID"), order.StatusChange{
		Status:         req.Status,
		PaymentStatus:  req.PaymentStatus,
		ShippingStatus: req.ShippingStatus,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("orderID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
