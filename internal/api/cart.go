package api

import (
	"net/http"
	"time"

	"github.com/xenking/checkout/internal/domain/cart"
)

type cartResponse struct {
	ID                string             `json:"id"`
	MemberID          string             `json:"memberId,omitempty"`
	SessionID         string             `json:"sessionId,omitempty"`
	Status            cart.Status        `json:"status"`
	Items             []cartItemResponse `json:"items"`
	ItemsCount        int                `json:"itemsCount"`
	TotalAmount       int64              `json:"totalAmount"`
	AppliedCouponCode string             `json:"appliedCouponCode,omitempty"`
	CouponDiscount    int64              `json:"couponDiscount,omitempty"`
	ExpiresAt         time.Time          `json:"expiresAt"`
}

type cartItemResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId,omitempty"`
	Quantity    int    `json:"quantity"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	resp := cartResponse{
		ID:                c.ID,
		Status:            c.Status,
		Items:             make([]cartItemResponse, len(c.Items)),
		ItemsCount:        c.ItemsCount,
		TotalAmount:       c.TotalAmount,
		AppliedCouponCode: c.AppliedCouponCode,
		CouponDiscount:    c.CouponDiscount,
		ExpiresAt:         c.ExpiresAt,
	}
	resp.MemberID, _ = c.Owner.Member()
	resp.SessionID, _ = c.Owner.Session()
	for i, it := range c.Items {
		resp.Items[i] = cartItemResponse{
			ID:          it.ID,
			ProductID:   it.ProductID,
			VariationID: it.VariationID,
			Quantity:    it.Quantity,
		}
	}
	return resp
}

type getOrCreateCartRequest struct {
	MemberID  string `json:"memberId"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) getOrCreateCart(w http.ResponseWriter, r *http.Request) {
	var req getOrCreateCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.MemberID == "" {
		req.MemberID = r.Header.Get("X-Member-ID")
	}
	if req.SessionID == "" {
		req.SessionID = r.Header.Get("X-Session-ID")
	}

	owner, err := cart.NewOwner(req.MemberID, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.GetOrCreate(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), r.PathValue("cartID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type addItemRequest struct {
	ProductID   string `json:"productId"`
	VariationID string `json:"variationId"`
	Quantity    int    `json:"quantity"`
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.AddItem(r.Context(), r.PathValue("cartID"), req.ProductID, req.VariationID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// updateCartItem sets the absolute quantity of a line. Quantity 0 removes
// the line, matching the service contract.
func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.UpdateItem(r.Context(), r.PathValue("cartID"), r.PathValue("itemID"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), r.PathValue("cartID"), r.PathValue("itemID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), r.PathValue("cartID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	var req applyCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.carts.ApplyCoupon(r.Context(), r.PathValue("cartID"), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

func (h *Handler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveCoupon(r.Context(), r.PathValue("cartID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
