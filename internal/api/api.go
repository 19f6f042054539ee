// Package api exposes the order, trade, and snapshot command surface
// over HTTP using gin-gonic/gin. Every handler here does request
// parsing and response shaping only; all domain logic lives in
// internal/engine and internal/snapshot.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fenrir/internal/domain"
	"fenrir/internal/engine"
	"fenrir/internal/money"
	"fenrir/internal/repository"
	"fenrir/internal/snapshot"
)

// Server wires the Engine and SnapshotService into a gin.Engine.
type Server struct {
	eng  *engine.Engine
	snap *snapshot.Service
}

// New constructs a Server.
func New(eng *engine.Engine, snap *snapshot.Service) *Server {
	return &Server{eng: eng, snap: snap}
}

// Router builds the gin router with every order/trade/snapshot route
// registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.healthz)
	r.POST("/orders", s.placeOrder)
	r.PATCH("/orders/:id", s.modifyOrder)
	r.DELETE("/orders/:id", s.cancelOrder)
	r.GET("/orders/:id", s.getOrder)
	r.GET("/orders", s.listOrders)
	r.GET("/trades", s.listTrades)
	r.GET("/snapshot", s.getSnapshot)
	r.POST("/trades/:id/settle", s.settleTrade)

	return r
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type placeOrderRequest struct {
	Side     string `json:"side" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Quantity int64  `json:"quantity" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		respondError(c, err)
		return
	}
	price, err := money.ParsePrice(req.Price)
	if err != nil {
		respondError(c, &domain.ValidationError{Field: "price", Reason: err.Error()})
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(c, &domain.ValidationError{Field: "user_id", Reason: "must be a UUID"})
		return
	}

	res, err := s.eng.Place(c.Request.Context(), side, price, req.Quantity, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orderEnvelope(res.Order, res.Trades))
}

type modifyOrderRequest struct {
	NewPrice string `json:"new_price" binding:"required"`
}

func (s *Server) modifyOrder(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req modifyOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, &domain.ValidationError{Field: "body", Reason: err.Error()})
		return
	}
	price, err := money.ParsePrice(req.NewPrice)
	if err != nil {
		respondError(c, &domain.ValidationError{Field: "new_price", Reason: err.Error()})
		return
	}

	res, err := s.eng.Modify(c.Request.Context(), id, price)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_id":  res.Order.ID,
		"new_price": res.Order.Price.String(),
		"status":    res.Order.Status,
	})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	res, err := s.eng.Cancel(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": res.Order.ID, "status": res.Order.Status})
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	order, err := s.eng.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fullOrderEnvelope(order))
}

func (s *Server) listOrders(c *gin.Context) {
	filter := repository.OrderFilter{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if v := c.Query("status"); v != "" {
		status := domain.Status(v)
		filter.Status = &status
	}
	if v := c.Query("side"); v != "" {
		side, err := domain.ParseSide(v)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Side = &side
	}
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			respondError(c, &domain.ValidationError{Field: "user_id", Reason: "must be a UUID"})
			return
		}
		filter.UserID = &id
	}
	if filter.PageSize > 100 {
		respondError(c, &domain.ValidationError{Field: "page_size", Reason: "must not exceed 100"})
		return
	}

	page, err := s.eng.ListOrders(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	orders := make([]gin.H, len(page.Orders))
	for i, o := range page.Orders {
		orders[i] = fullOrderEnvelope(o)
	}
	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": paginationEnvelope(filter.Page, filter.PageSize, page.Total),
	})
}

func (s *Server) listTrades(c *gin.Context) {
	filter := repository.TradeFilter{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	page, err := s.eng.ListTrades(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":     page.Trades,
		"pagination": paginationEnvelope(filter.Page, filter.PageSize, page.Total),
	})
}

func (s *Server) getSnapshot(c *gin.Context) {
	depth := queryInt(c, "depth", 5)
	d, err := s.snap.GetSnapshot(c.Request.Context(), depth)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) settleTrade(c *gin.Context) {
	id, err := parseID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	trade, err := s.eng.SettleTrade(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

func orderEnvelope(o *domain.Order, trades []domain.Trade) gin.H {
	h := gin.H{
		"order_id":           o.ID,
		"status":             o.Status,
		"side":               o.Side.String(),
		"price":              o.Price.String(),
		"quantity":           o.Quantity,
		"remaining_quantity": o.Remaining,
		"traded_quantity":    o.Traded,
		"vwap":               o.VWAP.Value().StringFixed(2),
	}
	if trades != nil {
		h["trades"] = trades
	}
	return h
}

// fullOrderEnvelope is the full Order record: everything orderEnvelope
// carries plus the bookkeeping fields GetOrder/ListOrders promise that
// a place/modify response has no need for.
func fullOrderEnvelope(o *domain.Order) gin.H {
	h := orderEnvelope(o, nil)
	h["is_active"] = o.Active
	h["user_id"] = o.UserID
	h["created_at"] = o.CreatedAt
	h["updated_at"] = o.UpdatedAt
	return h
}

// paginationEnvelope mirrors the page/page_size/total_pages/has_next
// shape of a Django Paginator response.
func paginationEnvelope(page, pageSize, total int) gin.H {
	if pageSize <= 0 {
		pageSize = 20
	}
	if page <= 0 {
		page = 1
	}
	totalPages := (total + pageSize - 1) / pageSize
	return gin.H{
		"page":         page,
		"page_size":    pageSize,
		"total_pages":  totalPages,
		"total_count":  total,
		"has_next":     page*pageSize < total,
		"has_previous": page > 1,
	}
}

func parseID(c *gin.Context, param string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		return uuid.UUID{}, &domain.ValidationError{Field: param, Reason: "must be a UUID"}
	}
	return id, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func respondError(c *gin.Context, err error) {
	var coded domain.CodedError
	if errors.As(err, &coded) {
		c.JSON(coded.Code(), gin.H{"error": coded.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
