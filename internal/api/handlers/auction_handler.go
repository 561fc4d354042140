package handlers

import (
	"context"
	"errors"
	"net/http"

	"block-auction/internal/api/middleware"
	"block-auction/internal/domain"
	"block-auction/internal/services"
	"block-auction/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

// AuctionService is the part of the auction manager the API drives.
type AuctionService interface {
	CreateAuction(ctx context.Context, cfg domain.AuctionConfig) (*domain.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidder string, amount decimal.Decimal) (*domain.Bid, domain.Phase, error)
	Finalize(ctx context.Context, auctionID string) (*domain.FinalResult, error)
	Status(ctx context.Context, auctionID string) (domain.Phase, uint64, error)
	GetAuction(ctx context.Context, auctionID string) (*services.AuctionView, error)
}

type AuctionHandler struct {
	auctions AuctionService
	log      logger.Logger
}

type CreateAuctionRequest struct {
	ItemRef       string          `json:"item_ref"`
	MinBid        decimal.Decimal `json:"min_bid"`
	StartStep     uint64          `json:"start_step"`
	OpeningLength uint64          `json:"opening_length"`
	EndingLength  uint64          `json:"ending_length"`
}

type CreateAuctionResponse struct {
	AuctionID string               `json:"auction_id"`
	Config    domain.AuctionConfig `json:"config"`
	CreatedAt uint64               `json:"created_at_step"`
	EndStep   uint64               `json:"end_step"`
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type PlaceBidResponse struct {
	AuctionID string      `json:"auction_id"`
	Phase     string      `json:"phase"`
	Leader    *domain.Bid `json:"leader"`
}

type StatusResponse struct {
	AuctionID string `json:"auction_id"`
	Step      uint64 `json:"step"`
	Phase     string `json:"phase"`
	Kind      string `json:"kind"`
	Slot      uint64 `json:"slot,omitempty"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Required string `json:"required,omitempty"`
}

func NewAuctionHandler(auctions AuctionService, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		log:      log,
	}
}

// RegisterRoutes mounts the auction API on g. Mutating routes require a caller identity.
func (h *AuctionHandler) RegisterRoutes(g *echo.Group) {
	identity := middleware.Identity()

	g.POST("/auctions", h.CreateAuction, identity)
	g.GET("/auctions/:id", h.GetAuction)
	g.GET("/auctions/:id/status", h.GetStatus)
	g.POST("/auctions/:id/bids", h.PlaceBid, identity)
	g.POST("/auctions/:id/finalize", h.Finalize)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	var req CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Warn("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}

	cfg := domain.AuctionConfig{
		Seller:        middleware.Caller(c),
		ItemRef:       req.ItemRef,
		MinBid:        req.MinBid,
		StartStep:     req.StartStep,
		OpeningLength: req.OpeningLength,
		EndingLength:  req.EndingLength,
	}

	auction, err := h.auctions.CreateAuction(c.Request().Context(), cfg)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusCreated, CreateAuctionResponse{
		AuctionID: auction.ID,
		Config:    auction.Config,
		CreatedAt: auction.CreatedAt,
		EndStep:   auction.Config.EndStep(),
	})
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	view, err := h.auctions.GetAuction(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *AuctionHandler) GetStatus(c echo.Context) error {
	auctionID := c.Param("id")
	phase, step, err := h.auctions.Status(c.Request().Context(), auctionID)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusOK, StatusResponse{
		AuctionID: auctionID,
		Step:      step,
		Phase:     phase.String(),
		Kind:      phase.Kind.String(),
		Slot:      phase.Slot,
	})
}

func (h *AuctionHandler) PlaceBid(c echo.Context) error {
	auctionID := c.Param("id")

	var req PlaceBidRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	if req.Amount.IsNegative() {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "amount must not be negative"})
	}

	leader, phase, err := h.auctions.PlaceBid(c.Request().Context(), auctionID, middleware.Caller(c), req.Amount)
	if err != nil {
		return h.writeError(c, err)
	}

	return c.JSON(http.StatusAccepted, PlaceBidResponse{
		AuctionID: auctionID,
		Phase:     phase.String(),
		Leader:    leader,
	})
}

func (h *AuctionHandler) Finalize(c echo.Context) error {
	result, err := h.auctions.Finalize(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *AuctionHandler) writeError(c echo.Context, err error) error {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "path", c.Path(), "error", err)
	}
	return c.JSON(status, resp)
}

var errorStatus = map[string]int{
	"insufficient_bid":    http.StatusUnprocessableEntity,
	"non_increasing_bid":  http.StatusUnprocessableEntity,
	"invalid_config":      http.StatusBadRequest,
	"not_found":           http.StatusNotFound,
	"auction_not_active":  http.StatusConflict,
	"checkpoint_resolved": http.StatusConflict,
	"step_regression":     http.StatusConflict,
	"too_early":           http.StatusConflict,
	"already_finalized":   http.StatusConflict,
	"not_leader":          http.StatusServiceUnavailable,
}

func errorResponse(err error) (int, ErrorResponse) {
	code := domain.ErrorCode(err)
	status, ok := errorStatus[code]
	if !ok {
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}

	resp := ErrorResponse{Error: err.Error(), Code: code}
	var insufficient *domain.InsufficientBidError
	if errors.As(err, &insufficient) {
		resp.Required = insufficient.Required.String()
	}
	return status, resp
}
