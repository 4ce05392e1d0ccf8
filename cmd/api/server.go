package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"offerflow/auth"
	"offerflow/document"
	"offerflow/metrics"
	"offerflow/offer"
)

// OfferService is the slice of offer.Service the HTTP layer drives.
type OfferService interface {
	Submit(ctx context.Context, params offer.SubmitParams) (offer.Offer, error)
	Get(ctx context.Context, id string, actor auth.Principal) (offer.Offer, error)
	List(ctx context.Context, params offer.ListParams) ([]offer.Offer, error)
	UploadDocument(ctx context.Context, params offer.UploadParams) (offer.UploadResult, error)
	ReadDocument(ctx context.Context, offerID string, actor auth.Principal) (offer.DocumentLink, error)
	Reject(ctx context.Context, params offer.DecisionParams) (offer.Offer, error)
	Accept(ctx context.Context, params offer.DecisionParams) (offer.Offer, error)
	Withdraw(ctx context.Context, params offer.DecisionParams) (offer.Offer, error)
	ConfirmIdentity(ctx context.Context, params offer.DecisionParams) (offer.Offer, error)
}

type TokenVerifier interface {
	VerifyToken(token string) (auth.Principal, error)
}

type DocumentReader interface {
	Get(ctx context.Context, privatePath string) (document.Blob, error)
}

type LinkVerifier interface {
	Verify(token string) (string, error)
}

// Server exposes the offer workflow over HTTP.
type Server struct {
	offers    OfferService
	tokens    TokenVerifier
	documents DocumentReader
	links     LinkVerifier
	metrics   *metrics.Collector
	logger    *zap.Logger
	ping      func(ctx context.Context) error
}

func (s *Server) log() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.MaxMultipartMemory = document.MaxSize + 1<<20

	engine.Use(s.requestContext(), s.recoverPanic())

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", s.handleMetrics)
	engine.GET("/documents/content", s.handleDocumentContent)

	api := engine.Group("/api")
	api.Use(s.requireAuth())
	{
		api.POST("/properties/:id/offers", s.handleSubmitOffer)
		api.GET("/properties/:id/offers/:offerId/document", s.handleDocumentReference)
		api.GET("/offers", s.handleListOffers)
		api.GET("/offers/:id", s.handleGetOffer)
		api.POST("/offers/:id/document", s.handleUploadDocument)
		api.GET("/offers/:id/document", s.handleReadDocument)
		api.POST("/offers/:id/reject", s.decision(s.offers.Reject))
		api.POST("/offers/:id/accept", s.decision(s.offers.Accept))
		api.POST("/offers/:id/withdraw", s.decision(s.offers.Withdraw))
		api.POST("/offers/:id/confirm-identity", s.decision(s.offers.ConfirmIdentity))
	}

	return engine
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.log().Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "up", "name": "offerflow"})
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"counters":  s.metrics.Counters(),
		"latencies": s.metrics.Latencies(),
	})
}
