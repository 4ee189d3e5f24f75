package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// BookingService is the part of booking.Service the HTTP API serves.
type BookingService interface {
	SubmitBooking(ctx context.Context, request booking.BookingRequest) (booking.Reservation, error)
	AdminAddBooking(ctx context.Context, request booking.BookingRequest) (booking.Reservation, error)
	DateAvailability(ctx context.Context, date booking.Date) (booking.Availability, error)
	FullDates(ctx context.Context) ([]booking.Date, error)
	ListBookings(ctx context.Context, date booking.Date) ([]booking.Reservation, error)
	SearchBookings(ctx context.Context, query booking.SearchQuery) ([]booking.Reservation, error)
	ExportRange(ctx context.Context, dateRange booking.DateRange) ([]booking.Reservation, error)
	FindBooking(ctx context.Context, requestID booking.RequestID) (booking.Reservation, error)
}

// Run serves the HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg Config, service BookingService, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, service, logger),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(cfg Config, service BookingService, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Origin", "Accept", HeaderIdempotencyKey},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{service: service, logger: logger, timeout: cfg.RequestTimeout}

	api := router.Group("/api")
	api.GET("/occupancy", handler.handleOccupancy)
	api.GET("/full-dates", handler.handleFullDates)
	api.POST("/bookings", handler.handleSubmitBooking)

	admin := api.Group("/admin")
	admin.POST("/bookings", handler.handleAdminAddBooking)
	admin.GET("/bookings", handler.handleListBookings)
	admin.GET("/bookings/request/:request_id", handler.handleFindBooking)
	admin.GET("/export", handler.handleExport)

	return router
}
