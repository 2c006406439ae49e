package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dairyworks/milkbook/internal/auth"
	"github.com/dairyworks/milkbook/internal/session"
	"github.com/dairyworks/milkbook/pkg/billing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// IdentityVerifier validates an external ID token on login.
type IdentityVerifier interface {
	Verify(ctx context.Context, rawToken string) (auth.Identity, error)
}

// Server is the HTTP facade over the billing service and the session layer.
type Server struct {
	cfg      Config
	billing  *billing.Service
	sessions session.Store
	writer   *session.Writer
	issuer   *session.TokenIssuer
	verifier IdentityVerifier
	logger   *zap.Logger
	router   *gin.Engine
}

// New wires a Server and its routes.
func New(cfg Config, billingService *billing.Service, sessions session.Store, writer *session.Writer, issuer *session.TokenIssuer, verifier IdentityVerifier, logger *zap.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if billingService == nil {
		return nil, fmt.Errorf("billing service is required")
	}
	if issuer == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		cfg:      cfg,
		billing:  billingService,
		sessions: sessions,
		writer:   writer,
		issuer:   issuer,
		verifier: verifier,
		logger:   logger,
	}
	server.router = server.setupRouter()
	return server, nil
}

// Router exposes the gin engine, mainly for tests.
func (server *Server) Router() *gin.Engine {
	return server.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.router,
	}
	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("milkbook api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/login", server.handleLogin)

	api := router.Group("/api")
	api.Use(server.authGuard())

	api.POST("/logout", server.handleLogout)

	api.GET("/customers", server.handleListCustomers)
	api.PUT("/customers/:customerID", server.handleUpsertCustomer)
	api.GET("/customers/:customerID", server.handleGetCustomer)
	api.DELETE("/customers/:customerID", server.handleRemoveCustomer)

	api.PUT("/customers/:customerID/entries/:date", server.handleUpsertEntry)
	api.GET("/customers/:customerID/entries/:date", server.handleGetEntry)
	api.DELETE("/customers/:customerID/entries/:date", server.handleDeleteEntry)
	api.GET("/customers/:customerID/entries", server.handleListEntries)

	api.POST("/customers/:customerID/bills", server.handleUpsertBillForRange)
	api.GET("/customers/:customerID/bills", server.handleListBills)
	api.DELETE("/customers/:customerID/bills", server.handleClearBills)
	api.POST("/customers/:customerID/bills/:billID/payments", server.handleAddPayment)
	api.PUT("/customers/:customerID/bills/:billID/paid", server.handleSetPaidAmount)
	api.DELETE("/customers/:customerID/bills/:billID", server.handleDeleteBill)
	api.GET("/customers/:customerID/locked-dates", server.handleLockedDates)

	return router
}

// authGuard verifies the session token from the cookie or bearer header.
// Unauthenticated browser navigation is redirected to the login surface;
// API calls get a 401.
func (server *Server) authGuard() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw := server.sessionTokenFromRequest(ctx)
		if raw == "" {
			server.rejectUnauthenticated(ctx)
			return
		}
		claims, err := server.issuer.Verify(raw)
		if err != nil {
			server.rejectUnauthenticated(ctx)
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func (server *Server) sessionTokenFromRequest(ctx *gin.Context) string {
	if cookie, err := ctx.Cookie(server.cfg.SessionCookieName); err == nil && cookie != "" {
		return cookie
	}
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func (server *Server) rejectUnauthenticated(ctx *gin.Context) {
	if ctx.Request.Method == http.MethodGet && strings.Contains(ctx.GetHeader("Accept"), "text/html") {
		ctx.Redirect(http.StatusFound, server.cfg.LoginURL)
		ctx.Abort()
		return
	}
	ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing or invalid session"))
}

func getClaims(ctx *gin.Context) (session.Claims, bool) {
	value, exists := ctx.Get(claimsContextKey)
	if !exists {
		return session.Claims{}, false
	}
	claims, ok := value.(session.Claims)
	return claims, ok
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": message}}
}
