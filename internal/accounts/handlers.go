package accounts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"harbormaster/pkg/auth"
	"harbormaster/pkg/ctxkeys"
	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"
)

var (
	registry  *Registry
	jwtSecret []byte
	logger    logging.Logger
)

// Init wires the package-level handler dependencies. Called once from main
// before routes are registered.
func Init(r *Registry, secret []byte, log logging.Logger) {
	registry = r
	jwtSecret = secret
	logger = log
}

// RegisterHandler creates an account and returns its API token.
// POST /auth/register
func RegisterHandler(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_request",
			Message: err.Error(),
			Status:  http.StatusBadRequest,
		})
		return
	}

	account, err := registry.Create(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, models.APIError{
				Error:   "email_taken",
				Message: "An account with this email already exists",
				Status:  http.StatusConflict,
			})
			return
		}
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("Registration failed")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "registration_failed",
			Message: "Could not create the account",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	logger.WithFields(logging.Fields{
		"account_id": account.ID,
		"email":      account.Email,
	}).Info("Account registered")

	c.JSON(http.StatusCreated, models.AuthResponse{Token: account.Token, Account: account})
}

// LoginHandler checks credentials and issues a session JWT. The response also
// repeats the API token so clients do not need to store it at registration.
// POST /auth/login
func LoginHandler(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{
			Error:   "invalid_request",
			Message: err.Error(),
			Status:  http.StatusBadRequest,
		})
		return
	}

	ctx := c.Request.Context()
	account, err := registry.GetByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.WithFields(logging.Fields{"error": err.Error()}).Error("Login lookup failed")
		}
		unauthorized(c)
		return
	}
	if !auth.CheckPassword(req.Password, account.PasswordHash) {
		unauthorized(c)
		return
	}

	// Self-healing: a mirror lost at registration time is re-seeded here.
	if err := registry.EnsureMirror(ctx, account); err != nil {
		logger.WithFields(logging.Fields{
			"account_id": account.ID,
			"error":      err.Error(),
		}).Warn("Mirror re-seed failed")
	}

	token, err := auth.GenerateJWT(account.ID, account.Email, jwtSecret)
	if err != nil {
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("JWT generation failed")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "login_failed",
			Message: "Could not create a session",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	account = registry.WithLiveBalance(ctx, account)
	c.JSON(http.StatusOK, models.AuthResponse{JWT: token, Token: account.Token, Account: account})
}

// MeHandler returns the caller's account with the live balance.
// GET /auth/me (JWT)
func MeHandler(c *gin.Context) {
	accountID := ctxkeys.GetAccountID(c.Request.Context())

	account, err := registry.GetByID(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, models.APIError{
				Error:   "not_found",
				Message: "Account no longer exists",
				Status:  http.StatusNotFound,
			})
			return
		}
		logger.WithFields(logging.Fields{"error": err.Error()}).Error("Account lookup failed")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "lookup_failed",
			Message: "Could not load the account",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	account = registry.WithLiveBalance(c.Request.Context(), account)
	c.JSON(http.StatusOK, gin.H{"account": account})
}

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, models.APIError{
		Error:   "invalid_credentials",
		Message: "Invalid email or password",
		Status:  http.StatusUnauthorized,
	})
}
