// Package gate implements the pay-per-call decision pipeline. Every request
// against the metered API surface is either served from cache, admitted on
// the free tier, charged against a prepaid account, or rejected with
// 402 Payment Required before the business handler runs.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"harbormaster/internal/kv"
	"harbormaster/pkg/ctxkeys"
	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"
)

// Env is handed to business handlers alongside the request. Account is the
// caller's resolved account, nil for anonymous callers.
type Env struct {
	Account *models.Account
	Store   kv.Store
	Logger  logging.Logger
}

// Handler is a business endpoint behind the gate. It returns the raw response
// body; the composer renders it for the negotiated format.
type Handler func(ctx context.Context, req *Request, env Env) (string, error)

// Config carries the gate's tunables, sourced from the environment at boot.
type Config struct {
	FreeLimit      int64
	Window         time.Duration
	PricePerCall   int64
	CacheTTL       time.Duration
	CacheVersion   string
	PaymentLink    string
	HandlerTimeout time.Duration
}

// Gate is the orchestrator. One instance serves the whole metered surface;
// handlers register against exact paths with Route.
type Gate struct {
	cfg      Config
	store    kv.Store
	resolver *Resolver
	limiter  *Limiter
	biller   *Biller
	cache    *Cache
	routes   map[string]Handler
	metrics  *Metrics
	logger   logging.Logger
}

func New(cfg Config, store kv.Store, logger logging.Logger, metrics *Metrics) *Gate {
	return &Gate{
		cfg:      cfg,
		store:    store,
		resolver: NewResolver(store, logger),
		limiter:  NewLimiter(store, cfg.FreeLimit, cfg.Window),
		biller:   NewBiller(store),
		cache:    NewCache(store, cfg.CacheVersion, cfg.CacheTTL, logger),
		routes:   make(map[string]Handler),
		metrics:  metrics,
		logger:   logger,
	}
}

// Route registers a handler for an exact path. Format suffixes are stripped
// before lookup, so "/api/report" also serves "/api/report.html".
func (g *Gate) Route(path string, handler Handler) {
	g.routes[path] = handler
}

// Handle runs the decision pipeline for one request:
//
//	cache check → user state → rate limit or charge → handler → cache store
//
// A cache hit bypasses user-state resolution, rate limiting, and billing
// entirely: a cached response is free and uncounted, even for a caller whose
// quota or balance is exhausted.
func (g *Gate) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	req := Classify(c.Request, c.ClientIP())

	if req.Method == http.MethodOptions {
		for name, value := range corsHeaders() {
			c.Header(name, value)
		}
		c.Status(http.StatusOK)
		return
	}

	handler, ok := g.routes[req.Path]
	if !ok {
		c.JSON(http.StatusNotFound, models.APIError{
			Error:   "not_found",
			Message: "no such endpoint: " + req.Path,
			Status:  http.StatusNotFound,
		})
		return
	}

	// Only GET and HEAD responses are cacheable; the method is not part of
	// the key.
	var cacheKey string
	if (req.Method == http.MethodGet || req.Method == http.MethodHead) && g.cache.Enabled() {
		cacheKey = g.cache.Key(req.Path, req.Query, req.Format)
		if body, hit := g.cache.Get(ctx, cacheKey); hit {
			g.metrics.Decision(outcomeCacheHit)
			g.respond(c, Compose(body, req.Format, CacheHit))
			return
		}
	}

	state := g.resolver.Resolve(ctx, req.Token, req.ClientID)
	env := Env{Store: g.store, Logger: g.logger}

	switch state.Kind {
	case StateAuthenticated:
		account, err := g.biller.Charge(ctx, state.Account.Token, g.cfg.PricePerCall)
		if err != nil {
			g.chargeFailed(c, state, err)
			return
		}
		env.Account = &account
		g.metrics.Decision(outcomeCharged)
		g.metrics.CreditsCharged(g.cfg.PricePerCall)

	case StateAnonymous, StateInsufficientBalance:
		outcome, err := g.limiter.Check(ctx, state.Identity)
		if err != nil {
			g.logger.WithFields(logging.Fields{
				"identity":   state.Identity,
				"request_id": ctxkeys.GetRequestID(ctx),
				"error":      err.Error(),
			}).Error("Rate limit store failure")
			g.metrics.Decision(outcomeStoreError)
			g.paymentRequired(c, "rate_limit_unavailable",
				"The free tier is temporarily unavailable. Purchase credits to continue.")
			return
		}
		if outcome.Verdict == RateExceeded {
			g.metrics.Decision(outcomeRateLimited)
			g.paymentRequired(c, "rate_limit_exceeded", fmt.Sprintf(
				"Free tier limit of %d requests per %d seconds exceeded. Resets at %s, or purchase credits to continue now.",
				g.cfg.FreeLimit, int64(g.cfg.Window.Seconds()), outcome.ResetAt.UTC().Format(time.RFC3339)))
			return
		}
		// Zero-balance accounts ride the free tier; the handler still sees
		// their account.
		env.Account = state.Account
		g.metrics.Decision(outcomeFree)

	default:
		g.logger.WithFields(logging.Fields{"kind": int(state.Kind)}).Error("Unknown user state")
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "internal_error",
			Message: "request could not be classified",
			Status:  http.StatusInternalServerError,
		})
		return
	}

	body, err := g.invoke(ctx, handler, req, env)
	if err != nil {
		g.metrics.Decision(outcomeHandlerError)
		g.logger.WithFields(logging.Fields{
			"path":       req.Path,
			"request_id": ctxkeys.GetRequestID(ctx),
			"error":      err.Error(),
		}).Error("Handler failed")

		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("handler timed out after %s", g.cfg.HandlerTimeout)
		}
		c.JSON(http.StatusInternalServerError, models.APIError{
			Error:   "handler_error",
			Message: message,
			Status:  http.StatusInternalServerError,
		})
		return
	}

	if cacheKey != "" {
		if err := g.cache.Set(ctx, cacheKey, body); err != nil {
			g.logger.WithFields(logging.Fields{
				"key":   cacheKey,
				"error": err.Error(),
			}).Warn("Cache write failed")
			g.metrics.CacheWrite("error")
		} else {
			g.metrics.CacheWrite("ok")
		}
	}

	g.respond(c, Compose(body, req.Format, CacheMiss))
}

// invoke runs the handler under the configured timeout. A handler that
// outlives the deadline is abandoned and its eventual result discarded; a
// panicking handler is reported as an ordinary handler error.
func (g *Gate) invoke(ctx context.Context, handler Handler, req *Request, env Env) (string, error) {
	if g.cfg.HandlerTimeout <= 0 {
		return handler(ctx, req, env)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.HandlerTimeout)
	defer cancel()

	type result struct {
		body string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		body, err := handler(ctx, req, env)
		done <- result{body: body, err: err}
	}()

	select {
	case r := <-done:
		return r.body, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *Gate) chargeFailed(c *gin.Context, state UserState, err error) {
	if errors.Is(err, ErrInsufficientBalance) || errors.Is(err, ErrAccountNotFound) {
		g.metrics.Decision(outcomePaymentRequired)
		g.paymentRequired(c, "insufficient_balance",
			"Your credit balance is exhausted. Top up to continue.")
		return
	}

	g.logger.WithFields(logging.Fields{
		"identity":   state.Identity,
		"request_id": ctxkeys.GetRequestID(c.Request.Context()),
		"error":      err.Error(),
	}).Error("Charge failed")
	g.metrics.Decision(outcomeStoreError)
	g.paymentRequired(c, "billing_unavailable",
		"Billing is temporarily unavailable. Please retry.")
}

// paymentRequired writes the 402 envelope with the configured checkout link
// embedded verbatim.
func (g *Gate) paymentRequired(c *gin.Context, code, message string) {
	c.JSON(http.StatusPaymentRequired, models.APIError{
		Error:       code,
		Message:     message,
		PaymentLink: g.cfg.PaymentLink,
		Status:      http.StatusPaymentRequired,
	})
}

func (g *Gate) respond(c *gin.Context, out Composed) {
	for name, value := range out.Headers {
		c.Header(name, value)
	}
	c.Data(http.StatusOK, out.ContentType, []byte(out.Content))
}
