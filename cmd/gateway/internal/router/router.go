package router

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"kejapay.africa/gateway/ledger"
	"kejapay.africa/gateway/payments"
)

// Manages the entire setup of the Gateway service
type Router struct {
	// Reconciliation sweep interval
	ReconcileInterval time.Duration
	// Payment flow controller
	Payments *payments.Controller
	// Ledger account store
	Accounts ledger.Store
	// Base Gin Group to use for routing
	Base gin.IRoutes
}

const (
	IdParam            = "id"
	PaymentsPath       = "/payments"
	PaymentsPathWithId = PaymentsPath + "/:" + IdParam
	AccountsPath       = "/accounts"
	AccountsPathWithId = AccountsPath + "/:" + IdParam
	MetricsPath        = "/metrics"
)

var attemptTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "kejapay",
	Subsystem: "payments",
	Name:      "attempt_transitions_total",
	Help:      "Durable payment attempt status transitions",
}, []string{"status"})

// Observe feeds controller events into the transition counter. Wire it as
// the controller's OnEvent callback.
func Observe(event payments.Event) {
	attemptTransitions.WithLabelValues(string(event.Status)).Inc()
}

func abortWithStatus(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, payments.ErrInvalidPhone),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrInvalidArgument):
		ctx.AbortWithError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, payments.ErrAttemptInProgress):
		ctx.AbortWithError(http.StatusConflict, err)
	case errors.Is(err, payments.ErrGatewayUnavailable):
		ctx.AbortWithError(http.StatusBadGateway, err)
	case errors.Is(err, payments.ErrAttemptNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		ctx.AbortWithError(http.StatusNotFound, err)
	default:
		ctx.AbortWithError(http.StatusInternalServerError, err)
	}
}

func (r *Router) createPayment(ctx *gin.Context) {
	var initiate Initiate
	err := ctx.BindJSON(&initiate)
	if err != nil {
		ctx.AbortWithError(http.StatusBadRequest, err)
		return
	}

	attempt, err := r.Payments.Initiate(ctx, InitiateToController(&initiate))
	switch {
	case err == nil:
		out := PaymentFromController(&attempt)
		ctx.JSON(http.StatusCreated, &out)
	default:
		abortWithStatus(ctx, err)
	}
}

func (r *Router) paymentStatus(ctx *gin.Context) {
	rawId := ctx.Param(IdParam)
	id, err := uuid.Parse(rawId)
	if err != nil {
		ctx.AbortWithError(http.StatusBadRequest, err)
		return
	}

	attempt, err := r.Payments.Query(id)
	switch {
	case err == nil:
		out := PaymentFromController(&attempt)
		ctx.JSON(http.StatusOK, &out)
	default:
		abortWithStatus(ctx, err)
	}
}

func (r *Router) cancelPayment(ctx *gin.Context) {
	rawId := ctx.Param(IdParam)
	id, err := uuid.Parse(rawId)
	if err != nil {
		ctx.AbortWithError(http.StatusBadRequest, err)
		return
	}

	attempt, err := r.Payments.Cancel(ctx, id)
	switch {
	case err == nil:
		out := PaymentFromController(&attempt)
		ctx.JSON(http.StatusOK, &out)
	default:
		abortWithStatus(ctx, err)
	}
}

func (r *Router) accountStatus(ctx *gin.Context) {
	id := ctx.Param(IdParam)

	account, err := r.Accounts.Load(ctx, id)
	switch {
	case err == nil:
		out := AccountFromLedger(&account)
		ctx.JSON(http.StatusOK, &out)
	default:
		abortWithStatus(ctx, err)
	}
}

// Register routes in the Gin engine and start the reconciliation sweep
func (r *Router) Register() {
	r.Base.POST(PaymentsPath, r.createPayment)
	r.Base.GET(PaymentsPathWithId, r.paymentStatus)
	r.Base.DELETE(PaymentsPathWithId, r.cancelPayment)
	r.Base.GET(AccountsPathWithId, r.accountStatus)
	r.Base.GET(MetricsPath, gin.WrapH(promhttp.Handler()))

	interval := r.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			processed, err := r.Payments.Reconcile(context.Background())
			if err != nil {
				log.Println("ERROR|RECONCILING|ATTEMPTS", err)
			}
			log.Println("INFO|RECONCILED|ATTEMPTS", processed)
			<-ticker.C
		}
	}()
}
