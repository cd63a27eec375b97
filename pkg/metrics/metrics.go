package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// AuthFailures counts rejected credential presentations by reason
// (invalid_key, revoked_key).
var AuthFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentinel_auth_failures_total",
		Help: "Total number of failed API key validations",
	},
	[]string{"reason"},
)

// RateLimitRejections counts requests denied by the sliding-window limiter.
var RateLimitRejections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "sentinel_rate_limit_rejections_total",
		Help: "Total number of requests rejected by the rate limiter",
	},
)

// TradeAuthorizations counts trade-gate decisions by outcome
// (success, failed, rejected_2fa_required, rejected_2fa_invalid).
var TradeAuthorizations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentinel_trade_authorizations_total",
		Help: "Total number of trade authorization decisions by outcome",
	},
	[]string{"outcome"},
)

// SecondFactorVerifications counts TOTP verification attempts by result.
var SecondFactorVerifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "sentinel_second_factor_verifications_total",
		Help: "Total number of TOTP verification attempts",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(AuthFailures, RateLimitRejections)
	prometheus.MustRegister(TradeAuthorizations, SecondFactorVerifications)
}
