package metrics

import "expvar"

var (
	TokenRefreshes     = expvar.NewInt("token_refreshes")
	TokenRefreshErrors = expvar.NewInt("token_refresh_errors")
	StreamConnects     = expvar.NewInt("stream_connects")
	StreamReconnects   = expvar.NewInt("stream_reconnects")
	StreamFrames       = expvar.NewInt("stream_frames")
	SubscriptionSends  = expvar.NewInt("subscription_sends")
	OrdersPlaced       = expvar.NewInt("orders_placed")
	OrdersCanceled     = expvar.NewInt("orders_canceled")
	OrderErrors        = expvar.NewInt("order_errors")
	BalanceProjections = expvar.NewInt("balance_projections")
	MarginBuyingPower  = expvar.NewFloat("margin_buying_power")
	MarginSellingPower = expvar.NewFloat("margin_selling_power")
	AccountBalance     = expvar.NewFloat("account_balance")
)
