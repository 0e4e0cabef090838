package constants

// Пути health, ready, metrics и websocket; REST-маршруты доступны и в корне, и под APIPrefix.
const (
	PathHealth  = "/health"
	PathReady   = "/ready"
	PathMetrics = "/metrics"
	PathWS      = "/ws"
	APIPrefix   = "/api"
)
