package rpc

import (
	"net/http"
)

// Config holds the configuration of a mobile-money gateway client.
type Config struct {
	// Base URL of the provider API
	// Example: https://api.provider.example/mpesa
	Url string
	// Custom headers to send
	CustomHeaders map[string]string
	// HTTP Client to use
	Client *http.Client
}
