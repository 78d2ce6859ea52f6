package config

import "strings"

// Environment identifies the runtime environment the market maker runs in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// VenueKind selects the gateway implementation.
type VenueKind string

const (
	// VenueStockfighter trades against the Stockfighter API.
	VenueStockfighter VenueKind = "stockfighter"
	// VenueFake trades against the in-process matching venue.
	VenueFake VenueKind = "fake"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
