// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityRead                        // rental_status:read role required
	SecurityAdmin                       // rental_status:admin role required
)

// Route names registered on the admin HTTP router.
const (
	RouteHealth         = "Health"
	RouteRecompute      = "RecomputeRental"
	RouteReturn         = "RecordReturn"
	RouteExtend         = "ExtendRental"
	RouteHistory        = "StatusHistory"
	RoutePreview        = "PreviewChanges"
	RouteOverdueSummary = "OverdueSummary"
	RouteBatch          = "BatchRecompute"
)

// EndpointSecurityConfig maps route names to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	RouteHealth: SecurityPublic,

	// Read Protected
	RouteHistory:        SecurityRead,
	RoutePreview:        SecurityRead,
	RouteOverdueSummary: SecurityRead,

	// Admin Protected
	RouteRecompute: SecurityAdmin,
	RouteReturn:    SecurityAdmin,
	RouteExtend:    SecurityAdmin,
	RouteBatch:     SecurityAdmin,
}

// GetSecurityLevel returns the security level for a given route
func GetSecurityLevel(route string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[route]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityAdmin
}
