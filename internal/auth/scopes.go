package auth

// Known OAuth scopes used by the progression API.
const (
	ScopeProgressionWrite = "progression:write"
	ScopeProgressionRead  = "progression:read"
)
