package auth

import "golang.org/x/crypto/bcrypt"

// CheckAdminToken compares a presented admin token against the configured
// bcrypt hash. An empty hash means admin access is disabled.
func CheckAdminToken(hash, token string) bool {
	if hash == "" || token == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
