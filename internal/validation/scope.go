package validation

import "regexp"

// Scope token de OAuth 2.0 (RFC 6749 §3.3):
//   scope-token = 1*( %x21 / %x23-5B / %x5D-7E )
// O sea ASCII visible sin comillas dobles ni backslash. Los proveedores
// usan formatos muy distintos ("chat:write", "read:org", "openid",
// "https://www.googleapis.com/auth/drive"), así que no se restringe más.
// Se acota el largo a 256 para cortar configs rotas.
var scopeTokenRe = regexp.MustCompile(`^[\x21\x23-\x5B\x5D-\x7E]{1,256}$`)

// ValidScopeToken reports whether s is a single valid scope token.
func ValidScopeToken(s string) bool {
	return scopeTokenRe.MatchString(s)
}

// InvalidScopes devuelve los scopes que no son tokens válidos, en orden.
func InvalidScopes(scopes []string) []string {
	var bad []string
	for _, s := range scopes {
		if !ValidScopeToken(s) {
			bad = append(bad, s)
		}
	}
	return bad
}
