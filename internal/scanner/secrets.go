package scanner

import "regexp"

// secretPatterns matches common credential-like token prefixes and
// shapes. It is a basic regex detector, not a full entropy analysis —
// good enough to keep obvious secrets out of the index without dragging
// in a dedicated secret-scanning dependency.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),                  // AWS access key id
	regexp.MustCompile(`ghp_[0-9A-Za-z]{36}`),                // GitHub personal access token
	regexp.MustCompile(`github_pat_[0-9A-Za-z_]{22,}`),       // GitHub fine-grained token
	regexp.MustCompile(`xox[baprs]-[0-9A-Za-z-]{10,}`),       // Slack token
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), // PEM private key block
	regexp.MustCompile(`eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`), // JWT
	regexp.MustCompile(`(?i)(?:api[_-]?key|secret|token)["'\s:=]{1,4}[A-Za-z0-9_\-]{20,}`),
	regexp.MustCompile(`[A-Za-z0-9+/]{32,}={0,2}`), // generic high-entropy base64 run
}

// ContainsCredentials reports whether content contains a credential-like
// string, per any of secretPatterns. Files that match are skipped
// entirely during indexing: no chunks produced, error recorded.
func ContainsCredentials(content []byte) bool {
	for _, p := range secretPatterns {
		if p.Match(content) {
			return true
		}
	}
	return false
}
