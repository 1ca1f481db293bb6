package platform

import "regexp"

// Length limits for fields embedded in node commands.
const (
	MaxContainerNameLen = 115
	MaxImageLen         = 195
	MaxPublicKeyLen     = 495
)

var (
	containerNameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	usernameRe      = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	imageRe         = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]*(:[A-Za-z0-9._-]+)?$`)
)

// ValidContainerName reports whether the name is safe to embed in a node
// command: word characters only, bounded length.
func ValidContainerName(name string) bool {
	return name != "" && len(name) <= MaxContainerNameLen && containerNameRe.MatchString(name)
}

// ValidUsername is the allow-list check applied to usernames before they are
// forwarded to the node agent. Anything outside letters, digits, underscore,
// and hyphen is rejected so no shell metacharacter can reach the node side.
func ValidUsername(name string) bool {
	return name != "" && usernameRe.MatchString(name)
}

// ValidImage reports whether the value looks like a container image
// reference (registry paths and tags allowed, shell metacharacters not).
func ValidImage(image string) bool {
	return image != "" && len(image) <= MaxImageLen && imageRe.MatchString(image)
}

// ValidPublicKey only bounds the length; key material is passed through
// opaque and never interpolated into a command line.
func ValidPublicKey(key string) bool {
	return len(key) <= MaxPublicKeyLen
}
