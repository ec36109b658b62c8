package content

import (
	"net/netip"
	"regexp"
	"strings"
)

// ReservedBucketPrefix may not start a bucket name.
const ReservedBucketPrefix = "jingdong"

var bucketNameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-_]{2,254}$`)

// IsValidBucketName reports whether name follows the bucket naming rules:
// 3 to 255 characters from [a-z0-9.-_] starting with a letter or digit, not
// an IP address and not starting with ReservedBucketPrefix.
func IsValidBucketName(name string) bool {
	if _, err := netip.ParseAddr(name); err == nil {
		return false
	}
	if strings.HasPrefix(name, ReservedBucketPrefix) {
		return false
	}
	return bucketNameRegexp.MatchString(name)
}
