package runtime

import (
	"strings"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// IsPortInUse reports whether err means the requested external port is
// already bound at the runtime level.
func IsPortInUse(err error) bool {
	return errs.HasKind(err, errs.KindPortInUse)
}

// IsNameInUse reports whether err means the instance name collided.
func IsNameInUse(err error) bool {
	return errs.HasKind(err, errs.KindNameInUse)
}

// IsNotFound reports whether err means no instance matched.
func IsNotFound(err error) bool {
	return errs.HasKind(err, errs.KindNotFound)
}

// portInUseFragments are the daemon messages the backends produce when a host
// port is taken. Matching on message text is unfortunate but the runtimes do
// not return a typed error for this case.
var portInUseFragments = []string{
	"port is already allocated",
	"address already in use",
	"provided port is already allocated",
}

func looksLikePortInUse(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range portInUseFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
