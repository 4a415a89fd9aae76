package metrics

import (
	"errors"

	"github.com/code-sigs/svcbox/pkg/errs"
)

func statusOf(err error) (int, bool) {
	var clientErr *errs.ClientRequestError
	if errors.As(err, &clientErr) {
		return clientErr.StatusCode, true
	}
	var unavailable *errs.ServiceUnavailableError
	if errors.As(err, &unavailable) && unavailable.StatusCode > 0 {
		return unavailable.StatusCode, true
	}
	return 0, false
}
