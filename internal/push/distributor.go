// Package push builds UnifiedPush endpoints for the embedded FCM
// distributor, so a peer that drops out of radio range can still be woken.
package push

import (
	"errors"
	"net/url"
)

// DefaultProjectNumber is the FCM sender the embedded distributor registers with.
const DefaultProjectNumber = "426689947325"

// ErrMissingToken is returned when no registration token is supplied.
var ErrMissingToken = errors.New("push: registration token is empty")

// Distributor describes an embedded FCM distributor.
type Distributor struct {
	ProjectNumber string
}

// NewDistributor returns a distributor for projectNumber, or the default
// project when it is empty.
func NewDistributor(projectNumber string) Distributor {
	if projectNumber == "" {
		projectNumber = DefaultProjectNumber
	}
	return Distributor{ProjectNumber: projectNumber}
}

// Endpoint returns the push endpoint for a registration token and app
// instance. Both values are query-escaped: an FCM token "abc:APA91b"
// appears as "abc%3AAPA91b", and '&' or '=' in instance cannot split the
// query.
func (d Distributor) Endpoint(token, instance string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	return "Embedded-FCM/FCM?v2&instance=" + url.QueryEscape(instance) +
		"&token=" + url.QueryEscape(token), nil
}
