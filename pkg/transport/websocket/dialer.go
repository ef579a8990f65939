package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

// Endpoint derives the event stream URL from a page origin: the scheme is
// upgraded (http→ws, https→wss) and path replaces any path, query or fragment.
func Endpoint(origin, path string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_ORIGIN", "failed to parse origin")
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_ORIGIN", "unsupported origin scheme").WithDetails(u.Scheme)
	}

	if u.Host == "" {
		return "", errors.New(errors.ErrorTypeValidation, "INVALID_ORIGIN", "origin has no host")
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	u.User = nil
	u.Path = path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// Dialer opens gorilla websocket connections, passing the token as sub-protocol
type Dialer struct {
	logger  *logging.Logger
	options ClientOptions
}

// NewDialer creates a new dialer
func NewDialer(logger *logging.Logger, options ClientOptions) *Dialer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dialer{
		logger:  logger,
		options: options,
	}
}

// Dial implements domain.Dialer. The returned connection is not started.
func (d *Dialer) Dial(ctx context.Context, endpoint, token string) (domain.Conn, error) {
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.options.HandshakeTimeout,
		ReadBufferSize:   d.options.ReadBufferSize,
		WriteBufferSize:  d.options.WriteBufferSize,
	}
	if token != "" {
		wd.Subprotocols = []string{token}
	}

	d.logger.Debug("dialing event stream", "endpoint", endpoint)

	conn, resp, err := wd.DialContext(ctx, endpoint, nil)
	if err != nil {
		e := errors.Wrap(err, errors.ErrorTypeConnection, "DIAL_FAILED", "failed to open connection")
		if resp != nil {
			e.WithDetails(fmt.Sprintf("handshake status %d", resp.StatusCode))
		}
		return nil, e
	}

	id := d.options.ID
	if id == "" {
		id = xid.New().String()
	}

	return NewClient(id, conn, d.logger, d.options), nil
}

var _ domain.Dialer = (*Dialer)(nil)
