// Package constants contains shared HTTP header names, cookie names and
// common content type strings used across the service.
package constants

// Header names commonly used across the application.
const (
	// HeaderAccept is the HTTP "Accept" header name.
	HeaderAccept = "Accept"

	// HeaderAuthorization is the HTTP "Authorization" header name.
	HeaderAuthorization = "Authorization"

	// HeaderContentType is the HTTP "Content-Type" header name.
	HeaderContentType = "Content-Type"

	// HeaderReferer is the HTTP "Referer" header name.
	HeaderReferer = "Referer"

	// HeaderUserAgent is the HTTP "User-Agent" header name.
	HeaderUserAgent = "User-Agent"

	// HeaderXRequestID is the custom request ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderXShopDomain carries an explicit shop-domain identity hint.
	HeaderXShopDomain = "X-Shop-Domain"
)

// Cookie names used by the session boundary.
const (
	// SessionCookieName is the signed session cookie set at login.
	SessionCookieName = "storesight_session"
)

// Query parameters recognized as identity hints.
const (
	// ParamShop is the shop-domain query parameter name.
	ParamShop = "shop"

	// ParamForce requests termination of the caller's own session.
	ParamForce = "force"
)

// Common media / content types used in requests and responses.
const (
	// ContentTypeJSON represents "application/json".
	ContentTypeJSON = "application/json"

	// ContentTypeFormURLEncoded represents
	// "application/x-www-form-urlencoded".
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"

	// ContentTypePlainUTF8 represents "text/plain; charset=utf-8".
	ContentTypePlainUTF8 = "text/plain; charset=utf-8"
)
