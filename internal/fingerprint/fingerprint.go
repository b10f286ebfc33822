// Package fingerprint derives a device identity from HTTP request headers.
//
// The fingerprint is what the device registry matches against: OS name plus
// version when the user agent exposes them, falling back to the raw user
// agent string otherwise.
package fingerprint

import (
	"net/http"

	"github.com/mileusna/useragent"
)

// Fingerprint describes the client device as seen in a single request.
type Fingerprint struct {
	OS        string `json:"os,omitempty"`
	OSVersion string `json:"os_version,omitempty"`
	Model     string `json:"model,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Parse extracts a fingerprint from a raw User-Agent value. An empty input
// yields a zero fingerprint.
func Parse(rawUA string) Fingerprint {
	if rawUA == "" {
		return Fingerprint{}
	}

	ua := useragent.Parse(rawUA)
	return Fingerprint{
		OS:        ua.OS,
		OSVersion: ua.OSVersion,
		Model:     ua.Device,
		UserAgent: rawUA,
	}
}

// FromRequest extracts a fingerprint from the request's User-Agent header.
func FromRequest(r *http.Request) Fingerprint {
	return Parse(r.UserAgent())
}

// HasOS reports whether the fingerprint carries both an OS name and version,
// the preferred matching key for the device registry.
func (f Fingerprint) HasOS() bool {
	return f.OS != "" && f.OSVersion != ""
}

// IsZero reports whether no identifying information was extracted.
func (f Fingerprint) IsZero() bool {
	return f.OS == "" && f.OSVersion == "" && f.Model == "" && f.UserAgent == ""
}
