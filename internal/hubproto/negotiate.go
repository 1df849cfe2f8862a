package hubproto

// NegotiateVersion is the negotiate protocol version requested by clients.
const NegotiateVersion = 1

// AvailableTransport is one transport offered by the negotiate endpoint.
type AvailableTransport struct {
	Transport       string   `json:"transport"`
	TransferFormats []string `json:"transferFormats"`
}

// NegotiateResponse is returned by POST {hub}/negotiate.
//
// When URL is set the client must repeat negotiation against that URL,
// presenting AccessToken as a bearer token.
type NegotiateResponse struct {
	ConnectionID        string               `json:"connectionId,omitempty"`
	ConnectionToken     string               `json:"connectionToken,omitempty"`
	NegotiateVersion    int                  `json:"negotiateVersion"`
	AvailableTransports []AvailableTransport `json:"availableTransports,omitempty"`
	URL                 string               `json:"url,omitempty"`
	AccessToken         string               `json:"accessToken,omitempty"`
	Error               string               `json:"error,omitempty"`
}

// SupportsWebSockets reports whether the server offered the websocket
// transport with text frames.
func (r NegotiateResponse) SupportsWebSockets() bool {
	if len(r.AvailableTransports) == 0 {
		return true
	}
	for _, t := range r.AvailableTransports {
		if t.Transport != "WebSockets" {
			continue
		}
		for _, f := range t.TransferFormats {
			if f == "Text" {
				return true
			}
		}
	}
	return false
}

// Token returns the id the client should present when opening the
// websocket. Version 0 servers only hand out a connection id.
func (r NegotiateResponse) Token() string {
	if r.ConnectionToken != "" {
		return r.ConnectionToken
	}
	return r.ConnectionID
}
