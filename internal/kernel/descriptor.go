package kernel

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
)

// Transports understood by ParseDescriptor.
const (
	TransportTCP    = "tcp"
	TransportIPC    = "ipc"
	TransportDocker = "docker"
	TransportHTTP   = "http"
)

// Descriptor is a parsed kernel connection descriptor.
//
// tcp and ipc descriptors follow the Jupyter connection file layout. docker descriptors
// name a running container; http descriptors point at an external adapter process.
type Descriptor struct {
	Transport string `json:"transport"`

	// Jupyter connection file fields
	IP              string `json:"ip,omitempty"`
	ShellPort       int    `json:"shell_port,omitempty"`
	IOPubPort       int    `json:"iopub_port,omitempty"`
	StdinPort       int    `json:"stdin_port,omitempty"`
	ControlPort     int    `json:"control_port,omitempty"`
	HBPort          int    `json:"hb_port,omitempty"`
	Key             string `json:"key,omitempty"`
	SignatureScheme string `json:"signature_scheme,omitempty"`
	KernelName      string `json:"kernel_name,omitempty"`

	// docker
	Container string   `json:"container,omitempty"`
	Argv      []string `json:"argv,omitempty"`

	// http
	URL string `json:"url,omitempty"`
}

// ParseDescriptor decodes and validates raw. Every failure wraps store.ErrInvalidDescriptor.
func ParseDescriptor(raw []byte) (Descriptor, error) {
	var d Descriptor
	if len(bytes.TrimSpace(raw)) == 0 {
		return d, invalid("empty descriptor")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return d, invalid("%v", err)
	}
	d.Transport = strings.ToLower(strings.TrimSpace(d.Transport))

	return d, d.Validate()
}

// Validate checks the fields required by the descriptor's transport.
func (d Descriptor) Validate() error {
	switch d.Transport {
	case TransportTCP, TransportIPC:
		if strings.TrimSpace(d.IP) == "" {
			return invalid("ip is required for %s transport", d.Transport)
		}
		ports := []struct {
			name string
			port int
		}{
			{"shell_port", d.ShellPort},
			{"iopub_port", d.IOPubPort},
			{"stdin_port", d.StdinPort},
			{"control_port", d.ControlPort},
			{"hb_port", d.HBPort},
		}
		for _, p := range ports {
			if p.port < 1 || p.port > 65535 {
				return invalid("%s must be between 1 and 65535, got %d", p.name, p.port)
			}
		}
		if d.SignatureScheme != "" && !strings.HasPrefix(d.SignatureScheme, "hmac-") {
			return invalid("unsupported signature_scheme %q", d.SignatureScheme)
		}
	case TransportDocker:
		if strings.TrimSpace(d.Container) == "" {
			return invalid("container is required for docker transport")
		}
	case TransportHTTP:
		u, err := url.Parse(d.URL)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("url must be an absolute http(s) URL, got %q", d.URL)
		}
	case "":
		return invalid("transport is required")
	default:
		return invalid("unknown transport %q", d.Transport)
	}
	return nil
}

// Canonical returns the descriptor re-encoded without insignificant whitespace.
func (d Descriptor) Canonical() []byte {
	out, _ := json.Marshal(d)
	return out
}
