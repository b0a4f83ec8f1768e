package telemetry

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/insightd/internal/config"
)

// ErrMalformedDescriptor is returned by ParseDescriptor for any connection
// string it cannot turn into a usable sink address.
var ErrMalformedDescriptor = errors.New("malformed connection descriptor")

// Transport selects the remote sink implementation.
type Transport string

const (
	TransportOTLPGRPC Transport = "otlp-grpc"
	TransportOTLPHTTP Transport = "otlp-http"
	TransportNATS     Transport = "nats"
)

// Descriptor is a parsed connection string.
type Descriptor struct {
	InstrumentationKey config.Secret
	// Endpoint is host:port for OTLP transports and a full URL for NATS.
	Endpoint  string
	Transport Transport
	Insecure  bool
	// Subject overrides the NATS subject prefix.
	Subject string
}

// ParseDescriptor parses a connection string.
//
// Two forms are accepted. A semicolon separated list of Key=Value pairs:
//
//	InstrumentationKey=00000000-0000-0000-0000-000000000000;IngestionEndpoint=https://collector.example.com:4318
//
// or a bare endpoint:
//
//	nats://127.0.0.1:4222
//	localhost:4317
//
// Keys are case-insensitive. Unknown keys are ignored. The transport is taken
// from the Transport key when present, else inferred from the endpoint scheme:
// nats:// and tls:// select NATS, http:// and https:// select OTLP/HTTP,
// grpc:// or no scheme selects OTLP/gRPC. http:// implies Insecure, and an
// insecure transport is only allowed to loopback endpoints.
func ParseDescriptor(s string) (Descriptor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Descriptor{}, fmt.Errorf("%w: empty", ErrMalformedDescriptor)
	}

	var (
		d            Descriptor
		rawEndpoint  string
		rawTransport string
		rawInsecure  string
	)

	if strings.Contains(s, "=") {
		for _, segment := range strings.Split(s, ";") {
			segment = strings.TrimSpace(segment)
			if segment == "" {
				continue
			}
			key, value, ok := strings.Cut(segment, "=")
			if !ok {
				return Descriptor{}, fmt.Errorf("%w: segment %q has no '='", ErrMalformedDescriptor, segment)
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "instrumentationkey":
				d.InstrumentationKey = config.Secret(value)
			case "ingestionendpoint", "endpoint":
				rawEndpoint = value
			case "transport":
				rawTransport = value
			case "insecure":
				rawInsecure = value
			case "subject":
				d.Subject = value
			}
		}
	} else {
		rawEndpoint = s
	}

	if rawEndpoint == "" {
		return Descriptor{}, fmt.Errorf("%w: no endpoint", ErrMalformedDescriptor)
	}

	inferred, endpoint, impliedInsecure, err := parseEndpoint(rawEndpoint)
	if err != nil {
		return Descriptor{}, err
	}
	d.Transport = inferred
	d.Endpoint = endpoint
	d.Insecure = impliedInsecure

	if rawTransport != "" {
		t, err := parseTransport(rawTransport)
		if err != nil {
			return Descriptor{}, err
		}
		if t == TransportNATS && inferred != TransportNATS {
			d.Endpoint = "nats://" + endpoint
		}
		if t != TransportNATS && inferred == TransportNATS {
			return Descriptor{}, fmt.Errorf("%w: transport %s with NATS endpoint %q", ErrMalformedDescriptor, t, rawEndpoint)
		}
		d.Transport = t
	}

	if rawInsecure != "" {
		v, err := strconv.ParseBool(rawInsecure)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: insecure=%q", ErrMalformedDescriptor, rawInsecure)
		}
		d.Insecure = d.Insecure || v
	}

	if d.Subject != "" {
		if err := validateSubject(d.Subject); err != nil {
			return Descriptor{}, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
		}
	}

	if d.Insecure && !isLocalEndpoint(d.host()) {
		return Descriptor{}, fmt.Errorf("%w: insecure transport to remote endpoint %q is not allowed", ErrMalformedDescriptor, d.host())
	}

	return d, nil
}

// parseEndpoint returns the inferred transport, the normalized endpoint, and
// whether the scheme implies plaintext.
func parseEndpoint(raw string) (Transport, string, bool, error) {
	if !strings.Contains(raw, "://") {
		if strings.ContainsAny(raw, "/ ") {
			return "", "", false, fmt.Errorf("%w: endpoint %q", ErrMalformedDescriptor, raw)
		}
		return TransportOTLPGRPC, raw, false, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: endpoint %q: %v", ErrMalformedDescriptor, raw, err)
	}
	if u.Host == "" {
		return "", "", false, fmt.Errorf("%w: endpoint %q has no host", ErrMalformedDescriptor, raw)
	}

	switch strings.ToLower(u.Scheme) {
	case "nats", "tls":
		return TransportNATS, raw, false, nil
	case "http":
		return TransportOTLPHTTP, u.Host, true, nil
	case "https":
		return TransportOTLPHTTP, u.Host, false, nil
	case "grpc":
		return TransportOTLPGRPC, u.Host, false, nil
	default:
		return "", "", false, fmt.Errorf("%w: unsupported scheme %q", ErrMalformedDescriptor, u.Scheme)
	}
}

func parseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "otlp-grpc", "grpc":
		return TransportOTLPGRPC, nil
	case "otlp-http", "http", "http/protobuf":
		return TransportOTLPHTTP, nil
	case "nats":
		return TransportNATS, nil
	default:
		return "", fmt.Errorf("%w: unknown transport %q", ErrMalformedDescriptor, s)
	}
}

// host returns the endpoint host without port or scheme.
func (d Descriptor) host() string {
	ep := d.Endpoint
	if strings.Contains(ep, "://") {
		if u, err := url.Parse(ep); err == nil {
			ep = u.Host
		}
	}
	if h, _, err := net.SplitHostPort(ep); err == nil {
		return h
	}
	return strings.Trim(ep, "[]")
}

// String describes the descriptor without the instrumentation key.
func (d Descriptor) String() string {
	return fmt.Sprintf("%s://%s (insecure=%t, key=%s)", d.Transport, d.host(), d.Insecure, d.InstrumentationKey)
}

// isLocalEndpoint reports whether host is a loopback name or address.
func isLocalEndpoint(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
