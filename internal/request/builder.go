// Package request turns a DeclineRequest into the HTTP request the remote
// endpoint expects. Everything here is pure: no I/O, no clocks.
package request

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"decline-notifier/internal/model"
)

// Variant selects the wire shape used by a deployment.
type Variant string

const (
	// VariantGetTest sends GET {base}/test-api/ with no body.
	VariantGetTest Variant = "get-test"
	// VariantPostEmpty sends POST {base}/calls/{id}/decline with an empty JSON body.
	VariantPostEmpty Variant = "post-empty"
	// VariantPostBody sends POST {base}/calls/{id}/decline with receiver_id and action_token.
	VariantPostBody Variant = "post-body"
)

const (
	testPath      = "/test-api/"
	callsPrefix   = "/calls/"
	declineSuffix = "/decline"

	ContentTypeJSON = "application/json"
)

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantGetTest, VariantPostEmpty, VariantPostBody:
		return v, nil
	case "":
		return VariantPostBody, nil
	default:
		return "", errors.Wrapf(model.ErrValidation, "unknown request variant %q", s)
	}
}

// Wire is the transport-independent description of one outbound request.
type Wire struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
}

// HasBody reports whether the request carries an entity, even an empty one.
func (w Wire) HasBody() bool {
	return w.ContentType != ""
}

// Builder builds Wire requests for a fixed variant.
type Builder struct {
	Variant Variant
}

func NewBuilder(v Variant) Builder {
	return Builder{Variant: v}
}

// Build returns the wire request for req. The only failure is a validation
// error; building the same request twice yields identical output.
func (b Builder) Build(req model.DeclineRequest) (Wire, error) {
	if err := req.Validate(); err != nil {
		return Wire{}, err
	}
	base := strings.TrimRight(req.BaseURL, "/")
	declineURL := base + callsPrefix + url.PathEscape(req.CallID) + declineSuffix

	switch b.Variant {
	case VariantGetTest:
		return Wire{Method: http.MethodGet, URL: base + testPath}, nil
	case VariantPostEmpty:
		return Wire{Method: http.MethodPost, URL: declineURL, Body: []byte{}, ContentType: ContentTypeJSON}, nil
	case VariantPostBody, "":
		return Wire{
			Method:      http.MethodPost,
			URL:         declineURL,
			Body:        declineBody(req.ReceiverID, req.ActionToken),
			ContentType: ContentTypeJSON,
		}, nil
	default:
		return Wire{}, errors.Wrapf(model.ErrValidation, "unknown request variant %q", string(b.Variant))
	}
}

func declineBody(receiverID, actionToken string) []byte {
	var sb strings.Builder
	sb.WriteString(`{"receiver_id":"`)
	sb.WriteString(EscapeJSON(receiverID))
	sb.WriteString(`","action_token":"`)
	sb.WriteString(EscapeJSON(actionToken))
	sb.WriteString(`"}`)
	return []byte(sb.String())
}

// EscapeJSON escapes s for embedding inside a JSON string literal. Backslash
// is handled before anything that introduces one, so nothing is escaped twice.
func EscapeJSON(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(&sb, `\u%04x`, r)
				continue
			}
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
