package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

type CallAction string

const (
	CallActionReject  CallAction = "reject"
	CallActionConnect CallAction = "connect"
	CallActionHangup  CallAction = "hangup"
)

// CallRoute is what the webhook decided to do with an inbound call.
type CallRoute struct {
	Action CallAction

	// ConnectTo is a sip: URI or an E.164 number. Used when Action is connect.
	ConnectTo string

	// RejectReason is "busy" or "rejected". Empty means busy.
	RejectReason string
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Number  string    `xml:"Number,omitempty"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// RenderTwiML maps a CallRoute to a TwiML document.
func RenderTwiML(route CallRoute) (string, error) {
	var r twimlResponse

	switch route.Action {
	case CallActionReject:
		reason := route.RejectReason
		if reason == "" {
			reason = "busy"
		}
		r.Verbs = append(r.Verbs, twimlReject{Reason: reason})
	case CallActionHangup:
		r.Verbs = append(r.Verbs, twimlHangup{})
	case CallActionConnect:
		if strings.TrimSpace(route.ConnectTo) == "" {
			return "", errors.New("telephony: connect_to required for connect action")
		}
		d := twimlDial{}
		if strings.HasPrefix(strings.ToLower(route.ConnectTo), "sip:") {
			d.Sip = &twimlSip{URI: route.ConnectTo}
		} else {
			d.Number = route.ConnectTo
		}
		r.Verbs = append(r.Verbs, d)
	default:
		return "", errors.New("telephony: unknown call action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
